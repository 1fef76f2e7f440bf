package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// encode converts a value into the bytes stored in remote tiers. Serialized
// types are JSON-encoded; raw types must already be a string or byte slice.
func encode(cfg Config, value any) ([]byte, error) {
	if cfg.Serialize {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, cfg.Name, err)
		}
		return data, nil
	}

	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %s stores raw values, got %T", ErrSerialization, cfg.Name, value)
	}
}

// decode converts remote bytes back into a value. Serialized types decode into
// generic JSON values (maps, slices, float64, ...); raw types decode to string.
func decode(cfg Config, data []byte) (any, error) {
	if !cfg.Serialize {
		return string(data), nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, cfg.Name, err)
	}
	return v, nil
}

// As converts a cached value into T. Values that were promoted from a remote
// tier come back as generic JSON and are re-decoded into T.
func As[T any](value any) (T, error) {
	var out T
	if v, ok := value.(T); ok {
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return out, nil
}

// GetAs reads key and converts the value into T.
// found is false on a miss; err is set only for configuration or conversion errors.
func GetAs[T any](ctx context.Context, m *Manager, key, dataType string) (value T, found bool, err error) {
	raw, found, err := m.Get(ctx, key, dataType)
	if err != nil || !found {
		return value, false, err
	}
	value, err = As[T](raw)
	if err != nil {
		return value, false, err
	}
	return value, true, nil
}
