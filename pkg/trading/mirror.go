package trading

import (
	"sort"
	"sync"
	"time"
)

type mirrorEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// mirror is an in-process map with per-entry expiry that fronts the cache
// manager without serialization.
type mirror[T any] struct {
	now func() time.Time

	mu    sync.RWMutex
	items map[string]mirrorEntry[T]
}

func newMirror[T any](now func() time.Time) *mirror[T] {
	return &mirror[T]{now: now, items: make(map[string]mirrorEntry[T])}
}

func (m *mirror[T]) get(key string) (T, bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()

	var zero T
	if !ok {
		return zero, false
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		if cur, still := m.items[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

func (m *mirror[T]) set(key string, value T, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = mirrorEntry[T]{value: value, expiresAt: m.now().Add(ttl)}
}

func (m *mirror[T]) delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	delete(m.items, key)
	return ok
}

// deleteFunc removes entries for which match returns true and returns their keys.
func (m *mirror[T]) deleteFunc(match func(key string, value T) bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for k, e := range m.items {
		if match(k, e.value) {
			delete(m.items, k)
			removed = append(removed, k)
		}
	}
	return removed
}

// keys returns the mirrored keys, sorted.
func (m *mirror[T]) keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.items))
	for k := range m.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *mirror[T]) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *mirror[T]) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]mirrorEntry[T])
}
