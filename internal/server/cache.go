package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/tradecache/pkg/cache"
	"github.com/Sternrassler/tradecache/pkg/warming"
)

type keyRequest struct {
	Key        string `json:"key"`
	ConfigType string `json:"configType"`
}

func (k keyRequest) validate() error {
	if strings.TrimSpace(k.Key) == "" {
		return badRequest("key is required")
	}
	if strings.TrimSpace(k.ConfigType) == "" {
		return badRequest("configType is required")
	}
	return nil
}

type setRequest struct {
	keyRequest
	Value json.RawMessage `json:"value"`

	// CustomTTL overrides the data type's TTL, in seconds.
	CustomTTL *int `json:"customTtl,omitempty"`
}

type healthResponse struct {
	Status     string          `json:"status"`
	Cache      cache.Health    `json:"cache"`
	Monitoring monitoringState `json:"monitoring"`
	Timestamp  time.Time       `json:"timestamp"`
}

type monitoringState struct {
	ActiveAlerts   int        `json:"activeAlerts"`
	CriticalAlerts int        `json:"criticalAlerts"`
	LastSampleAt   *time.Time `json:"lastSampleAt,omitempty"`
}

// handleHealth reports "healthy" or "degraded"; both answer 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	h := s.deps.Monitor.HealthCheck(ctx)
	writeJSON(w, http.StatusOK, healthResponse{
		Status: h.Status,
		Cache:  h.Cache,
		Monitoring: monitoringState{
			ActiveAlerts:   h.ActiveAlerts,
			CriticalAlerts: h.CriticalAlerts,
			LastSampleAt:   h.LastSampleAt,
		},
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.GetStats())
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.ResetStats()
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	value, found, err := s.deps.Cache.Get(ctx, req.Key, req.ConfigType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": value, "found": found})
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Value) == 0 {
		s.writeError(w, r, badRequest("value is required"))
		return
	}
	var value any
	if err := json.Unmarshal(req.Value, &value); err != nil {
		s.writeError(w, r, badRequest("invalid value: "+err.Error()))
		return
	}
	var ttl time.Duration
	if req.CustomTTL != nil {
		if *req.CustomTTL <= 0 {
			s.writeError(w, r, badRequest("customTtl must be positive"))
			return
		}
		ttl = time.Duration(*req.CustomTTL) * time.Second
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	ok, err := s.deps.Cache.Set(ctx, req.Key, value, req.ConfigType, ttl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"set": ok})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	deleted, err := s.deps.Cache.Invalidate(ctx, req.Key, req.ConfigType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

type warmRequest struct {
	keyRequest
	Requests []warming.Request `json:"requests,omitempty"`
}

// handleWarm warms a single key, or every entry of "requests" when present.
func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if len(req.Requests) > 0 {
		for _, item := range req.Requests {
			if err := (keyRequest{Key: item.Key, ConfigType: item.DataType}).validate(); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		results := s.deps.Warmer.WarmBatch(r.Context(), req.Requests)
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Warmer.Warm(r.Context(), req.Key, req.ConfigType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
