package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Sternrassler/tradecache/pkg/monitoring"
)

// alertRuleRequest is an AlertRule whose Enabled flag defaults to true.
type alertRuleRequest struct {
	monitoring.AlertRule
	Enabled *bool `json:"enabled,omitempty"`
}

func (s *Server) handleCurrentMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	writeJSON(w, http.StatusOK, s.deps.Monitor.CurrentMetrics(ctx))
}

func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.MetricsHistory(limit))
}

// handleAlerts lists all alerts, or only unresolved ones with ?active=true.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, r, badRequest("active must be a boolean"))
			return
		}
		activeOnly = v
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.Alerts(activeOnly))
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.deps.Monitor.ResolveAlert(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleReport accepts ?period=hour|day|week and optional startTime/endTime
// as RFC 3339 or Unix milliseconds.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period := q.Get("period")
	if _, err := monitoring.PeriodDuration(period); err != nil {
		s.writeError(w, r, badRequest(err.Error()))
		return
	}
	start, err := parseTime(q.Get("startTime"))
	if err != nil {
		s.writeError(w, r, badRequest("invalid startTime: "+err.Error()))
		return
	}
	end, err := parseTime(q.Get("endTime"))
	if err != nil {
		s.writeError(w, r, badRequest("invalid endTime: "+err.Error()))
		return
	}

	report, err := s.deps.Monitor.GenerateReport(period, start, end)
	if err != nil {
		s.writeError(w, r, badRequest(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListAlertRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Monitor.AlertRules())
}

func (s *Server) handleAddAlertRule(w http.ResponseWriter, r *http.Request) {
	var req alertRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rule := req.AlertRule
	rule.Enabled = req.Enabled == nil || *req.Enabled
	rule.LastTriggeredAt = nil

	added, err := s.deps.Monitor.AddAlertRule(rule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleRemoveAlertRule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Monitor.RemoveAlertRule(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseTime parses RFC 3339 or Unix milliseconds. Empty yields the zero time.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
