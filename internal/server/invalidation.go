package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Sternrassler/tradecache/pkg/invalidation"
)

type invalidateRequest struct {
	Pattern string                `json:"pattern"`
	Context invalidation.Metadata `json:"context,omitempty"`
}

// ruleRequest is a Rule whose Enabled flag defaults to true.
type ruleRequest struct {
	invalidation.Rule
	Enabled *bool `json:"enabled,omitempty"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		s.writeError(w, r, badRequest("pattern is required"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	writeJSON(w, http.StatusOK, s.deps.Engine.Invalidate(ctx, req.Pattern, req.Context))
}

func (s *Server) handleInvalidationStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.GetStats())
}

func (s *Server) handleInvalidationEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Engine.Events(limit))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Rules())
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.deps.Engine.Rule(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rule := req.Rule
	rule.Enabled = req.Enabled == nil || *req.Enabled

	added, err := s.deps.Engine.AddRule(rule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var update invalidation.RuleUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.deps.Engine.UpdateRule(mux.Vars(r)["id"], update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.RemoveRule(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
