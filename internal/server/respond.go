package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/tradecache/pkg/cache"
	"github.com/Sternrassler/tradecache/pkg/invalidation"
	"github.com/Sternrassler/tradecache/pkg/monitoring"
	"github.com/Sternrassler/tradecache/pkg/trading"
	"github.com/Sternrassler/tradecache/pkg/warming"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

// writeError maps err to a status code and writes it as JSON.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var upstream *warming.UpstreamError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, cache.ErrUnknownDataType),
		errors.Is(err, warming.ErrNoLoader),
		errors.Is(err, invalidation.ErrInvalidRule),
		errors.Is(err, monitoring.ErrInvalidRule),
		errors.Is(err, trading.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, invalidation.ErrRuleNotFound),
		errors.Is(err, monitoring.ErrRuleNotFound),
		errors.Is(err, monitoring.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.As(err, &upstream):
		if upstream.NotFound() {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.Is(err, warming.ErrRetryExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// queryLimit parses the optional non-negative "limit" query parameter.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("limit must be a non-negative integer")
	}
	return n, nil
}
