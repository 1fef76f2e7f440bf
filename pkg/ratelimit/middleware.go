package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// KeyFunc derives the client identity of a request.
type KeyFunc func(r *http.Request) string

// ClientIP returns the first X-Forwarded-For address, X-Real-IP, or the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware enforces the budget of each client. Requests over budget get
// 429 with Retry-After; every response carries the X-RateLimit-* headers.
// Requests for which skip returns true bypass the limiter.
func (l *Limiter) Middleware(key KeyFunc, skip func(*http.Request) bool) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip != nil && skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			state, err := l.Allow(r.Context(), key(r))
			if err != nil {
				// fail open
				next.ServeHTTP(w, r)
				return
			}

			state.WriteHeaders(w.Header())
			if !state.Allowed() {
				retry := state.RetryAfter(l.cfg.Now())
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":      "rate limit exceeded",
					"retryAfter": int(retry.Seconds()),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
