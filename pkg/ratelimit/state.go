// Package ratelimit implements a per-client fixed-window request budget.
// Counters live in Redis so every service instance shares the same budget.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// DefaultKeyPrefix prefixes the Redis counter keys.
const DefaultKeyPrefix = "tradecache:ratelimit:"

// Response headers describing the client's budget.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// State is a client's budget in the current window.
type State struct {
	// Client identifies the caller, usually its IP address.
	Client string `json:"client"`

	// Limit is the number of requests allowed per window.
	Limit int `json:"limit"`

	// Count is the number of requests seen in the current window.
	Count int `json:"count"`

	// ResetAt is the end of the current window.
	ResetAt time.Time `json:"reset_at"`
}

// Allowed reports whether the request that produced this state is within budget.
func (s State) Allowed() bool {
	return s.Count <= s.Limit
}

// Remaining returns the requests left in the window, never negative.
func (s State) Remaining() int {
	if s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}

// RetryAfter returns the time until the window resets, rounded up to whole
// seconds. Returns 0 if the reset time has already passed.
func (s State) RetryAfter(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// WriteHeaders sets the X-RateLimit-* headers.
func (s State) WriteHeaders(h http.Header) {
	h.Set(HeaderLimit, strconv.Itoa(s.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(s.Remaining()))
	h.Set(HeaderReset, strconv.FormatInt(s.ResetAt.Unix(), 10))
}
