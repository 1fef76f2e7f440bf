package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestState_Allowed(t *testing.T) {
	tests := []struct {
		name          string
		count         int
		wantAllowed   bool
		wantRemaining int
	}{
		{"first request", 1, true, 9},
		{"last allowed", 10, true, 0},
		{"over budget", 11, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{Limit: 10, Count: tt.count}
			if got := s.Allowed(); got != tt.wantAllowed {
				t.Errorf("Allowed() = %v, want %v", got, tt.wantAllowed)
			}
			if got := s.Remaining(); got != tt.wantRemaining {
				t.Errorf("Remaining() = %d, want %d", got, tt.wantRemaining)
			}
		})
	}
}

func TestState_RetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		resetAt time.Time
		want    time.Duration
	}{
		{"whole seconds", now.Add(30 * time.Second), 30 * time.Second},
		{"rounds up", now.Add(1500 * time.Millisecond), 2 * time.Second},
		{"already reset", now.Add(-time.Second), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{ResetAt: tt.resetAt}
			if got := s.RetryAfter(now); got != tt.want {
				t.Errorf("RetryAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_WriteHeaders(t *testing.T) {
	reset := time.Unix(1767225660, 0)
	s := State{Limit: 100, Count: 40, ResetAt: reset}

	h := http.Header{}
	s.WriteHeaders(h)

	want := map[string]string{
		HeaderLimit:     "100",
		HeaderRemaining: "60",
		HeaderReset:     "1767225660",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}
