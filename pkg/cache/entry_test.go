package cache

import (
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{
			name: "fresh entry",
			now:  base.Add(10 * time.Second),
			want: false,
		},
		{
			name: "exactly at ttl",
			now:  base.Add(30 * time.Second),
			want: false,
		},
		{
			name: "past ttl",
			now:  base.Add(31 * time.Second),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{InsertedAt: base, TTL: 30 * time.Second}
			if got := entry.IsExpired(tt.now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_Remaining(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{
			name: "twenty seconds left",
			now:  base.Add(10 * time.Second),
			want: 20 * time.Second,
		},
		{
			name: "already expired",
			now:  base.Add(time.Minute),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{InsertedAt: base, TTL: 30 * time.Second}
			if got := entry.Remaining(tt.now); got != tt.want {
				t.Errorf("Remaining() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_Touch(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{InsertedAt: base, LastAccessedAt: base, TTL: time.Minute}

	entry.touch(base.Add(time.Second))
	entry.touch(base.Add(2 * time.Second))

	if entry.AccessCount != 2 {
		t.Errorf("AccessCount = %d, want 2", entry.AccessCount)
	}
	if !entry.LastAccessedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("LastAccessedAt = %v, want %v", entry.LastAccessedAt, base.Add(2*time.Second))
	}
}
