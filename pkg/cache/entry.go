package cache

import (
	"time"
)

// Entry is a value held in the L1 tier together with its access bookkeeping.
type Entry struct {
	// Key is the full cache key
	Key string `json:"key"`

	// Value is the cached value as stored by the caller
	Value any `json:"value"`

	// InsertedAt is when the entry was written or promoted into L1
	InsertedAt time.Time `json:"insertedAt"`

	// TTL is how long the entry stays valid after InsertedAt
	TTL time.Duration `json:"ttl"`

	// AccessCount is the number of reads served from this entry
	AccessCount int64 `json:"accessCount"`

	// LastAccessedAt is the last read (or the insert time if never read)
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// IsExpired reports whether the entry is stale at now.
// An entry is expired once now - InsertedAt exceeds its TTL.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// Remaining returns the time left before expiry at now.
// Returns 0 if already expired.
func (e *Entry) Remaining(now time.Time) time.Duration {
	left := e.TTL - now.Sub(e.InsertedAt)
	if left < 0 {
		return 0
	}
	return left
}

// touch records a read at now.
func (e *Entry) touch(now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
}
