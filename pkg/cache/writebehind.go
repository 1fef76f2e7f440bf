package cache

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// WriteBehindConfig controls the asynchronous propagation queue.
type WriteBehindConfig struct {
	// FlushInterval is the tick between batch flushes.
	FlushInterval time.Duration

	// BatchSize is the maximum number of items per multi-write.
	BatchSize int

	// MaxDepth bounds the queue. When full, the oldest item is dead-lettered.
	MaxDepth int

	// MaxAttempts is how many failed flushes an item survives before it is dead-lettered.
	MaxAttempts int

	// MaxBackoff caps the delay between retries after consecutive failures.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor of the retry delay.
	BackoffMultiplier float64

	// DeadLetterCapacity bounds the in-memory dead-letter buffer.
	DeadLetterCapacity int
}

// DefaultWriteBehindConfig returns the default queue configuration.
func DefaultWriteBehindConfig() WriteBehindConfig {
	return WriteBehindConfig{
		FlushInterval:      time.Second,
		BatchSize:          100,
		MaxDepth:           100000,
		MaxAttempts:        10,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
		DeadLetterCapacity: 1000,
	}
}

func (c *WriteBehindConfig) applyDefaults() {
	def := DefaultWriteBehindConfig()
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.DeadLetterCapacity <= 0 {
		c.DeadLetterCapacity = def.DeadLetterCapacity
	}
}

// pendingWrite is one queued write-behind item.
type pendingWrite struct {
	Key        string
	DataType   string
	Value      []byte
	TTL        time.Duration
	Level      Level
	EnqueuedAt time.Time
	Attempts   int
}

// DeadLetter records a write-behind item that was given up on.
type DeadLetter struct {
	Key        string    `json:"key"`
	DataType   string    `json:"dataType"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	DeadAt     time.Time `json:"deadAt"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason"`
}

// writeBehindQueue is a FIFO of pending writes with retry bookkeeping.
type writeBehindQueue struct {
	cfg WriteBehindConfig

	mu          sync.Mutex
	items       []pendingWrite
	dead        []DeadLetter
	failures    int
	nextAttempt time.Time
}

func newWriteBehindQueue(cfg WriteBehindConfig) *writeBehindQueue {
	cfg.applyDefaults()
	return &writeBehindQueue{cfg: cfg}
}

// enqueue appends item. When the queue is full the oldest item is moved to
// the dead-letter buffer and returned.
func (q *writeBehindQueue) enqueue(item pendingWrite, now time.Time) (dropped *DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cfg.MaxDepth {
		oldest := q.items[0]
		q.items = q.items[1:]
		dl := q.deadLetterLocked(oldest, now, "queue full")
		dropped = &dl
	}
	q.items = append(q.items, item)
	WriteBehindQueueDepth.Set(float64(len(q.items)))
	return dropped
}

// ready reports whether a flush may run at now given the retry backoff.
func (q *writeBehindQueue) ready(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !now.Before(q.nextAttempt)
}

// take removes up to n items from the front.
func (q *writeBehindQueue) take(n int) []pendingWrite {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]pendingWrite, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	WriteBehindQueueDepth.Set(float64(len(q.items)))
	return batch
}

// succeeded resets the retry state after a successful flush.
func (q *writeBehindQueue) succeeded() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failures = 0
	q.nextAttempt = time.Time{}
}

// failed puts batch back at the front of the queue, dead-lettering items that
// exhausted their attempts, and schedules the next attempt with backoff.
// It returns the items that were dead-lettered.
func (q *writeBehindQueue) failed(batch []pendingWrite, now time.Time, reason string) []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		retry []pendingWrite
		dead  []DeadLetter
	)
	for _, item := range batch {
		item.Attempts++
		if item.Attempts >= q.cfg.MaxAttempts {
			dead = append(dead, q.deadLetterLocked(item, now, reason))
			continue
		}
		retry = append(retry, item)
	}
	q.items = append(retry, q.items...)
	WriteBehindQueueDepth.Set(float64(len(q.items)))

	q.failures++
	q.nextAttempt = now.Add(q.backoffLocked())
	return dead
}

// backoffLocked returns the delay before the next attempt. The first failure
// retries on the next tick; later ones grow exponentially with ±20% jitter.
func (q *writeBehindQueue) backoffLocked() time.Duration {
	if q.failures <= 1 {
		return 0
	}
	delay := float64(q.cfg.FlushInterval) * math.Pow(q.cfg.BackoffMultiplier, float64(q.failures-1))
	if delay > float64(q.cfg.MaxBackoff) {
		delay = float64(q.cfg.MaxBackoff)
	}
	return time.Duration(delay * (0.8 + rand.Float64()*0.4))
}

// discard drops queued items whose key matches, so an invalidated key is not
// resurrected by a later flush.
func (q *writeBehindQueue) discard(match func(string) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if match(item.Key) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	WriteBehindQueueDepth.Set(float64(len(q.items)))
	return removed
}

func (q *writeBehindQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *writeBehindQueue) deadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// caller must hold q.mu
func (q *writeBehindQueue) deadLetterLocked(item pendingWrite, now time.Time, reason string) DeadLetter {
	dl := DeadLetter{
		Key:        item.Key,
		DataType:   item.DataType,
		EnqueuedAt: item.EnqueuedAt,
		DeadAt:     now,
		Attempts:   item.Attempts,
		Reason:     reason,
	}
	q.dead = append(q.dead, dl)
	if over := len(q.dead) - q.cfg.DeadLetterCapacity; over > 0 {
		q.dead = q.dead[over:]
	}
	WriteBehindDeadLetters.Inc()
	return dl
}
