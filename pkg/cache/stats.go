package cache

import (
	"math"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time copy of the Manager's counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	Errors    int64 `json:"errors"`
	Evictions int64 `json:"evictions"`

	L1Hits int64 `json:"l1Hits"`
	L2Hits int64 `json:"l2Hits"`
	L3Hits int64 `json:"l3Hits"`

	// HitRate is 100*hits/(hits+misses) rounded to two decimals
	HitRate float64 `json:"hitRate"`

	// Average read latency in milliseconds, overall and by serving level
	AvgLatencyMs   float64 `json:"avgLatencyMs"`
	L1AvgLatencyMs float64 `json:"l1AvgLatencyMs"`
	L2AvgLatencyMs float64 `json:"l2AvgLatencyMs"`
	L3AvgLatencyMs float64 `json:"l3AvgLatencyMs"`

	L1Size     int `json:"l1Size"`
	L1Capacity int `json:"l1Capacity"`

	WriteBehindQueue int   `json:"writeBehindQueue"`
	DeadLetters      int64 `json:"deadLetters"`

	Since time.Time `json:"since"`
}

// Requests returns hits + misses.
func (s Stats) Requests() int64 {
	return s.Hits + s.Misses
}

// HitRate returns round(100*hits/(hits+misses), 2), or 0 with no requests.
func HitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return round2(100 * float64(hits) / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// latency accumulates observed durations.
type latency struct {
	totalNanos atomic.Int64
	count      atomic.Int64
}

func (l *latency) observe(d time.Duration) {
	l.totalNanos.Add(int64(d))
	l.count.Add(1)
}

func (l *latency) avgMs() float64 {
	n := l.count.Load()
	if n == 0 {
		return 0
	}
	return round2(float64(l.totalNanos.Load()) / float64(n) / float64(time.Millisecond))
}

func (l *latency) reset() {
	l.totalNanos.Store(0)
	l.count.Store(0)
}

// counters holds the Manager's process-lifetime counters.
type counters struct {
	hits, misses, sets, deletes, errors, evictions atomic.Int64
	l1Hits, l2Hits, l3Hits                         atomic.Int64
	deadLetters                                    atomic.Int64

	all, l1, l2, l3 latency

	since atomic.Int64 // unix nanos
}

func (c *counters) reset(now time.Time) {
	for _, v := range []*atomic.Int64{
		&c.hits, &c.misses, &c.sets, &c.deletes, &c.errors, &c.evictions,
		&c.l1Hits, &c.l2Hits, &c.l3Hits, &c.deadLetters,
	} {
		v.Store(0)
	}
	c.all.reset()
	c.l1.reset()
	c.l2.reset()
	c.l3.reset()
	c.since.Store(now.UnixNano())
}

func (c *counters) hit(level Level, d time.Duration) {
	c.hits.Add(1)
	c.all.observe(d)
	switch level {
	case LevelL1:
		c.l1Hits.Add(1)
		c.l1.observe(d)
	case LevelL2:
		c.l2Hits.Add(1)
		c.l2.observe(d)
	case LevelL3:
		c.l3Hits.Add(1)
		c.l3.observe(d)
	}
	CacheHits.WithLabelValues(level.String()).Inc()
	OperationDuration.WithLabelValues(level.String()).Observe(d.Seconds())
}

func (c *counters) miss(d time.Duration) {
	c.misses.Add(1)
	c.all.observe(d)
	CacheMisses.Inc()
	OperationDuration.WithLabelValues("miss").Observe(d.Seconds())
}

func (c *counters) failed(operation string) {
	c.errors.Add(1)
	CacheErrors.WithLabelValues(operation).Inc()
}

func (c *counters) evicted(n int) {
	if n <= 0 {
		return
	}
	c.evictions.Add(int64(n))
	CacheEvictions.Add(float64(n))
}

func (c *counters) snapshot() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	return Stats{
		Hits:           hits,
		Misses:         misses,
		Sets:           c.sets.Load(),
		Deletes:        c.deletes.Load(),
		Errors:         c.errors.Load(),
		Evictions:      c.evictions.Load(),
		L1Hits:         c.l1Hits.Load(),
		L2Hits:         c.l2Hits.Load(),
		L3Hits:         c.l3Hits.Load(),
		HitRate:        HitRate(hits, misses),
		AvgLatencyMs:   c.all.avgMs(),
		L1AvgLatencyMs: c.l1.avgMs(),
		L2AvgLatencyMs: c.l2.avgMs(),
		L3AvgLatencyMs: c.l3.avgMs(),
		DeadLetters:    c.deadLetters.Load(),
		Since:          time.Unix(0, c.since.Load()),
	}
}
