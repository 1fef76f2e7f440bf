package monitoring

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/Sternrassler/tradecache/pkg/cache"
)

// LevelMetrics is the per-tier breakdown of a snapshot.
type LevelMetrics struct {
	HitRate        float64 `json:"hitRate"`
	Hits           int64   `json:"hits"`
	AverageLatency float64 `json:"averageLatency"`
}

// Snapshot is a point-in-time aggregate of cache and domain statistics.
// Rates are percentages except EvictionRate (evictions per minute);
// latencies are milliseconds.
type Snapshot struct {
	Timestamp      time.Time               `json:"timestamp"`
	HitRate        float64                 `json:"hitRate"`
	MissRate       float64                 `json:"missRate"`
	ErrorRate      float64                 `json:"errorRate"`
	EvictionRate   float64                 `json:"evictionRate"`
	AverageLatency float64                 `json:"averageLatency"`
	MemoryUsage    float64                 `json:"memoryUsage"`
	TotalRequests  int64                   `json:"totalRequests"`
	WriteQueue     int                     `json:"writeBehindQueue"`
	Levels         map[string]LevelMetrics `json:"levels"`
	Trading        any                     `json:"trading,omitempty"`
}

// buildSnapshot derives a snapshot from cache stats. prev is the previous
// snapshot's stats and time, used for the eviction rate.
func buildSnapshot(now time.Time, s cache.Stats, prev *sample, domain any) Snapshot {
	requests := s.Requests()
	snap := Snapshot{
		Timestamp:      now,
		HitRate:        s.HitRate,
		AverageLatency: s.AvgLatencyMs,
		TotalRequests:  requests,
		WriteQueue:     s.WriteBehindQueue,
		Trading:        domain,
		Levels: map[string]LevelMetrics{
			"l1": {Hits: s.L1Hits, HitRate: percent(s.L1Hits, requests), AverageLatency: s.L1AvgLatencyMs},
			"l2": {Hits: s.L2Hits, HitRate: percent(s.L2Hits, requests), AverageLatency: s.L2AvgLatencyMs},
			"l3": {Hits: s.L3Hits, HitRate: percent(s.L3Hits, requests), AverageLatency: s.L3AvgLatencyMs},
		},
	}
	if requests > 0 {
		snap.MissRate = round2(100 - s.HitRate)
	}
	snap.ErrorRate = percent(s.Errors, requests+s.Sets+s.Deletes)
	snap.MemoryUsage = percent(int64(s.L1Size), int64(s.L1Capacity))

	if prev != nil {
		elapsed := now.Sub(prev.at).Minutes()
		delta := s.Evictions - prev.stats.Evictions
		if elapsed > 0 && delta > 0 {
			snap.EvictionRate = round2(float64(delta) / elapsed)
		}
	}
	return snap
}

type sample struct {
	at    time.Time
	stats cache.Stats
}

func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(100 * float64(part) / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Lookup resolves a dotted path such as "levels.l1.hitRate" to a number.
func (s Snapshot) Lookup(path string) (float64, bool) {
	data, err := json.Marshal(s)
	if err != nil {
		return 0, false
	}
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return 0, false
	}

	cur := root
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		if cur, ok = m[part]; !ok {
			return 0, false
		}
	}

	switch v := cur.(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
