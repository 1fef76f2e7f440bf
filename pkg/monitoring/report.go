package monitoring

import (
	"fmt"
	"time"
)

// Averages are arithmetic means over the snapshots of a report window.
type Averages struct {
	HitRate        float64 `json:"hitRate"`
	MissRate       float64 `json:"missRate"`
	ErrorRate      float64 `json:"errorRate"`
	EvictionRate   float64 `json:"evictionRate"`
	AverageLatency float64 `json:"averageLatency"`
	MemoryUsage    float64 `json:"memoryUsage"`
}

// Report summarises history and alerts within [Start, End].
type Report struct {
	Period           string           `json:"period"`
	Start            time.Time        `json:"startTime"`
	End              time.Time        `json:"endTime"`
	Samples          int              `json:"samples"`
	Averages         Averages         `json:"averages"`
	Alerts           []Alert          `json:"alerts"`
	AlertsBySeverity map[Severity]int `json:"alertsBySeverity"`
	Recommendations  []string         `json:"recommendations"`
	GeneratedAt      time.Time        `json:"generatedAt"`
}

// PeriodDuration maps a report period name to its length.
func PeriodDuration(period string) (time.Duration, error) {
	switch period {
	case "", "hour":
		return time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown report period %q", period)
	}
}

func averages(snaps []Snapshot) Averages {
	var a Averages
	if len(snaps) == 0 {
		return a
	}
	for _, s := range snaps {
		a.HitRate += s.HitRate
		a.MissRate += s.MissRate
		a.ErrorRate += s.ErrorRate
		a.EvictionRate += s.EvictionRate
		a.AverageLatency += s.AverageLatency
		a.MemoryUsage += s.MemoryUsage
	}
	n := float64(len(snaps))
	return Averages{
		HitRate:        round2(a.HitRate / n),
		MissRate:       round2(a.MissRate / n),
		ErrorRate:      round2(a.ErrorRate / n),
		EvictionRate:   round2(a.EvictionRate / n),
		AverageLatency: round2(a.AverageLatency / n),
		MemoryUsage:    round2(a.MemoryUsage / n),
	}
}

// recommendations applies the same thresholds as the default alert rules.
func recommendations(samples int, a Averages) []string {
	if samples == 0 {
		return []string{"No samples in the selected window"}
	}

	var out []string
	if a.HitRate < 80 {
		out = append(out, "Hit rate below 80%: increase TTLs for stable data types or add cache warming")
	}
	if a.AverageLatency > 100 {
		out = append(out, "Average latency above 100ms: check remote store latency and consider a larger L1")
	}
	if a.ErrorRate > 5 {
		out = append(out, "Error rate above 5%: investigate remote store connectivity")
	}
	if a.MemoryUsage > 80 {
		out = append(out, "L1 usage above 80%: raise l1_max_entries or shorten TTLs")
	}
	if a.EvictionRate > 10 {
		out = append(out, "More than 10 evictions per minute: L1 is undersized for the working set")
	}
	if len(out) == 0 {
		out = append(out, "Cache performance is within thresholds")
	}
	return out
}
