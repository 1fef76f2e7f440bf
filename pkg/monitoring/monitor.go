// Package monitoring samples cache statistics, evaluates alert rules and
// produces reports.
//
// A Monitor pulls cache.Stats (and optional domain statistics) every
// sampling interval, derives a Snapshot, keeps a bounded history and
// evaluates every enabled AlertRule against the new snapshot. A rule that
// fired does not fire again until its cooldown has elapsed. Fired alerts
// are handed to the registered Notifiers; delivery beyond logging is left to
// the caller.
package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/tradecache/pkg/cache"
)

// CacheSource is the read-only view of the cache manager.
type CacheSource interface {
	GetStats() cache.Stats
	HealthCheck(ctx context.Context) cache.Health
}

// Config holds the Monitor configuration.
type Config struct {
	// Interval is the sampling period (default 10s).
	Interval time.Duration

	// HistorySize bounds the snapshot history (default 360).
	HistorySize int

	// AlertCapacity bounds the stored alerts (default 1000).
	AlertCapacity int

	// Rules is the initial rule set. When empty and NoDefaultRules is false,
	// DefaultAlertRules is used.
	Rules          []AlertRule
	NoDefaultRules bool

	// Domain returns domain-layer statistics embedded as "trading".
	Domain func() any

	// Notifiers receive fired alerts (default: a LogNotifier).
	Notifiers []Notifier

	Now    func() time.Time
	Logger *zerolog.Logger
}

// Health is the monitor's health summary.
type Health struct {
	Status         string       `json:"status"`
	Cache          cache.Health `json:"cache"`
	ActiveAlerts   int          `json:"activeAlerts"`
	CriticalAlerts int          `json:"criticalAlerts"`
	LastSampleAt   *time.Time   `json:"lastSampleAt,omitempty"`
}

// Monitor samples statistics and evaluates alert rules.
type Monitor struct {
	source CacheSource
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	mu        sync.RWMutex
	history   []Snapshot
	last      *sample
	rules     map[string]AlertRule
	alerts    []Alert
	notifiers []Notifier

	startOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a monitor over source.
func New(source CacheSource, cfg Config) (*Monitor, error) {
	if source == nil {
		return nil, fmt.Errorf("monitor: cache source is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 360
	}
	if cfg.AlertCapacity <= 0 {
		cfg.AlertCapacity = 1000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := log.With().Str("component", "monitoring").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	notifiers := cfg.Notifiers
	if len(notifiers) == 0 {
		notifiers = []Notifier{LogNotifier{Logger: logger}}
	}

	m := &Monitor{
		source:    source,
		cfg:       cfg,
		now:       cfg.Now,
		logger:    logger,
		rules:     make(map[string]AlertRule),
		notifiers: notifiers,
		stopCh:    make(chan struct{}),
	}

	rules := cfg.Rules
	if len(rules) == 0 && !cfg.NoDefaultRules {
		rules = DefaultAlertRules()
	}
	for _, r := range rules {
		if _, err := m.AddAlertRule(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.loop()
		m.logger.Info().Dur("interval", m.cfg.Interval).Int("rules", len(m.AlertRules())).Msg("Monitoring started")
	})
}

// Close stops the sampling loop.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.logger.Info().Msg("Monitoring stopped")
	})
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sample(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Sample runs one sampling cycle: snapshot, history append, rule evaluation.
// It returns the new snapshot.
func (m *Monitor) Sample(ctx context.Context) Snapshot {
	now := m.now()
	stats := m.source.GetStats()

	var domain any
	if m.cfg.Domain != nil {
		domain = m.cfg.Domain()
	}

	m.mu.Lock()
	snap := buildSnapshot(now, stats, m.last, domain)
	m.last = &sample{at: now, stats: stats}
	m.history = append(m.history, snap)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = m.history[over:]
	}
	fired := m.evaluateLocked(snap, now)
	active := m.activeLocked()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.Unlock()

	HitRatePercent.Set(snap.HitRate)
	ActiveAlerts.Set(float64(active))

	for _, a := range fired {
		AlertsTotal.WithLabelValues(string(a.Severity)).Inc()
		for _, n := range notifiers {
			n.Notify(ctx, a)
		}
	}

	m.logger.Debug().
		Float64("hit_rate", snap.HitRate).
		Float64("error_rate", snap.ErrorRate).
		Float64("avg_latency_ms", snap.AverageLatency).
		Int("alerts_fired", len(fired)).
		Msg("Metrics sampled")
	return snap
}

// evaluateLocked checks every enabled rule against snap. Caller holds m.mu.
func (m *Monitor) evaluateLocked(snap Snapshot, now time.Time) []Alert {
	ids := make([]string, 0, len(m.rules))
	for id := range m.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var fired []Alert
	for _, id := range ids {
		r := m.rules[id]
		if !r.Enabled || r.coolingDown(now) || snap.TotalRequests < r.MinRequests {
			continue
		}
		value, ok := snap.Lookup(r.Metric)
		if !ok {
			continue
		}
		hit, err := r.Operator.Compare(value, r.Threshold)
		if err != nil || !hit {
			continue
		}

		alert := newAlert(r, value, now)
		ts := now
		r.LastTriggeredAt = &ts
		m.rules[id] = r

		m.alerts = append(m.alerts, alert)
		if over := len(m.alerts) - m.cfg.AlertCapacity; over > 0 {
			m.alerts = m.alerts[over:]
		}
		fired = append(fired, alert)
	}
	return fired
}

func (m *Monitor) activeLocked() int {
	n := 0
	for _, a := range m.alerts {
		if !a.Resolved {
			n++
		}
	}
	return n
}

// CurrentMetrics returns the latest snapshot, sampling once if none exists.
func (m *Monitor) CurrentMetrics(ctx context.Context) Snapshot {
	m.mu.RLock()
	if n := len(m.history); n > 0 {
		snap := m.history[n-1]
		m.mu.RUnlock()
		return snap
	}
	m.mu.RUnlock()
	return m.Sample(ctx)
}

// MetricsHistory returns up to limit most recent snapshots, oldest first.
// limit <= 0 returns the whole history.
func (m *Monitor) MetricsHistory(limit int) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(m.history) {
		start = len(m.history) - limit
	}
	out := make([]Snapshot, len(m.history)-start)
	copy(out, m.history[start:])
	return out
}

// Alerts returns stored alerts, newest first.
func (m *Monitor) Alerts(activeOnly bool) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if activeOnly && m.alerts[i].Resolved {
			continue
		}
		out = append(out, m.alerts[i])
	}
	return out
}

// ActiveAlerts returns unresolved alerts, newest first.
func (m *Monitor) ActiveAlerts() []Alert {
	return m.Alerts(true)
}

// ResolveAlert marks an alert resolved.
func (m *Monitor) ResolveAlert(id string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID != id {
			continue
		}
		if !m.alerts[i].Resolved {
			now := m.now()
			m.alerts[i].Resolved = true
			m.alerts[i].ResolvedAt = &now
			ActiveAlerts.Set(float64(m.activeLocked()))
			m.logger.Info().Str("alert_id", id).Msg("Alert resolved")
		}
		return m.alerts[i], nil
	}
	return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// AddAlertRule validates and registers a rule. An empty id is generated.
func (m *Monitor) AddAlertRule(r AlertRule) (AlertRule, error) {
	if err := r.Validate(); err != nil {
		return AlertRule{}, err
	}
	if r.ID == "" {
		r.ID = "alert-rule-" + uuid.NewString()
	}
	r.Operator = r.Operator.normalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rules[r.ID]; exists {
		return AlertRule{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidRule, r.ID)
	}
	m.rules[r.ID] = r

	m.logger.Info().
		Str("rule_id", r.ID).
		Str("metric", r.Metric).
		Str("operator", string(r.Operator)).
		Float64("threshold", r.Threshold).
		Str("severity", string(r.Severity)).
		Msg("Alert rule added")
	return r, nil
}

// RemoveAlertRule deletes a rule.
func (m *Monitor) RemoveAlertRule(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(m.rules, id)
	m.logger.Info().Str("rule_id", id).Msg("Alert rule removed")
	return nil
}

// AlertRules returns all rules sorted by id.
func (m *Monitor) AlertRules() []AlertRule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GenerateReport summarises the window [start, end]. A zero end means now;
// a zero start means end minus the period.
func (m *Monitor) GenerateReport(period string, start, end time.Time) (Report, error) {
	length, err := PeriodDuration(period)
	if err != nil {
		return Report{}, err
	}
	if period == "" {
		period = "hour"
	}
	if end.IsZero() {
		end = m.now()
	}
	if start.IsZero() {
		start = end.Add(-length)
	}
	if end.Before(start) {
		return Report{}, fmt.Errorf("report end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	inWindow := func(t time.Time) bool { return !t.Before(start) && !t.After(end) }

	m.mu.RLock()
	var snaps []Snapshot
	for _, s := range m.history {
		if inWindow(s.Timestamp) {
			snaps = append(snaps, s)
		}
	}
	alerts := []Alert{}
	bySeverity := make(map[Severity]int)
	for _, a := range m.alerts {
		if inWindow(a.Timestamp) {
			alerts = append(alerts, a)
			bySeverity[a.Severity]++
		}
	}
	m.mu.RUnlock()

	avg := averages(snaps)
	return Report{
		Period:           period,
		Start:            start,
		End:              end,
		Samples:          len(snaps),
		Averages:         avg,
		Alerts:           alerts,
		AlertsBySeverity: bySeverity,
		Recommendations:  recommendations(len(snaps), avg),
		GeneratedAt:      m.now(),
	}, nil
}

// HealthCheck combines the cache health with alert state. Unresolved
// critical alerts degrade the status.
func (m *Monitor) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status: cache.StatusHealthy,
		Cache:  m.source.HealthCheck(ctx),
	}

	m.mu.RLock()
	for _, a := range m.alerts {
		if a.Resolved {
			continue
		}
		h.ActiveAlerts++
		if a.Severity == SeverityCritical {
			h.CriticalAlerts++
		}
	}
	if m.last != nil {
		ts := m.last.at
		h.LastSampleAt = &ts
	}
	m.mu.RUnlock()

	if h.Cache.Status != cache.StatusHealthy || h.CriticalAlerts > 0 {
		h.Status = cache.StatusDegraded
	}
	return h
}
