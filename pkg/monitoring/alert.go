package monitoring

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlertNotFound indicates an unknown alert id
	ErrAlertNotFound = errors.New("alert not found")

	// ErrRuleNotFound indicates an unknown alert rule id
	ErrRuleNotFound = errors.New("alert rule not found")

	// ErrInvalidRule indicates an alert rule that failed validation
	ErrInvalidRule = errors.New("invalid alert rule")
)

// Operator compares an observed value with a rule threshold.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpEqual        Operator = "="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// normalize accepts the unicode forms and "==".
func (o Operator) normalize() Operator {
	switch o {
	case "≥":
		return OpGreaterEqual
	case "≤":
		return OpLessEqual
	case "==":
		return OpEqual
	}
	return o
}

// Compare applies the operator to value and threshold.
func (o Operator) Compare(value, threshold float64) (bool, error) {
	switch o.normalize() {
	case OpGreater:
		return value > threshold, nil
	case OpLess:
		return value < threshold, nil
	case OpEqual:
		return value == threshold, nil
	case OpGreaterEqual:
		return value >= threshold, nil
	case OpLessEqual:
		return value <= threshold, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, o)
	}
}

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AlertRule is a threshold on a snapshot metric.
type AlertRule struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	// Metric is a dotted path into a Snapshot, e.g. "levels.l1.hitRate".
	Metric    string   `json:"metric"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
	Enabled   bool     `json:"enabled"`

	// CooldownSeconds is the minimum time between two firings.
	CooldownSeconds int `json:"cooldownSeconds"`

	// MinRequests skips evaluation while the snapshot saw fewer requests.
	MinRequests int64 `json:"minRequests,omitempty"`

	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
}

// Validate checks the rule for consistency.
func (r AlertRule) Validate() error {
	if strings.TrimSpace(r.Metric) == "" {
		return fmt.Errorf("%w: metric is required", ErrInvalidRule)
	}
	if _, err := r.Operator.Compare(0, 0); err != nil {
		return err
	}
	if !r.Severity.valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidRule, r.Severity)
	}
	if r.CooldownSeconds < 0 {
		return fmt.Errorf("%w: cooldownSeconds must not be negative", ErrInvalidRule)
	}
	return nil
}

// Cooldown returns the cooldown as a duration.
func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// coolingDown reports whether the rule fired less than its cooldown ago.
func (r AlertRule) coolingDown(now time.Time) bool {
	return r.LastTriggeredAt != nil && now.Sub(*r.LastTriggeredAt) < r.Cooldown()
}

// Alert is a fired rule. Only Resolved changes after creation.
type Alert struct {
	ID         string     `json:"id"`
	RuleID     string     `json:"ruleId"`
	Metric     string     `json:"metric"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Operator   Operator   `json:"operator"`
	Severity   Severity   `json:"severity"`
	Timestamp  time.Time  `json:"timestamp"`
	Message    string     `json:"message"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

func newAlert(r AlertRule, value float64, now time.Time) Alert {
	name := r.Name
	if name == "" {
		name = r.ID
	}
	return Alert{
		ID:        "alert-" + uuid.NewString(),
		RuleID:    r.ID,
		Metric:    r.Metric,
		Value:     value,
		Threshold: r.Threshold,
		Operator:  r.Operator.normalize(),
		Severity:  r.Severity,
		Timestamp: now,
		Message: fmt.Sprintf("%s: %s is %.2f (threshold %s %.2f)",
			name, r.Metric, value, r.Operator.normalize(), r.Threshold),
	}
}

// DefaultAlertRules returns the built-in rule set. Hit-rate rules need at
// least one request so an idle service does not alert.
func DefaultAlertRules() []AlertRule {
	const cooldown = 300
	return []AlertRule{
		{ID: "hit-rate-low", Name: "Hit rate low", Metric: "hitRate", Operator: OpLess, Threshold: 80,
			Severity: SeverityMedium, Enabled: true, CooldownSeconds: cooldown, MinRequests: 1},
		{ID: "hit-rate-critical", Name: "Hit rate critical", Metric: "hitRate", Operator: OpLess, Threshold: 60,
			Severity: SeverityCritical, Enabled: true, CooldownSeconds: cooldown, MinRequests: 1},
		{ID: "latency-high", Name: "Latency high", Metric: "averageLatency", Operator: OpGreater, Threshold: 100,
			Severity: SeverityMedium, Enabled: true, CooldownSeconds: cooldown},
		{ID: "latency-critical", Name: "Latency critical", Metric: "averageLatency", Operator: OpGreater, Threshold: 500,
			Severity: SeverityCritical, Enabled: true, CooldownSeconds: cooldown},
		{ID: "error-rate-high", Name: "Error rate high", Metric: "errorRate", Operator: OpGreater, Threshold: 5,
			Severity: SeverityHigh, Enabled: true, CooldownSeconds: cooldown},
		{ID: "memory-usage-high", Name: "Memory usage high", Metric: "memoryUsage", Operator: OpGreater, Threshold: 80,
			Severity: SeverityHigh, Enabled: true, CooldownSeconds: cooldown},
		{ID: "eviction-rate-high", Name: "Eviction rate high", Metric: "evictionRate", Operator: OpGreater, Threshold: 10,
			Severity: SeverityMedium, Enabled: true, CooldownSeconds: cooldown},
	}
}
