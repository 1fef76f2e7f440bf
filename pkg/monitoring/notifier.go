package monitoring

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier delivers fired alerts. Paging or chat delivery plugs in here.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, alert Alert)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, alert Alert) { f(ctx, alert) }

// LogNotifier writes one log line per alert at a level derived from severity.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify logs the alert.
func (n LogNotifier) Notify(_ context.Context, alert Alert) {
	var event *zerolog.Event
	switch alert.Severity {
	case SeverityCritical, SeverityHigh:
		event = n.Logger.Error()
	case SeverityMedium:
		event = n.Logger.Warn()
	default:
		event = n.Logger.Info()
	}
	event.
		Str("alert_id", alert.ID).
		Str("rule_id", alert.RuleID).
		Str("severity", string(alert.Severity)).
		Str("metric", alert.Metric).
		Float64("value", alert.Value).
		Float64("threshold", alert.Threshold).
		Msg(alert.Message)
}
