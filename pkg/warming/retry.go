package warming

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// RetryPolicy maps error classes to their retry configuration.
// Classes without an entry use Default.
type RetryPolicy struct {
	Default RetryConfig
	ByClass map[ErrorClass]RetryConfig
}

// DefaultRetryPolicy returns the default per-class retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Default: RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
		ByClass: map[ErrorClass]RetryConfig{
			// 5xx - shorter backoff
			ErrorClassServer: {MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2.0},
			// 429 - longer backoff
			ErrorClassRateLimit: {MaxAttempts: 3, InitialBackoff: 5 * time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 2.0},
			ErrorClassNetwork:   {MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second, BackoffMultiplier: 2.0},
		},
	}
}

// For returns the retry configuration of class.
func (p RetryPolicy) For(class ErrorClass) RetryConfig {
	if cfg, ok := p.ByClass[class]; ok {
		return cfg
	}
	return p.Default
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable error or
// the attempts of the failing class are used up. The class of each failure is
// read from the *UpstreamError fn returns; other errors are not retried.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, logger zerolog.Logger, fn func() error) error {
	var (
		lastErr error
		class   ErrorClass
		backoff time.Duration
	)

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(class)).
					Int("attempt", attempt).
					Msg("Upstream request succeeded after retry")
			}
			return nil
		}
		lastErr = err

		var upErr *UpstreamError
		if !errors.As(err, &upErr) || !shouldRetry(upErr.Class) {
			return err
		}
		if upErr.Class != class {
			// class changed between attempts: restart its backoff schedule
			class = upErr.Class
			backoff = 0
		}

		cfg := policy.For(class)
		if attempt >= cfg.MaxAttempts {
			break
		}
		if backoff == 0 {
			backoff = cfg.InitialBackoff
		}

		UpstreamRetries.WithLabelValues(string(class)).Inc()

		// jitter ±20%
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying upstream request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	cfg := policy.For(class)
	UpstreamRetryExhausted.WithLabelValues(string(class)).Inc()
	logger.Warn().
		Str("error_class", string(class)).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Upstream retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}
