package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Default: 30s.
	MaxDelay time.Duration

	// ExpBase scales the backoff exponentially per attempt. Default: 2.0.
	ExpBase float64

	// Multiplier is a flat scale on the computed delay. Default: 1.0.
	Multiplier float64

	// Jitter enables ±10% uniform jitter on the delay. Default on via
	// DefaultRetryConfig.
	Jitter bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry settings used for external calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		ExpBase:     2.0,
		Multiplier:  1.0,
		Jitter:      true,
	}
}

// minRetryDelay floors every backoff sleep.
const minRetryDelay = 100 * time.Millisecond

// Do executes fn with classified retries. Non-retryable failures return
// immediately; rate-limit failures triple the base delay and timeouts
// halve it. Context cancellation stops retries.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do preserving a return value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyRetryDefaults(cfg)

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}

		class := Classify(lastErr)
		if !Retryable(class) {
			return zero, lastErr
		}

		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}

		delay := backoffFor(attempt, class, cfg)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func applyRetryDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.ExpBase <= 0 {
		cfg.ExpBase = 2.0
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1.0
	}
	return cfg
}

// backoffFor computes base · expBase^attempt · multiplier, scaled by the
// failure class, clipped to MaxDelay, jittered ±10%, floored at 100ms.
func backoffFor(attempt int, class Class, cfg RetryConfig) time.Duration {
	base := float64(cfg.BaseDelay)
	switch class {
	case ClassRateLimit:
		base *= 3
	case ClassTimeout:
		base /= 2
	}

	delay := base * math.Pow(cfg.ExpBase, float64(attempt)) * cfg.Multiplier
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		delay += (rand.Float64()*2 - 1) * delay * 0.1
	}

	if delay < float64(minRetryDelay) {
		delay = float64(minRetryDelay)
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry.
func RetryLogger(dependency, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("dependency", dependency),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
