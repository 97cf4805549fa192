package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Strategy selects how the wait between attempts grows.
type Strategy string

const (
	// Exponential doubles the wait after every failed attempt.
	Exponential Strategy = "exponential"
	// Linear grows the wait by BaseDelay after every failed attempt.
	Linear Strategy = "linear"
)

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of calls including the first attempt.
	MaxAttempts int
	// BaseDelay is the base wait applied after the first failure.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts. Zero means no cap.
	MaxDelay time.Duration
	// Strategy picks the growth curve. Defaults to Exponential.
	Strategy Strategy
	// OnRetry is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

// Delay returns the wait applied after the given 1-indexed failed attempt.
//
// Exponential with BaseDelay=1s: 1s, 2s, 4s, 8s, ... capped at MaxDelay.
// Linear with BaseDelay=1s: 1s, 2s, 3s, 4s, ... capped at MaxDelay.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch c.Strategy {
	case Linear:
		d = c.BaseDelay * time.Duration(attempt)
	default:
		d = c.BaseDelay << (attempt - 1)
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort wraps err so Do stops retrying and returns err immediately. Used
// for failures no later attempt could recover from.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// Do calls fn up to cfg.MaxAttempts times.
//
// Returns nil on first success, or the last error after all attempts. An
// error wrapped with Abort short-circuits remaining attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var abort *abortError
		if errors.As(lastErr, &abort) {
			return abort.err
		}

		// Last attempt — no delay, just return the error.
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		select {
		case <-time.After(cfg.Delay(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}
