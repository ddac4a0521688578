// Package poller waits for lazily rendered page state with a bounded number of
// fixed-interval probes.
package poller

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the attempt budget is exhausted.
var ErrTimeout = errors.New("poller: attempts exhausted")

// Probe checks for the awaited state. ok reports whether it was found.
type Probe[T any] func(ctx context.Context) (value T, ok bool)

// Config bounds a wait.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	// NudgeEvery runs Nudge after every NudgeEvery-th unsuccessful attempt.
	// Zero disables nudging.
	NudgeEvery int
	Nudge      func(ctx context.Context)
}

// Result is the outcome of a successful wait.
type Result[T any] struct {
	Value    T
	Attempts int
}

// WaitFor probes once per interval, the first probe one interval after the
// call. It returns the first successful value, ErrTimeout once MaxAttempts
// probes have failed, or the context error. The ticker is released on every
// path.
func WaitFor[T any](ctx context.Context, cfg Config, probe Probe[T]) (Result[T], error) {
	if cfg.MaxAttempts <= 0 {
		return Result[T]{}, ErrTimeout
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return Result[T]{Attempts: attempts}, ctx.Err()
		case <-ticker.C:
		}

		attempts++
		if v, ok := probe(ctx); ok {
			return Result[T]{Value: v, Attempts: attempts}, nil
		}
		if cfg.NudgeEvery > 0 && cfg.Nudge != nil && attempts%cfg.NudgeEvery == 0 {
			cfg.Nudge(ctx)
		}
		if attempts >= cfg.MaxAttempts {
			return Result[T]{Attempts: attempts}, ErrTimeout
		}
	}
}
