package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// had an open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallbacks of the same
// provider type, each behind its own breaker. Entries are registered during
// construction and never removed.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry. Entries are tried in registration order.
// AddFallback must not be called concurrently with Execute.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// States returns the breaker state of every entry, keyed by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// ExecuteWithResult calls fn with each entry in order until one succeeds.
// Entries with an open breaker are skipped. A [Neutral] error stops the walk
// and is returned as is; otherwise all errors are joined and wrapped in
// [ErrAllFailed].
//
// The walk also stops once ctx is done. The entry that was running when the
// deadline passed is charged for it; entries after it are never called, so
// a slow primary cannot open the breakers of healthy fallbacks.
//
// fn receives the entry name so callers can label metrics and logs.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(name string, v T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.name, entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if Neutral(err) {
			return zero, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider", "provider", entry.name, "reason", "circuit open")
		} else {
			slog.Warn("resilience: provider failed, trying next", "provider", entry.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
