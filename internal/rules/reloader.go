package rules

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Reloader holds a rule list behind an atomically swapped pointer and
// refreshes it on a fixed interval. A failed reload keeps the previous set.
type Reloader[T any] struct {
	load     func(ctx context.Context) ([]T, error)
	interval time.Duration
	current  atomic.Pointer[[]T]
	log      *zap.Logger
}

// NewReloader creates a reloader. An interval of 0 disables periodic
// refresh; the set loaded by Load at startup is kept for the process
// lifetime.
func NewReloader[T any](load func(ctx context.Context) ([]T, error), interval time.Duration, logger *zap.Logger) *Reloader[T] {
	r := &Reloader[T]{load: load, interval: interval, log: logger}
	empty := []T{}
	r.current.Store(&empty)
	return r
}

// Load performs the initial load. Workers call this once before consuming.
func (r *Reloader[T]) Load(ctx context.Context) error {
	loaded, err := r.load(ctx)
	if err != nil {
		return err
	}
	r.current.Store(&loaded)
	return nil
}

// Rules returns the current rule list. The returned slice is never mutated;
// callers capture it once per event.
func (r *Reloader[T]) Rules() []T {
	return *r.current.Load()
}

// Run refreshes the rule set every interval until ctx is done. Reload
// failures are logged and the previous set is retained.
func (r *Reloader[T]) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			loaded, err := r.load(ctx)
			if err != nil {
				r.log.Error("failed to reload rules", zap.Error(err))
				continue
			}
			r.current.Store(&loaded)
		}
	}
}
