package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunFunc is invoked once per interval.
type RunFunc func(ctx context.Context, started time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// RunOnStart triggers an immediate first run instead of waiting a
	// full interval.
	RunOnStart bool
}

// Scheduler drives periodic execution of polling runs. A run's error is
// logged, never fatal; the next tick still happens.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking fn every interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, fn RunFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.execute(ctx, fn)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.execute(ctx, fn)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, fn RunFunc) {
	started := time.Now().UTC()
	s.logger.Info().Time("started", started).Msg("executing scheduled run")
	if err := fn(ctx, started); err != nil {
		s.logger.Error().Err(err).Time("started", started).Msg("scheduled run failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
