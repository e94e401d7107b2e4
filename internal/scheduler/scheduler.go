package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RefreshFunc is invoked once per refresh bucket.
type RefreshFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	// RefreshOnStart runs one refresh for the current bucket before waiting
	// for the next boundary, so a fresh process does not serve an empty cache.
	RefreshOnStart bool
	StartupDelay   time.Duration
}

// Scheduler drives the periodic refresh of live sources.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Interval returns the configured refresh interval.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// CurrentBucket returns the bucket containing now.
func (s *Scheduler) CurrentBucket() time.Time {
	return s.now().Truncate(s.opts.Interval)
}

// Run blocks, invoking refresh at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, refresh RefreshFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RefreshOnStart {
		s.execute(ctx, refresh, s.CurrentBucket())
	}

	next := s.nextTick(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			next = s.nextTick(s.now())
			delay = next.Sub(s.now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next refresh")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.execute(ctx, refresh, s.bucketStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, refresh RefreshFunc, bucket time.Time) {
	s.logger.Info().Time("bucket", bucket).Msg("executing scheduled refresh")
	if err := refresh(ctx, bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("refresh failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
