package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ai-viability-watch/internal/alerting"
	"ai-viability-watch/internal/classify"
	"ai-viability-watch/internal/config"
	"ai-viability-watch/internal/credit"
	"ai-viability-watch/internal/fetcher"
	"ai-viability-watch/internal/scheduler"
	"ai-viability-watch/internal/storage"
)

const maxConcurrentFetches = 8

// Binding attaches a live source to an optional rule set. Spread sources
// quote CDS spreads in bps and are converted to a default probability
// before classification.
type Binding struct {
	Source fetcher.Source
	Metric string
	Spread bool
}

// Evaluation is the classification of one observation.
type Evaluation struct {
	Source string
	Result classify.Result
	// Alerted is true when the evaluation crossed the alert severity and
	// was not suppressed by the cooldown.
	Alerted bool
}

// Service orchestrates fetching, caching, classification and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	bindings   []Binding
	store      storage.ObservationStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	table       classify.Table
	estimator   credit.Estimator
	minSeverity classify.Severity
	cooldown    time.Duration
	retention   time.Duration
	channels    []string
	alertsOn    bool
	locker      storage.AdvisoryLocker
	lockKey     int64

	mu        sync.RWMutex
	latest    map[string]storage.Observation
	lastAlert map[string]time.Time
	now       func() time.Time
}

// New constructs the refresh service.
func New(cfg *config.Config, sched *scheduler.Scheduler, bindings []Binding, store storage.ObservationStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) (*Service, error) {
	estimator, err := cfg.Estimator()
	if err != nil {
		return nil, err
	}
	table := cfg.RuleTable()
	for _, b := range bindings {
		if b.Metric == "" {
			continue
		}
		if _, err := table.Lookup(b.Metric); err != nil {
			return nil, fmt.Errorf("source %s: %w", b.Source.Name(), err)
		}
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:   sched,
		bindings:    bindings,
		store:       store,
		alertStore:  alertStore,
		notifier:    notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		table:       table,
		estimator:   estimator,
		minSeverity: classify.Severity(cfg.Alerting.MinSeverity),
		cooldown:    cfg.Alerting.Cooldown,
		retention:   cfg.Alerting.Retention,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		latest:      make(map[string]storage.Observation),
		lastAlert:   make(map[string]time.Time),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run begins the refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if len(s.bindings) == 0 {
		s.logger.Warn().Msg("no live sources configured; refresh loop idles")
	}
	return s.scheduler.Run(ctx, s.Refresh)
}

// Warm seeds the in-memory cache with the newest stored observations.
func (s *Service) Warm(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	observations, err := s.store.LatestObservations(ctx)
	if err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	s.mu.Lock()
	for _, obs := range observations {
		s.latest[obs.Source] = obs
	}
	s.mu.Unlock()
	s.logger.Info().Int("observations", len(observations)).Msg("cache warmed from storage")
	return nil
}

// Latest returns the cached observation of every source, sorted by name.
func (s *Service) Latest() []storage.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Observation, 0, len(s.latest))
	for _, obs := range s.latest {
		out = append(out, obs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Refresh 执行单个时间桶的刷新逻辑。
func (s *Service) Refresh(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.refreshBucket(ctx, bucket)
	s.pruneAlerts(ctx)
	return err
}

func (s *Service) pruneAlerts(ctx context.Context) {
	if s.alertStore == nil || s.retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)
	if err := s.alertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
		s.logger.Warn().Err(err).Time("cutoff", cutoff).Msg("failed to prune alert records")
	}
}

type fetchResult struct {
	obs fetcher.Observation
	err error
}

func (s *Service) refreshBucket(ctx context.Context, bucket time.Time) ([]Evaluation, error) {
	results := make([]fetchResult, len(s.bindings))

	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)
	for i, b := range s.bindings {
		i, b := i, b
		g.Go(func() error {
			obs, err := b.Source.Fetch(ctx)
			results[i] = fetchResult{obs: obs, err: err}
			return nil
		})
	}
	_ = g.Wait() // errors are carried per source

	var (
		evaluations []Evaluation
		failures    []error
	)
	for i, b := range s.bindings {
		name := b.Source.Name()
		record := s.toRecord(bucket, name, results[i])

		if s.store != nil {
			if err := s.store.UpsertObservation(ctx, record); err != nil {
				s.logger.Error().Err(err).Time("bucket", bucket).Str("source", name).Msg("failed to upsert observation")
			}
		}

		if results[i].err != nil {
			failures = append(failures, fmt.Errorf("source %s: %w", name, results[i].err))
			s.logger.Warn().Err(results[i].err).Time("bucket", bucket).Str("source", name).Msg("source fetch failed")
			continue
		}

		s.mu.Lock()
		s.latest[name] = record
		s.mu.Unlock()

		s.logger.Info().Time("bucket", bucket).
			Str("source", name).
			Str("value", results[i].obs.Value.String()).
			Msg("observation recorded")

		if b.Metric == "" {
			continue
		}
		eval, ok, err := s.Evaluate(ctx, bucket, name, b.Metric, results[i].obs.Value, b.Spread)
		if err != nil {
			failures = append(failures, fmt.Errorf("source %s: %w", name, err))
			s.logger.Error().Err(err).Str("source", name).Msg("classification failed")
			continue
		}
		if ok {
			evaluations = append(evaluations, eval)
		}
	}

	return evaluations, errors.Join(failures...)
}

func (s *Service) toRecord(bucket time.Time, name string, res fetchResult) storage.Observation {
	record := storage.Observation{
		Bucket:    bucket,
		Source:    name,
		Status:    storage.StatusComplete,
		CreatedAt: s.now(),
	}
	if res.err != nil {
		msg := res.err.Error()
		record.Status = storage.StatusErrored
		record.Error = &msg
		return record
	}

	record.Value = decimal.NewNullDecimal(res.obs.Value)
	record.Unit = res.obs.Unit
	record.Raw = res.obs.Raw
	if res.obs.BlockNumber != 0 {
		block := int64(res.obs.BlockNumber)
		record.BlockNumber = &block
	}
	return record
}

// Evaluate classifies a value against the metric's rule set and dispatches
// an alert when the severity warrants it. ok is false when the value carries
// no signal (a negative spread).
func (s *Service) Evaluate(ctx context.Context, bucket time.Time, source, metric string, value decimal.Decimal, spread bool) (Evaluation, bool, error) {
	rules, err := s.table.Lookup(metric)
	if err != nil {
		return Evaluation{}, false, err
	}

	scalar := value
	if spread {
		pd, err := s.estimator.Estimate(decimal.NewNullDecimal(value))
		if err != nil {
			return Evaluation{}, false, err
		}
		if !pd.Valid {
			return Evaluation{}, false, nil
		}
		scalar = pd.Decimal
	}

	result, err := classify.Classify(scalar.InexactFloat64(), rules)
	if err != nil {
		return Evaluation{}, false, err
	}

	eval := Evaluation{Source: source, Result: result}
	if s.shouldAlert(result.Severity) {
		eval.Alerted = s.dispatch(ctx, bucket, source, result, scalar)
	}
	return eval, true, nil
}

func (s *Service) shouldAlert(sev classify.Severity) bool {
	return s.alertsOn && sev.Rank() >= s.minSeverity.Rank()
}

func (s *Service) dispatch(ctx context.Context, bucket time.Time, source string, result classify.Result, value decimal.Decimal) bool {
	key := result.Metric + "/" + source
	now := s.now()

	s.mu.Lock()
	last, seen := s.lastAlert[key]
	if seen && s.cooldown > 0 && now.Sub(last) < s.cooldown {
		s.mu.Unlock()
		s.logger.Debug().Str("metric", result.Metric).Str("source", source).Msg("alert suppressed by cooldown")
		return false
	}
	s.lastAlert[key] = now
	s.mu.Unlock()

	if s.alertStore != nil {
		record := storage.AlertRecord{
			Bucket:   bucket,
			Metric:   result.Metric,
			Source:   source,
			Value:    value,
			Label:    result.Label,
			Severity: string(result.Severity),
			Channels: s.channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist alert record")
		}
	}

	if s.notifier != nil {
		note := alerting.Notification{
			Bucket:   bucket,
			Metric:   result.Metric,
			Source:   source,
			Value:    value,
			Unit:     result.Unit,
			Label:    result.Label,
			Severity: string(result.Severity),
			Channels: s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch alert")
		}
	}
	return true
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
