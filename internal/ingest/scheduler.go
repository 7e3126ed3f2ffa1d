package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/store"
)

const (
	DefaultInterval = 30 * time.Minute

	// Retry cadence while the weather source is unavailable or a cycle fails.
	RetryInitialInterval = time.Minute
	RetryMaxInterval     = 15 * time.Minute

	RawPayloadRetentionDays = 45
	FetchRunRetentionDays   = 30

	housekeepingSpec = "15 3 * * *"
)

type SchedulerConfig struct {
	Coordinator *Coordinator
	Store       *store.Store
	Logger      *zap.Logger
	Interval    time.Duration
	Now         func() time.Time
}

// Scheduler owns the published forecast state and runs refresh cycles on a
// timer, on request, and never two at once.
type Scheduler struct {
	coord    *Coordinator
	store    *store.Store
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
	retry    *backoff.ExponentialBackOff

	runMu sync.Mutex

	mu          sync.RWMutex
	state       *forecast.State
	lastErr     error
	subscribers []func(*forecast.State)
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = RetryInitialInterval
	retry.Multiplier = 2
	retry.RandomizationFactor = 0
	retry.MaxInterval = min(RetryMaxInterval, cfg.Interval/2)
	retry.MaxElapsedTime = 0
	retry.Reset()

	return &Scheduler{
		coord:    cfg.Coordinator,
		store:    cfg.Store,
		logger:   cfg.Logger.Named("scheduler"),
		interval: cfg.Interval,
		now:      cfg.Now,
		retry:    retry,
	}
}

// State returns the published state, nil before the first cycle or restore.
func (s *Scheduler) State() *forecast.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError is the error of the most recent cycle, nil if it succeeded.
func (s *Scheduler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Subscribe registers fn to be called with every published state.
func (s *Scheduler) Subscribe(fn func(*forecast.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Scheduler) publish(state *forecast.State) {
	s.mu.Lock()
	s.state = state
	subs := append([]func(*forecast.State){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// Restore publishes the persisted forecast if it is recent enough. It
// reports whether a state was published.
func (s *Scheduler) Restore() bool {
	if s.store == nil {
		return false
	}
	p, err := s.store.LoadForecast()
	if err != nil {
		s.logger.Warn("load persisted forecast", zap.Error(err))
		return false
	}
	if p == nil {
		return false
	}

	state, err := forecast.Restore(*p, s.now())
	if errors.Is(err, forecast.ErrStale) {
		s.logger.Info("persisted forecast too old, ignoring", zap.Time("saved", p.Timestamp))
		return false
	}
	if err != nil {
		s.logger.Warn("restore forecast", zap.Error(err))
		return false
	}
	if overrides, err := s.store.GetSnowOverrides(); err == nil {
		state.SnowOverrides = overrides
	}

	s.publish(state)
	s.logger.Info("restored persisted forecast",
		zap.Time("saved", p.Timestamp),
		zap.Int("hours", len(p.WhHours)))
	return true
}

// RunOnce runs a single refresh cycle and publishes the result.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	next, err := s.coord.Refresh(ctx, s.State())

	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("refresh failed", zap.Error(err))
		return err
	}

	s.publish(next)
	s.save(next)
	return nil
}

func (s *Scheduler) save(state *forecast.State) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveForecast(state.Persist()); err != nil {
		s.logger.Warn("persist forecast", zap.Error(err))
	}
}

// nextInterval is the wait before the next cycle given the outcome of the
// last one.
func (s *Scheduler) nextInterval(err error) time.Duration {
	state := s.State()
	if err != nil || state == nil || !state.WeatherAvailable {
		return s.retry.NextBackOff()
	}
	s.retry.Reset()
	return s.interval
}

// Housekeeping prunes old raw payloads and fetch runs.
func (s *Scheduler) Housekeeping() {
	if s.store == nil {
		return
	}
	payloads, err := s.store.CleanupOldRawPayloads(RawPayloadRetentionDays)
	if err != nil {
		s.logger.Warn("cleanup raw payloads", zap.Error(err))
	}
	runs, err := s.store.CleanupOldFetchRuns(FetchRunRetentionDays)
	if err != nil {
		s.logger.Warn("cleanup fetch runs", zap.Error(err))
	}
	fields := []zap.Field{
		zap.Int64("raw_payloads_deleted", payloads),
		zap.Int64("fetch_runs_deleted", runs),
	}
	if stats, err := s.store.GetRawPayloadStats(); err == nil {
		fields = append(fields,
			zap.Int("raw_payloads_kept", stats.TotalCount),
			zap.Int64("raw_payload_bytes", stats.TotalSizeBytes))
	}
	s.logger.Info("housekeeping complete", fields...)
}

// Run restores, refreshes once, then keeps refreshing until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.Restore()
	s.coord.LoadCachedTables()
	if err := s.coord.LoadOverrides(); err != nil {
		s.logger.Warn("load snow overrides", zap.Error(err))
	}

	jobs := cron.New(cron.WithLocation(s.coord.Location().TZ))
	if _, err := jobs.AddFunc(housekeepingSpec, s.Housekeeping); err != nil {
		s.logger.Error("schedule housekeeping", zap.Error(err))
	}
	jobs.Start()
	defer jobs.Stop()

	wait := s.nextInterval(s.RunOnce(ctx))
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		s.logger.Debug("next refresh scheduled", zap.Duration("in", wait))
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: shutting down")
			return
		case <-timer.C:
		case <-s.coord.Requests():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		wait = s.nextInterval(s.RunOnce(ctx))
		timer.Reset(wait)
	}
}
