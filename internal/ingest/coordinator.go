package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/httputil"
	"github.com/lox/solarcast/internal/metrics"
	"github.com/lox/solarcast/internal/models"
	"github.com/lox/solarcast/internal/pvgis"
	"github.com/lox/solarcast/internal/snow"
	"github.com/lox/solarcast/internal/store"
	"github.com/lox/solarcast/internal/weather"
)

var ErrUnknownArray = errors.New("ingest: unknown array")

// RadiationFetcher downloads the clear-sky table for one array.
type RadiationFetcher interface {
	Fetch(ctx context.Context, loc models.Location, arr models.ArrayConfig) (*pvgis.Table, *httputil.FetchResult, error)
}

// WeatherFetcher gathers cloud coverage and snow signals for one cycle.
type WeatherFetcher interface {
	Fetch(ctx context.Context) weather.Result
}

type CoordinatorConfig struct {
	Location  models.Location
	Arrays    []models.ArrayConfig
	Radiation RadiationFetcher
	Weather   WeatherFetcher // nil means clear sky
	Store     *store.Store   // nil disables auditing and persistence
	Logger    *zap.Logger
	Now       func() time.Time
}

// Coordinator runs refresh cycles. Cycles must not overlap; the Scheduler
// guarantees that.
type Coordinator struct {
	loc       models.Location
	arrays    []models.ArrayConfig
	radiation RadiationFetcher
	weather   WeatherFetcher
	store     *store.Store
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	tables   map[string]*pvgis.Table
	pending  map[string]models.SnowOverride
	cycleID  string
	requests chan struct{}
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location.TZ == nil {
		cfg.Location.TZ = time.UTC
	}
	arrays := make([]models.ArrayConfig, len(cfg.Arrays))
	for i, a := range cfg.Arrays {
		arrays[i] = a.WithDefaults()
	}
	return &Coordinator{
		loc:       cfg.Location,
		arrays:    arrays,
		radiation: cfg.Radiation,
		weather:   cfg.Weather,
		store:     cfg.Store,
		logger:    cfg.Logger.Named("coordinator"),
		now:       cfg.Now,
		tables:    make(map[string]*pvgis.Table),
		pending:   make(map[string]models.SnowOverride),
		requests:  make(chan struct{}, 1),
	}
}

// Arrays returns the configured arrays in order.
func (c *Coordinator) Arrays() []models.ArrayConfig {
	return append([]models.ArrayConfig(nil), c.arrays...)
}

// Location returns the configured site.
func (c *Coordinator) Location() models.Location {
	return c.loc
}

func (c *Coordinator) array(name string) (models.ArrayConfig, bool) {
	for _, a := range c.arrays {
		if a.Name == name {
			return a, true
		}
	}
	return models.ArrayConfig{}, false
}

// Requests delivers refresh requests made outside the schedule.
func (c *Coordinator) Requests() <-chan struct{} {
	return c.requests
}

// RequestRefresh asks for an immediate cycle. Requests made while one is
// already pending collapse into it.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// SetSnowOverride persists an override for the next cycle and requests it.
func (c *Coordinator) SetSnowOverride(name string, o models.SnowOverride) error {
	if _, ok := c.array(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownArray, name)
	}
	if c.store != nil {
		if err := c.store.SetSnowOverride(name, o); err != nil {
			return fmt.Errorf("persist snow override: %w", err)
		}
	}

	c.mu.Lock()
	c.pending[name] = o
	c.mu.Unlock()

	c.logger.Info("snow override set", zap.String("array", name), zap.Stringer("state", o))
	c.RequestRefresh()
	return nil
}

// LoadOverrides stages the stored overrides for the next cycle.
func (c *Coordinator) LoadOverrides() error {
	if c.store == nil {
		return nil
	}
	stored, err := c.store.GetSnowOverrides()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, o := range stored {
		if _, ok := c.array(name); !ok {
			continue
		}
		if _, staged := c.pending[name]; !staged {
			c.pending[name] = o
		}
	}
	return nil
}

// LoadCachedTables rebuilds radiation tables from stored payloads younger
// than the refresh interval. Such a table counts as a successful fetch.
func (c *Coordinator) LoadCachedTables() {
	if c.store == nil {
		return
	}
	now := c.now()
	for _, arr := range c.arrays {
		raw, err := c.store.LatestRawPayload("pvgis", "seriescalc", arr.Name)
		if err != nil {
			c.logger.Warn("load cached radiation table", zap.String("array", arr.Name), zap.Error(err))
			continue
		}
		if raw == nil || now.Sub(raw.FetchedAt) > pvgis.RefreshInterval {
			continue
		}
		body, err := raw.Payload()
		if err != nil {
			c.logger.Warn("decompress cached radiation table", zap.String("array", arr.Name), zap.Error(err))
			continue
		}
		table, _, err := pvgis.Parse(body)
		if err != nil {
			c.logger.Warn("parse cached radiation table", zap.String("array", arr.Name), zap.Error(err))
			continue
		}
		table.FetchedAt = raw.FetchedAt
		c.mu.Lock()
		c.tables[arr.Name] = table
		c.mu.Unlock()
		c.logger.Info("using cached radiation table",
			zap.String("array", arr.Name),
			zap.Time("fetched_at", raw.FetchedAt),
			zap.Int("slots", table.Len()))
	}
}

// Refresh runs one cycle and returns the next state. prev may be nil. The
// only error is a radiation failure for an array that never had a table.
func (c *Coordinator) Refresh(ctx context.Context, prev *forecast.State) (*forecast.State, error) {
	start := time.Now()
	c.mu.Lock()
	c.cycleID = uuid.NewString()
	cycleID := c.cycleID
	c.mu.Unlock()
	logger := c.logger.With(zap.String("cycle", cycleID))

	now := c.now().In(c.loc.TZ)

	if err := c.refreshTables(ctx, now, logger); err != nil {
		metrics.RefreshCycles.WithLabelValues("failed").Inc()
		return nil, err
	}

	w := weather.Result{Coverage: weather.Coverage{}, Signals: weather.NewSignals(), Available: true}
	if c.weather != nil {
		w = c.weather.Fetch(ctx)
	}

	state := forecast.NewState(prev, now)
	c.mu.Lock()
	for name, o := range c.pending {
		state = state.WithOverride(name, o)
	}
	clear(c.pending)
	tables := make(map[string]*pvgis.Table, len(c.tables))
	for name, t := range c.tables {
		tables[name] = t
	}
	c.mu.Unlock()

	state.WeatherAvailable = w.Available
	state.CloudCoverageUsed = coverageUsed(w.Coverage, now)

	var clearNow, clearToday float64
	for _, arr := range c.arrays {
		table := tables[arr.Name]
		if table == nil {
			continue
		}

		detector := &snow.Detector{Array: arr, Table: table, Signals: w.Signals}
		covered := detector.Detect(state.Override(arr.Name), now)

		f := forecast.ComputeArray(forecast.ArrayInput{
			Table:       table,
			Coverage:    w.Coverage,
			Now:         now,
			SnowCovered: covered,
			Predictor:   detector,
		})
		state.Arrays[arr.Name] = f

		p, e := forecast.ClearSkyDiagnostics(table, now)
		clearNow += p
		clearToday += e

		metrics.EnergyTodayWh.WithLabelValues(arr.Name).Set(f.EnergyToday)
		metrics.PowerNowWatts.WithLabelValues(arr.Name).Set(f.PowerNow)
		metrics.SnowCovered.WithLabelValues(arr.Name).Set(boolGauge(covered))
	}
	state.ClearSkyPowerNow = math.Round(clearNow)
	state.ClearSkyEnergyToday = math.Round(clearToday/1000*100) / 100
	state.Finish(now)

	metrics.EnergyTodayWh.WithLabelValues("total").Set(state.Total.EnergyToday)
	metrics.PowerNowWatts.WithLabelValues("total").Set(state.Total.PowerNow)
	metrics.WeatherAvailable.Set(boolGauge(w.Available))
	metrics.HistorySnapshots.Set(float64(len(state.History)))
	metrics.RefreshCycles.WithLabelValues("ok").Inc()
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())

	logger.Info("forecast refreshed",
		zap.Int("arrays", len(state.Arrays)),
		zap.Bool("weather_available", w.Available),
		zap.String("granularity", string(w.Granularity)),
		zap.Int("coverage_points", len(w.Coverage)),
		zap.Float64("energy_today_wh", state.Total.EnergyToday),
		zap.Float64("energy_tomorrow_wh", state.Total.EnergyTomorrow),
		zap.Int("snapshots", len(state.History)),
		zap.Duration("took", time.Since(start)))
	return state, nil
}

func (c *Coordinator) refreshTables(ctx context.Context, now time.Time, logger *zap.Logger) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, arr := range c.arrays {
		c.mu.Lock()
		cached := c.tables[arr.Name]
		c.mu.Unlock()
		if cached != nil && now.Sub(cached.FetchedAt) <= pvgis.RefreshInterval {
			continue
		}

		g.Go(func() error {
			table, err := c.fetchTable(gCtx, arr)
			if err != nil {
				if cached == nil {
					return fmt.Errorf("fetch radiation data for %s: %w", arr.Name, err)
				}
				logger.Warn("radiation refresh failed, using cached table",
					zap.String("array", arr.Name),
					zap.Time("fetched_at", cached.FetchedAt),
					zap.Error(err))
				return nil
			}
			c.mu.Lock()
			c.tables[arr.Name] = table
			c.mu.Unlock()
			logger.Info("radiation table refreshed", zap.String("array", arr.Name), zap.Int("slots", table.Len()))
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) fetchTable(ctx context.Context, arr models.ArrayConfig) (*pvgis.Table, error) {
	run := c.startRun("pvgis", "seriescalc", &arr.Name)
	table, result, err := c.radiation.Fetch(ctx, c.loc, arr)
	if result != nil && result.ParseErrors > 0 {
		c.logger.Warn("skipped malformed radiation rows",
			zap.String("array", arr.Name),
			zap.Int("skipped", result.ParseErrors),
			zap.String("first", result.ParseError))
	}
	c.completeRun(run, "pvgis", &arr.Name, result, err)
	return table, err
}

// ObserveWeather records weather fetch attempts; it is a weather.FetchObserver.
func (c *Coordinator) ObserveWeather(source string, g weather.Granularity, result *httputil.FetchResult, err error) {
	if errors.Is(err, weather.ErrNotSupported) {
		return
	}
	endpoint := "forecast/" + string(g)
	if result != nil && result.Endpoint != "" {
		endpoint = result.Endpoint
	}
	run := c.startRun(source, endpoint, nil)
	c.completeRun(run, source, nil, result, err)
}

func (c *Coordinator) startRun(source, endpoint string, arrayName *string) *store.FetchRun {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	cycleID := c.cycleID
	c.mu.Unlock()
	run, err := c.store.StartFetchRun(cycleID, source, endpoint, arrayName)
	if err != nil {
		c.logger.Warn("start fetch run", zap.String("source", source), zap.Error(err))
		return nil
	}
	return run
}

func (c *Coordinator) completeRun(run *store.FetchRun, source string, arrayName *string, result *httputil.FetchResult, err error) {
	if run == nil {
		return
	}
	run.Success = err == nil
	if result != nil {
		run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: result.ResponseSize > 0}
		run.RecordsParsed = sql.NullInt64{Int64: int64(result.RecordCount), Valid: true}
		if result.ParseErrors > 0 {
			run.ParseErrors = sql.NullInt64{Int64: int64(result.ParseErrors), Valid: true}
			run.ErrorMessage = sql.NullString{String: result.ParseError, Valid: true}
		}
		if len(result.Body) > 0 && err == nil {
			if _, serr := c.store.StoreRawPayload(&run.ID, source, run.Endpoint, arrayName, result.Body); serr != nil {
				c.logger.Warn("store raw payload", zap.String("source", source), zap.Error(serr))
			}
		}
	}
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}
	if cerr := c.store.CompleteFetchRun(run); cerr != nil {
		c.logger.Warn("complete fetch run", zap.String("source", source), zap.Error(cerr))
	}
}

// coverageUsed is the coverage at the current hour, or else the earliest
// entry, for diagnostics.
func coverageUsed(cov weather.Coverage, now time.Time) *float64 {
	if len(cov) == 0 {
		return nil
	}
	if v, ok := cov.At(now.Truncate(time.Hour)); ok {
		return &v
	}
	keys := cov.Keys()
	v := cov[keys[0]]
	return &v
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
