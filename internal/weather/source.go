package weather

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/httputil"
)

var (
	// ErrUnavailable means the source exists but is not ready yet. It is a
	// state, not a failure.
	ErrUnavailable = errors.New("weather: source unavailable")

	// ErrNotSupported means the source cannot serve the requested granularity.
	ErrNotSupported = errors.New("weather: granularity not supported")
)

// Granularity selects which forecast a source is asked for.
type Granularity string

const (
	Hourly  Granularity = "hourly"
	Daily   Granularity = "daily"
	Current Granularity = "current"
)

// fallbackOrder is tried until a granularity yields cloud coverage.
var fallbackOrder = []Granularity{Hourly, Daily, Current}

// Entry is one forecast row.
type Entry struct {
	Datetime      string   `json:"datetime"`
	CloudCoverage *float64 `json:"cloud_coverage,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Precipitation *float64 `json:"precipitation,omitempty"`
	Snow          *float64 `json:"snow,omitempty"`
}

// Source is a weather forecast provider.
type Source interface {
	Name() string
	Forecast(ctx context.Context, g Granularity) ([]Entry, *httputil.FetchResult, error)
}

// FetchObserver is told about every upstream attempt, for auditing.
type FetchObserver func(source string, g Granularity, result *httputil.FetchResult, err error)

// Result is what one refresh cycle learns about the weather.
type Result struct {
	Coverage    Coverage
	Signals     Signals
	Available   bool
	Granularity Granularity // of the primary coverage, empty if none
}

// Fetcher combines a primary and an optional secondary source.
type Fetcher struct {
	Primary   Source
	Secondary Source
	Location  *time.Location
	Observe   FetchObserver
	Logger    *zap.Logger
}

// Fetch gathers coverage and snow signals. With no primary source the
// forecast is clear sky and considered available. A primary source that is
// not ready makes the result unavailable; other errors degrade to empty data.
func (f *Fetcher) Fetch(ctx context.Context) Result {
	res := Result{Coverage: Coverage{}, Signals: NewSignals(), Available: true}
	if f.Primary == nil {
		return res
	}

	cov, g, hourly, err := f.coverage(ctx, f.Primary)
	if errors.Is(err, ErrUnavailable) {
		f.logger().Debug("primary weather source not ready", zap.String("source", f.Primary.Name()))
		res.Available = false
		return res
	}
	res.Coverage = cov
	res.Granularity = g
	res.Signals = SignalsFromEntries(hourly, f.Location)

	if f.Secondary != nil {
		secondary, _, _, err := f.coverage(ctx, f.Secondary)
		if err != nil {
			f.logger().Debug("secondary weather source failed", zap.String("source", f.Secondary.Name()), zap.Error(err))
		}
		if len(secondary) > 0 {
			res.Coverage = MergeCoverage(res.Coverage, secondary)
			f.logger().Debug("merged cloud coverage",
				zap.Int("primary", len(cov)),
				zap.Int("secondary", len(secondary)),
				zap.Int("merged", len(res.Coverage)))
		}
	}
	return res
}

// coverage walks the fallback order. It also returns the hourly entries,
// which carry the snow signals.
func (f *Fetcher) coverage(ctx context.Context, src Source) (Coverage, Granularity, []Entry, error) {
	var hourly []Entry
	var lastErr error
	for _, g := range fallbackOrder {
		entries, result, err := src.Forecast(ctx, g)
		if result != nil {
			f.validate(entries, result)
		}
		if f.Observe != nil {
			f.Observe(src.Name(), g, result, err)
		}
		if errors.Is(err, ErrUnavailable) {
			return nil, "", nil, err
		}
		if err != nil {
			if !errors.Is(err, ErrNotSupported) {
				f.logger().Debug("weather forecast failed, trying next granularity",
					zap.String("source", src.Name()),
					zap.String("granularity", string(g)),
					zap.Error(err))
				lastErr = err
			}
			continue
		}
		if g == Hourly {
			hourly = entries
		}
		if cov := CoverageFromEntries(entries); len(cov) > 0 {
			return cov, g, hourly, nil
		}
	}
	return Coverage{}, "", hourly, lastErr
}

func (f *Fetcher) validate(entries []Entry, result *httputil.FetchResult) {
	var problems []string
	for i := range entries {
		if flags := ValidateEntry(&entries[i]); len(flags) > 0 {
			problems = append(problems, describeFlags(entries[i].Datetime, flags))
		}
	}
	if len(problems) > 0 {
		result.NoteParseErrors(problems)
		f.logger().Warn("implausible weather values dropped", zap.Int("count", len(problems)), zap.String("first", problems[0]))
	}
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// CoverageFromEntries keeps entries with both a timestamp and coverage.
func CoverageFromEntries(entries []Entry) Coverage {
	cov := Coverage{}
	for _, e := range entries {
		if e.Datetime == "" || e.CloudCoverage == nil {
			continue
		}
		cov[e.Datetime] = *e.CloudCoverage
	}
	return cov
}

// SignalsFromEntries extracts snow detection inputs. When no entry carries a
// temperature, all series are returned empty.
func SignalsFromEntries(entries []Entry, loc *time.Location) Signals {
	s := NewSignals()
	for _, e := range entries {
		if e.Datetime == "" {
			continue
		}
		ts, err := ParseTimestamp(e.Datetime, loc)
		if err != nil {
			continue
		}
		if e.Temperature != nil {
			s.Temperature.Set(ts, *e.Temperature)
		}
		if e.Precipitation != nil {
			s.Precipitation.Set(ts, *e.Precipitation)
		}
		if e.Snow != nil {
			s.Snow.Set(ts, *e.Snow)
		}
	}
	if s.Empty() {
		return NewSignals()
	}
	return s
}
