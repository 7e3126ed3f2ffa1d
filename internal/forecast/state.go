package forecast

import (
	"errors"
	"maps"
	"time"

	"github.com/lox/solarcast/internal/models"
)

// RestoreMaxAge is the oldest persisted forecast Restore accepts.
const RestoreMaxAge = 24 * time.Hour

var ErrStale = errors.New("forecast: persisted forecast is too old")

// State is the published result of one refresh cycle. It is never mutated
// after publication; the next cycle builds a new one from it.
type State struct {
	Arrays              map[string]ArrayForecast       `json:"arrays"`
	Total               *ArrayForecast                 `json:"total"`
	CloudCoverageUsed   *float64                       `json:"cloud_coverage_used"`
	WeatherAvailable    bool                           `json:"weather_available"`
	ClearSkyPowerNow    float64                        `json:"clear_sky_power_now"`
	ClearSkyEnergyToday float64                        `json:"clear_sky_energy_today"`
	SnowOverrides       map[string]models.SnowOverride `json:"snow_overrides"`
	History             []Snapshot                     `json:"-"`
	UpdatedAt           time.Time                      `json:"updated_at"`
	// Restored is set on states rebuilt from a persisted record.
	Restored bool `json:"restored,omitempty"`
}

// NewState starts the next cycle's state from prev, which may be nil. Only
// the snow overrides and the pruned history carry over.
func NewState(prev *State, now time.Time) *State {
	s := &State{
		Arrays:           map[string]ArrayForecast{},
		WeatherAvailable: true,
		SnowOverrides:    map[string]models.SnowOverride{},
		UpdatedAt:        now,
	}
	if prev != nil {
		maps.Copy(s.SnowOverrides, prev.SnowOverrides)
		s.History = PruneHistory(prev.History, now, HistoryDays)
	}
	return s
}

// Override returns the array's snow override, SnowAuto when unset.
func (s *State) Override(name string) models.SnowOverride {
	if s == nil {
		return models.SnowAuto
	}
	return s.SnowOverrides[name]
}

// WithOverride returns a copy of s with the override applied. SnowAuto
// removes the entry.
func (s *State) WithOverride(name string, o models.SnowOverride) *State {
	next := *s
	next.SnowOverrides = maps.Clone(s.SnowOverrides)
	if next.SnowOverrides == nil {
		next.SnowOverrides = map[string]models.SnowOverride{}
	}
	if o == models.SnowAuto {
		delete(next.SnowOverrides, name)
	} else {
		next.SnowOverrides[name] = o
	}
	return &next
}

// Finish sets the total from the per-array forecasts and records it as a
// snapshot.
func (s *State) Finish(now time.Time) {
	total := ComputeTotal(s.Arrays, now)
	s.Total = &total
	s.History = append(s.History, Snapshot{Timestamp: now, WhHours: maps.Clone(total.WhHours)})
}

// EnergyHours is the total series extended with past hours from history,
// for comparing forecasts against actual production.
func (s *State) EnergyHours(now time.Time) map[string]float64 {
	if s == nil || s.Total == nil {
		return nil
	}
	return Backfill(s.Total.WhHours, s.History, now)
}

// Persisted is the warm-restart record.
type Persisted struct {
	Timestamp time.Time          `json:"timestamp"`
	WhHours   map[string]float64 `json:"wh_hours"`
}

// Persist returns the record to save after a cycle.
func (s *State) Persist() Persisted {
	p := Persisted{Timestamp: s.UpdatedAt, WhHours: map[string]float64{}}
	if s.Total != nil {
		p.WhHours = maps.Clone(s.Total.WhHours)
	}
	return p
}

// Restore rebuilds a state from a persisted record, with the rollups
// recomputed for now. Records older than RestoreMaxAge return ErrStale.
func Restore(p Persisted, now time.Time) (*State, error) {
	if p.Timestamp.IsZero() || now.Sub(p.Timestamp) > RestoreMaxAge {
		return nil, ErrStale
	}
	total := FromHours(maps.Clone(p.WhHours), now)
	return &State{
		Arrays:           map[string]ArrayForecast{},
		Total:            &total,
		WeatherAvailable: true,
		SnowOverrides:    map[string]models.SnowOverride{},
		UpdatedAt:        p.Timestamp,
		Restored:         true,
	}, nil
}
