// Package forecast turns radiation tables and weather adjustments into hourly
// energy forecasts and keeps the short snapshot history.
package forecast

import (
	"math"
	"time"
)

const (
	HorizonDays  = 7
	HorizonHours = HorizonDays * 24

	// HourKeyLayout formats the keys of hourly series.
	HourKeyLayout = "2006-01-02T15:04:05-07:00"
)

// DetailedEntry is one hour in the Solcast-compatible detailed forecast.
// Totals only carry PVEstimate.
type DetailedEntry struct {
	PeriodStart        string   `json:"period_start"`
	PVEstimate         float64  `json:"pv_estimate"`
	PVEstimateClearSky *float64 `json:"pv_estimate_clear_sky,omitempty"`
	CloudCoverage      *float64 `json:"cloud_coverage,omitempty"`
	SnowCovered        *bool    `json:"snow_covered,omitempty"`
}

// ArrayForecast is the forecast for one array, or the sum across arrays.
// Energies are Wh and powers W.
type ArrayForecast struct {
	WhHours  map[string]float64 `json:"wh_hours"`
	Detailed []DetailedEntry    `json:"detailed_forecast"`

	EnergyToday          float64              `json:"energy_production_today"`
	EnergyTodayRemaining float64              `json:"energy_production_today_remaining"`
	EnergyTomorrow       float64              `json:"energy_production_tomorrow"`
	EnergyDays           [HorizonDays]float64 `json:"energy_production_days"`
	EnergyCurrentHour    float64              `json:"energy_current_hour"`
	EnergyNextHour       float64              `json:"energy_next_hour"`
	PowerNow             float64              `json:"power_production_now"`
	PeakPowerToday       float64              `json:"peak_power_today"`
	PeakPowerTomorrow    float64              `json:"peak_power_tomorrow"`
	PeakTimeToday        *time.Time           `json:"power_highest_peak_time_today"`
	PeakTimeTomorrow     *time.Time           `json:"power_highest_peak_time_tomorrow"`

	SnowCovered         bool    `json:"snow_covered"`
	ClearSkyPowerNow    float64 `json:"clear_sky_power_now"`
	ClearSkyEnergyToday float64 `json:"clear_sky_energy_today"`
}

// HourKey formats t as a series key in loc.
func HourKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(HourKeyLayout)
}

// ParseHourKey parses a series key.
func ParseHourKey(key string) (time.Time, error) {
	return time.Parse(HourKeyLayout, key)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// dayOffset counts calendar days from today to t, both in loc.
func dayOffset(today, t time.Time, loc *time.Location) int {
	ty, tm, td := today.In(loc).Date()
	y, m, d := t.In(loc).Date()
	a := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	b := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// rollup accumulates the per-day sums, peaks and current-hour values of an
// hourly series. Hours must be added in time order for peaks to prefer the
// earlier hour on ties.
type rollup struct {
	loc     *time.Location
	now     time.Time
	nowHour time.Time

	days                        [HorizonDays]float64
	today, remaining, tomorrow  float64
	current, next               float64
	peakToday, peakTomorrow     float64
	peakTimeToday, peakTimeTmrw *time.Time
}

func newRollup(now time.Time) *rollup {
	loc := now.Location()
	return &rollup{loc: loc, now: now, nowHour: now.Truncate(time.Hour)}
}

func (r *rollup) add(t time.Time, wh float64) {
	offset := dayOffset(r.now, t, r.loc)
	if offset >= 0 && offset < HorizonDays {
		r.days[offset] += wh
	}

	switch offset {
	case 0:
		r.today += wh
		if !t.Before(r.nowHour) {
			r.remaining += wh
		}
		if wh > r.peakToday {
			r.peakToday = wh
			pt := t.In(r.loc)
			r.peakTimeToday = &pt
		}
	case 1:
		r.tomorrow += wh
		if wh > r.peakTomorrow {
			r.peakTomorrow = wh
			pt := t.In(r.loc)
			r.peakTimeTmrw = &pt
		}
	}

	switch {
	case t.Equal(r.nowHour):
		r.current = wh
	case t.Equal(r.nowHour.Add(time.Hour)):
		r.next = wh
	}
}

func (r *rollup) apply(f *ArrayForecast) {
	f.EnergyToday = round(r.today, 1)
	f.EnergyTodayRemaining = round(r.remaining, 1)
	f.EnergyTomorrow = round(r.tomorrow, 1)
	for i, v := range r.days {
		f.EnergyDays[i] = round(v, 1)
	}
	f.PowerNow = round(r.current, 1)
	f.EnergyCurrentHour = round(r.current, 1)
	f.EnergyNextHour = round(r.next, 1)
	f.PeakPowerToday = round(r.peakToday, 1)
	f.PeakPowerTomorrow = round(r.peakTomorrow, 1)
	f.PeakTimeToday = r.peakTimeToday
	f.PeakTimeTomorrow = r.peakTimeTmrw
}
