package forecast

import (
	"time"

	"github.com/jinzhu/now"

	"github.com/lox/solarcast/internal/snow"
	"github.com/lox/solarcast/internal/weather"
)

// RadiationTable is the clear-sky lookup a forecast is built from.
type RadiationTable interface {
	ClearSkyPowerAt(ts time.Time) float64
}

// SnowPredictor flags future hours as snow covered.
type SnowPredictor interface {
	PredictAt(target time.Time) bool
}

// ArrayInput contains everything needed to forecast one array.
type ArrayInput struct {
	Table    RadiationTable
	Coverage weather.Coverage
	// Now sets both the reference instant and the calendar zone.
	Now         time.Time
	SnowCovered bool
	// Predictor is optional; without it every hour uses SnowCovered.
	Predictor SnowPredictor
}

// HorizonStart is local midnight of t's date.
func HorizonStart(t time.Time) time.Time {
	return now.With(t).BeginningOfDay()
}

// ComputeArray builds the hourly forecast for one array over the horizon
// starting at midnight today. Hours up to and including the current one use
// the current snow state; later hours are predicted when a predictor is set.
func ComputeArray(in ArrayInput) ArrayForecast {
	loc := in.Now.Location()
	start := HorizonStart(in.Now)
	nowHour := in.Now.Truncate(time.Hour)

	f := ArrayForecast{
		WhHours:     make(map[string]float64, HorizonHours),
		Detailed:    make([]DetailedEntry, 0, HorizonHours),
		SnowCovered: in.SnowCovered,
	}
	r := newRollup(in.Now)

	for h := 0; h < HorizonHours; h++ {
		t := start.Add(time.Duration(h) * time.Hour).In(loc)

		power := in.Table.ClearSkyPowerAt(t)
		factor := weather.CloudFactor(t, in.Coverage)
		adjusted := power * factor

		covered := in.SnowCovered
		if in.Predictor != nil && t.After(nowHour) {
			covered = in.Predictor.PredictAt(t)
		}
		if covered {
			adjusted *= snow.Factor
		}

		key := t.Format(HourKeyLayout)
		f.WhHours[key] = adjusted

		clearSky := round(power/1000, 4)
		cloud := weather.CoveragePercent(factor)
		f.Detailed = append(f.Detailed, DetailedEntry{
			PeriodStart:        key,
			PVEstimate:         round(adjusted/1000, 4),
			PVEstimateClearSky: &clearSky,
			CloudCoverage:      &cloud,
			SnowCovered:        &covered,
		})

		r.add(t, adjusted)
	}
	r.apply(&f)

	powerNow, energyToday := ClearSkyDiagnostics(in.Table, in.Now)
	f.ClearSkyPowerNow = round(powerNow, 0)
	f.ClearSkyEnergyToday = round(energyToday/1000, 2)
	return f
}

// ClearSkyDiagnostics returns the unrounded clear-sky power (W) for the
// current hour and the clear-sky energy (Wh) for today's 24 hours.
func ClearSkyDiagnostics(table RadiationTable, at time.Time) (powerNow, energyToday float64) {
	powerNow = table.ClearSkyPowerAt(at)
	y, m, d := at.Date()
	for h := 0; h < 24; h++ {
		energyToday += table.ClearSkyPowerAt(time.Date(y, m, d, h, 0, 0, 0, at.Location()))
	}
	return powerNow, energyToday
}
