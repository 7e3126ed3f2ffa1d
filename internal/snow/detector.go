// Package snow decides whether an array's output is suppressed by snow cover.
package snow

import (
	"time"

	"github.com/lox/solarcast/internal/models"
	"github.com/lox/solarcast/internal/weather"
)

const (
	// TempThreshold is the temperature (degC) below which precipitation is
	// treated as snow and melting stops.
	TempThreshold = 2.0
	// MeltRadiationThreshold is the estimated irradiance (W/m2) an hour must
	// exceed to count towards melting.
	MeltRadiationThreshold = 300.0
	// MeltHours is the number of melt hours a flat array needs.
	MeltHours = 4.0
	// SlideInclination is the tilt above which snow slides off faster.
	SlideInclination = 30.0
	LookbackHours    = 24

	// Factor is the share of output left when an array is covered.
	Factor = 0.05

	// radiationPerKW approximates W/m2 per kW of array output in good conditions.
	radiationPerKW = 200.0
)

// RadiationSource supplies the clear-sky table power for an hour.
type RadiationSource interface {
	PowerAt(ts time.Time) float64
}

// Detector classifies one array.
type Detector struct {
	Array   models.ArrayConfig
	Table   RadiationSource
	Signals weather.Signals
}

// Detect reports whether the array is snow covered at now. An active override
// wins without looking at any data.
func (d *Detector) Detect(override models.SnowOverride, now time.Time) bool {
	if covered, set := override.Value(); set {
		return covered
	}
	return d.covered(now.Truncate(time.Hour))
}

// PredictAt applies the same rules anchored at target, ignoring overrides.
func (d *Detector) PredictAt(target time.Time) bool {
	return d.covered(target.Truncate(time.Hour))
}

func (d *Detector) covered(anchor time.Time) bool {
	if !d.snowEvent(anchor) {
		return false
	}
	return d.meltHours(anchor) < RequiredMeltHours(d.Array.Declination)
}

func (d *Detector) window(anchor time.Time, fn func(ts time.Time)) {
	for offset := -LookbackHours; offset <= 0; offset++ {
		fn(anchor.Add(time.Duration(offset) * time.Hour))
	}
}

func (d *Detector) snowEvent(anchor time.Time) bool {
	event := false
	d.window(anchor, func(ts time.Time) {
		if s, ok := d.Signals.Snow.At(ts); ok && s > 0 {
			event = true
		}
		temp, ok := d.Signals.Temperature.At(ts)
		if !ok || temp >= TempThreshold {
			return
		}
		if p, ok := d.Signals.Precipitation.At(ts); ok && p > 0 {
			event = true
		}
	})
	return event
}

// meltHours walks the window oldest first. Any cold hour resets the count.
func (d *Detector) meltHours(anchor time.Time) float64 {
	var hours float64
	d.window(anchor, func(ts time.Time) {
		if temp, ok := d.Signals.Temperature.At(ts); ok && temp < TempThreshold {
			hours = 0
			return
		}
		if d.estimatedRadiation(ts) > MeltRadiationThreshold {
			hours++
		}
	})
	return hours
}

func (d *Detector) estimatedRadiation(ts time.Time) float64 {
	if d.Array.ModulesPower <= 0 || d.Table == nil {
		return 0
	}
	return d.Table.PowerAt(ts) / (d.Array.ModulesPower * 1000) * radiationPerKW
}

// RequiredMeltHours is MeltHours, reduced to at most half for steep arrays.
func RequiredMeltHours(tilt float64) float64 {
	if tilt <= SlideInclination {
		return MeltHours
	}
	return MeltHours * max(0.5, 1-(tilt-SlideInclination)/60)
}
