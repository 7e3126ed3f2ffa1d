package snow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lox/solarcast/internal/models"
	"github.com/lox/solarcast/internal/pvgis"
	"github.com/lox/solarcast/internal/weather"
)

type constantPower float64

func (c constantPower) PowerAt(time.Time) float64 { return float64(c) }

var now = time.Date(2024, 1, 15, 12, 20, 0, 0, time.UTC)

func hoursAgo(h int) time.Time {
	return now.Truncate(time.Hour).Add(-time.Duration(h) * time.Hour)
}

func detector(tilt, watts float64) (*Detector, weather.Signals) {
	signals := weather.NewSignals()
	return &Detector{
		Array:   models.ArrayConfig{Name: "roof", Declination: tilt, ModulesPower: 1},
		Table:   constantPower(watts),
		Signals: signals,
	}, signals
}

func TestOverrideShortCircuits(t *testing.T) {
	d, signals := detector(35, 0)
	assert.True(t, d.Detect(models.SnowCovered, now), "covered override with no signals")

	signals.Snow.Set(hoursAgo(2), 5)
	signals.Temperature.Set(hoursAgo(2), -5)
	assert.False(t, d.Detect(models.SnowClear, now), "clear override with a snow event")
	assert.True(t, d.Detect(models.SnowAuto, now))
}

func TestNoEventIsClear(t *testing.T) {
	d, signals := detector(35, 0)
	assert.False(t, d.Detect(models.SnowAuto, now))

	// warm rain is not snow
	signals.Temperature.Set(hoursAgo(3), 8)
	signals.Precipitation.Set(hoursAgo(3), 4)
	assert.False(t, d.Detect(models.SnowAuto, now))

	// outside the lookback window
	signals.Snow.Set(hoursAgo(25), 10)
	assert.False(t, d.Detect(models.SnowAuto, now))
}

func TestEventDetection(t *testing.T) {
	t.Run("explicit snow", func(t *testing.T) {
		d, signals := detector(35, 0)
		signals.Snow.Set(hoursAgo(24), 0.5)
		assert.True(t, d.Detect(models.SnowAuto, now))
	})
	t.Run("cold precipitation", func(t *testing.T) {
		d, signals := detector(35, 0)
		signals.Temperature.Set(hoursAgo(0), 1.9)
		signals.Precipitation.Set(hoursAgo(0), 0.2)
		assert.True(t, d.Detect(models.SnowAuto, now))
	})
	t.Run("threshold temperature is not cold", func(t *testing.T) {
		d, signals := detector(35, 0)
		signals.Temperature.Set(hoursAgo(1), 2.0)
		signals.Precipitation.Set(hoursAgo(1), 3)
		assert.False(t, d.Detect(models.SnowAuto, now))
	})
}

func TestMeltClearsPanels(t *testing.T) {
	// 2 kW from a 1 kWp array estimates 400 W/m2, above the melt threshold.
	d, signals := detector(20, 2000)
	signals.Snow.Set(hoursAgo(10), 3)
	for h := 0; h <= 24; h++ {
		signals.Temperature.Set(hoursAgo(h), 5)
	}
	assert.False(t, d.Detect(models.SnowAuto, now))

	// weak sun never melts anything
	d.Table = constantPower(1000)
	assert.True(t, d.Detect(models.SnowAuto, now))
}

func TestColdHourResetsMelt(t *testing.T) {
	d, signals := detector(20, 2000)
	signals.Snow.Set(hoursAgo(20), 3)
	for h := 1; h <= 24; h++ {
		signals.Temperature.Set(hoursAgo(h), 5)
	}
	signals.Temperature.Set(hoursAgo(0), -1)
	assert.True(t, d.Detect(models.SnowAuto, now))
}

func TestTiltReducesRequiredMelt(t *testing.T) {
	setup := func(tilt float64) *Detector {
		d, signals := detector(tilt, 2000)
		signals.Precipitation.Set(hoursAgo(10), 1)
		for h := 3; h <= 24; h++ {
			signals.Temperature.Set(hoursAgo(h), 0)
		}
		// three warm, sunny hours after the cold spell
		for h := 0; h <= 2; h++ {
			signals.Temperature.Set(hoursAgo(h), 4)
		}
		return d
	}
	assert.True(t, setup(20).Detect(models.SnowAuto, now))
	assert.True(t, setup(40).Detect(models.SnowAuto, now))
	assert.False(t, setup(45).Detect(models.SnowAuto, now))
	assert.False(t, setup(75).Detect(models.SnowAuto, now))
}

func TestRequiredMeltHours(t *testing.T) {
	tests := []struct {
		tilt float64
		want float64
	}{
		{0, 4}, {30, 4}, {45, 3}, {60, 2}, {90, 2},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, RequiredMeltHours(tt.tilt), 1e-12, "tilt %v", tt.tilt)
	}
}

func TestZeroRatedPowerNeverMelts(t *testing.T) {
	d, signals := detector(90, 1e6)
	d.Array.ModulesPower = 0
	signals.Snow.Set(hoursAgo(5), 1)
	assert.True(t, d.Detect(models.SnowAuto, now))
}

func TestPredictAtFutureHour(t *testing.T) {
	d, signals := detector(35, 0)
	target := now.Truncate(time.Hour).Add(30 * time.Hour)
	signals.Snow.Set(target.Add(-2*time.Hour), 4)

	assert.False(t, d.Detect(models.SnowAuto, now))
	assert.True(t, d.PredictAt(target))
	assert.True(t, d.PredictAt(target.Add(22*time.Hour)))
	assert.False(t, d.PredictAt(target.Add(23*time.Hour)))
}

func TestDetectWithRadiationTable(t *testing.T) {
	table := pvgis.NewTable(map[pvgis.Slot]pvgis.Sample{})
	signals := weather.NewSignals()
	signals.Snow.Set(hoursAgo(1), 1)
	d := &Detector{
		Array:   models.ArrayConfig{Name: "roof", Declination: 35, ModulesPower: 5},
		Table:   table,
		Signals: signals,
	}
	assert.True(t, d.Detect(models.SnowAuto, now))
}
