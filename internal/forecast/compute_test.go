package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/solarcast/internal/pvgis"
	"github.com/lox/solarcast/internal/weather"
)

var cest = time.FixedZone("CEST", 2*3600)

// hourTable returns the same power profile for every day.
type hourTable map[int]float64

func (h hourTable) ClearSkyPowerAt(ts time.Time) float64 { return h[ts.Hour()] }

func daylight(wh float64) hourTable {
	t := hourTable{}
	for h := 6; h <= 18; h++ {
		t[h] = wh
	}
	return t
}

type predictAll bool

func (p predictAll) PredictAt(time.Time) bool { return bool(p) }

func TestComputeArrayHorizonStartsAtMidnight(t *testing.T) {
	for _, hour := range []int{0, 7, 15, 23} {
		now := time.Date(2024, 6, 10, hour, 37, 12, 0, cest)
		f := ComputeArray(ArrayInput{Table: daylight(100), Now: now})

		require.Len(t, f.Detailed, HorizonHours)
		assert.Len(t, f.WhHours, HorizonHours)
		assert.Equal(t, "2024-06-10T00:00:00+02:00", f.Detailed[0].PeriodStart)
		assert.Equal(t, "2024-06-16T23:00:00+02:00", f.Detailed[HorizonHours-1].PeriodStart)
	}
}

func TestComputeArrayEnergyToday(t *testing.T) {
	tests := []struct {
		hour      int
		remaining float64
	}{
		{3, 1300},
		{6, 1300},
		{12, 700},
		{18, 100},
		{20, 0},
	}
	for _, tt := range tests {
		now := time.Date(2024, 6, 10, tt.hour, 15, 0, 0, cest)
		f := ComputeArray(ArrayInput{Table: daylight(100), Now: now})
		assert.Equal(t, 1300.0, f.EnergyToday, "hour %d", tt.hour)
		assert.Equal(t, tt.remaining, f.EnergyTodayRemaining, "hour %d", tt.hour)
		assert.Equal(t, 1300.0, f.EnergyTomorrow)
		for d, v := range f.EnergyDays {
			assert.Equal(t, 1300.0, v, "day %d", d)
		}
	}
}

func TestComputeArraySnowFactor(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, cest)
	clear := ComputeArray(ArrayInput{Table: daylight(100), Now: now})
	covered := ComputeArray(ArrayInput{Table: daylight(100), Now: now, SnowCovered: true})

	assert.InDelta(t, clear.PowerNow*0.05, covered.PowerNow, 1e-9)
	assert.InDelta(t, clear.EnergyToday*0.05, covered.EnergyToday, 1e-9)
	assert.True(t, covered.SnowCovered)
	require.NotNil(t, covered.Detailed[12].SnowCovered)
	assert.True(t, *covered.Detailed[12].SnowCovered)
	// the clear sky estimate ignores snow
	assert.Equal(t, *clear.Detailed[12].PVEstimateClearSky, *covered.Detailed[12].PVEstimateClearSky)
}

func TestComputeArrayPredictorOnlyForLaterHours(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 30, 0, 0, cest)
	f := ComputeArray(ArrayInput{Table: daylight(100), Now: now, Predictor: predictAll(true)})

	assert.Equal(t, 100.0, f.WhHours["2024-06-10T12:00:00+02:00"])
	assert.InDelta(t, 5.0, f.WhHours["2024-06-10T13:00:00+02:00"], 1e-9)
	assert.False(t, *f.Detailed[12].SnowCovered)
	assert.True(t, *f.Detailed[13].SnowCovered)
	assert.False(t, f.SnowCovered)

	// a covered array can be predicted clear later on
	f = ComputeArray(ArrayInput{Table: daylight(100), Now: now, SnowCovered: true, Predictor: predictAll(false)})
	assert.InDelta(t, 5.0, f.WhHours["2024-06-10T12:00:00+02:00"], 1e-9)
	assert.Equal(t, 100.0, f.WhHours["2024-06-10T13:00:00+02:00"])
}

func TestComputeArrayCurrentAndNextHour(t *testing.T) {
	table := hourTable{}
	for h := 0; h < 24; h++ {
		table[h] = float64(h * 10)
	}
	now := time.Date(2024, 6, 10, 12, 45, 0, 0, cest)
	f := ComputeArray(ArrayInput{Table: table, Now: now})
	assert.Equal(t, 120.0, f.PowerNow)
	assert.Equal(t, 120.0, f.EnergyCurrentHour)
	assert.Equal(t, 130.0, f.EnergyNextHour)

	// next hour rolls into tomorrow
	now = time.Date(2024, 6, 10, 23, 5, 0, 0, cest)
	f = ComputeArray(ArrayInput{Table: table, Now: now})
	assert.Equal(t, 230.0, f.PowerNow)
	assert.Equal(t, 0.0, f.EnergyNextHour)
}

func TestComputeArrayPeaks(t *testing.T) {
	table := hourTable{9: 300, 10: 500, 11: 500, 12: 400}
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, cest)
	f := ComputeArray(ArrayInput{Table: table, Now: now})

	assert.Equal(t, 500.0, f.PeakPowerToday)
	require.NotNil(t, f.PeakTimeToday)
	assert.True(t, f.PeakTimeToday.Equal(time.Date(2024, 6, 10, 10, 0, 0, 0, cest)))
	require.NotNil(t, f.PeakTimeTomorrow)
	assert.True(t, f.PeakTimeTomorrow.Equal(time.Date(2024, 6, 11, 10, 0, 0, 0, cest)))

	// nothing produced, no peak
	f = ComputeArray(ArrayInput{Table: hourTable{}, Now: now})
	assert.Nil(t, f.PeakTimeToday)
	assert.Equal(t, 0.0, f.PeakPowerTomorrow)
}

func TestComputeArrayCloudCoverage(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, cest)
	cov := weather.Coverage{"2024-06-10T12:00:00+02:00": 50}
	f := ComputeArray(ArrayInput{Table: daylight(1000), Now: now, Coverage: cov})

	assert.InDelta(t, 600, f.WhHours["2024-06-10T12:00:00+02:00"], 1e-9)
	assert.Equal(t, 50.0, *f.Detailed[12].CloudCoverage)
	assert.Equal(t, 0.6, f.Detailed[12].PVEstimate)
	// beyond three hours the sky is assumed clear
	assert.Equal(t, 1000.0, f.WhHours["2024-06-10T16:00:00+02:00"])
	assert.Equal(t, 0.0, *f.Detailed[16].CloudCoverage)
}

func TestComputeArrayEndToEnd(t *testing.T) {
	table := pvgis.NewTable(map[pvgis.Slot]pvgis.Sample{
		{Month: 1, Day: 1, Hour: 12}: {Power: 1300},
	})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := ComputeArray(ArrayInput{Table: table, Now: now})

	e := f.Detailed[12]
	assert.Equal(t, "2025-01-01T12:00:00+00:00", e.PeriodStart)
	assert.Equal(t, 1.3, e.PVEstimate)
	assert.Equal(t, 1.3, *e.PVEstimateClearSky)
	assert.Equal(t, 0.0, *e.CloudCoverage)
	assert.Equal(t, 1300.0, f.PowerNow)
	assert.Equal(t, 1300.0, f.EnergyToday)
	assert.Equal(t, 0.0, f.EnergyTomorrow)
	assert.Equal(t, 1300.0, f.ClearSkyPowerNow)
	assert.Equal(t, 1.3, f.ClearSkyEnergyToday)
}

func TestClearSkyDiagnostics(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 20, 0, 0, cest)
	powerNow, energy := ClearSkyDiagnostics(daylight(100), now)
	assert.Equal(t, 100.0, powerNow)
	assert.InDelta(t, 1300.0, energy, 1e-9)

	f := ComputeArray(ArrayInput{Table: daylight(100), Now: now})
	assert.Equal(t, 100.0, f.ClearSkyPowerNow)
	assert.Equal(t, 1.3, f.ClearSkyEnergyToday)
}

func TestComputeArrayUsesScaledClearSkyPower(t *testing.T) {
	irradiance, sunHeight := 400.0, 40.0
	table := pvgis.NewTable(map[pvgis.Slot]pvgis.Sample{
		{Month: 6, Day: 10, Hour: 12}: {Power: 1000, Irradiance: &irradiance, SunHeight: &sunHeight},
	})
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	f := ComputeArray(ArrayInput{Table: table, Now: now})

	scaled := table.ClearSkyPower(6, 10, 12)
	require.Greater(t, scaled, 1000.0)

	e := f.Detailed[12]
	assert.Equal(t, *e.PVEstimateClearSky, e.PVEstimate)
	assert.Equal(t, 0.0, *e.CloudCoverage)
	assert.InDelta(t, scaled, f.PowerNow, 0.05)
	assert.InDelta(t, f.ClearSkyPowerNow, f.PowerNow, 0.5)
	assert.InDelta(t, scaled, f.EnergyToday, 0.05)

	// clouds reduce the estimate but not the clear sky column
	cov := weather.Coverage{"2024-06-10T12:00:00+00:00": 50}
	f = ComputeArray(ArrayInput{Table: table, Now: now, Coverage: cov})
	assert.InDelta(t, scaled*0.6, f.PowerNow, 0.05)
	assert.Equal(t, *e.PVEstimateClearSky, *f.Detailed[12].PVEstimateClearSky)
}
