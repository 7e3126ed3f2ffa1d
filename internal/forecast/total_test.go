package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTotalUnionSum(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, cest)
	arrays := map[string]ArrayForecast{
		"east": {WhHours: map[string]float64{
			"2024-06-10T11:00:00+02:00": 100,
			"2024-06-10T12:00:00+02:00": 200,
		}},
		"west": {WhHours: map[string]float64{
			"2024-06-10T12:00:00+02:00": 50,
			"2024-06-10T13:00:00+02:00": 300,
			"2024-06-11T13:00:00+02:00": 400,
		}},
	}
	total := ComputeTotal(arrays, now)

	assert.Equal(t, map[string]float64{
		"2024-06-10T11:00:00+02:00": 100,
		"2024-06-10T12:00:00+02:00": 250,
		"2024-06-10T13:00:00+02:00": 300,
		"2024-06-11T13:00:00+02:00": 400,
	}, total.WhHours)

	require.Len(t, total.Detailed, 4)
	assert.Equal(t, "2024-06-10T11:00:00+02:00", total.Detailed[0].PeriodStart)
	assert.Equal(t, 0.25, total.Detailed[1].PVEstimate)
	for _, e := range total.Detailed {
		assert.Nil(t, e.PVEstimateClearSky)
		assert.Nil(t, e.CloudCoverage)
		assert.Nil(t, e.SnowCovered)
	}

	assert.Equal(t, 650.0, total.EnergyToday)
	assert.Equal(t, 550.0, total.EnergyTodayRemaining)
	assert.Equal(t, 400.0, total.EnergyTomorrow)
	assert.Equal(t, 250.0, total.PowerNow)
	assert.Equal(t, 300.0, total.EnergyNextHour)
	assert.Equal(t, 300.0, total.PeakPowerToday)
	assert.Equal(t, [HorizonDays]float64{650, 400}, total.EnergyDays)
}

func TestComputeTotalMatchesSingleArray(t *testing.T) {
	now := time.Date(2024, 6, 10, 9, 30, 0, 0, cest)
	f := ComputeArray(ArrayInput{Table: daylight(250), Now: now})
	total := ComputeTotal(map[string]ArrayForecast{"only": f}, now)

	assert.Equal(t, f.EnergyToday, total.EnergyToday)
	assert.Equal(t, f.EnergyTodayRemaining, total.EnergyTodayRemaining)
	assert.Equal(t, f.EnergyDays, total.EnergyDays)
	assert.Equal(t, f.PowerNow, total.PowerNow)
	assert.Equal(t, f.EnergyNextHour, total.EnergyNextHour)
	assert.True(t, f.PeakTimeTomorrow.Equal(*total.PeakTimeTomorrow))
	assert.Len(t, total.Detailed, HorizonHours)
}

func TestComputeTotalNoArrays(t *testing.T) {
	total := ComputeTotal(nil, time.Now())
	assert.Empty(t, total.WhHours)
	assert.Empty(t, total.Detailed)
	assert.Equal(t, 0.0, total.EnergyToday)
}
