package pvgis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClearSkyIrradiance(t *testing.T) {
	tests := []struct {
		name      string
		elevation float64
		doy       int
		lo, hi    float64
	}{
		{"low sun in january", 10, 1, 0, 200},
		{"mid sun in summer", 45, 180, 500, 800},
		{"zenith sun in summer", 90, 180, 900, 1100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClearSkyIrradiance(tt.elevation, tt.doy)
			assert.Greater(t, got, tt.lo)
			assert.Less(t, got, tt.hi)
		})
	}
}

func TestClearSkyIrradianceBelowHorizon(t *testing.T) {
	assert.Equal(t, 0.0, ClearSkyIrradiance(0, 100))
	assert.Equal(t, 0.0, ClearSkyIrradiance(-5, 100))
}

func TestAirMassClamped(t *testing.T) {
	assert.Equal(t, 1.0, AirMass(90))
	assert.LessOrEqual(t, AirMass(0.01), 40.0)
	assert.GreaterOrEqual(t, AirMass(0.01), 1.0)
}

func TestDistanceFactor(t *testing.T) {
	// perihelion in early January, aphelion in early July
	assert.Greater(t, DistanceFactor(1), 1.03)
	assert.Less(t, DistanceFactor(185), 0.97)
}

func TestDayOfYear(t *testing.T) {
	assert.Equal(t, 1, DayOfYear(1, 1))
	assert.Equal(t, 32, DayOfYear(2, 1))
	assert.Equal(t, 365, DayOfYear(12, 31))
}
