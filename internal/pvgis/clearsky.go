package pvgis

import (
	"math"

	"github.com/soniakeys/meeus/v3/julian"
)

const (
	SolarConstant = 1361.0 // W/m2

	MinScale = 1.0
	MaxScale = 2.0

	minAirMass    = 1.0
	maxAirMass    = 40.0
	minIrradiance = 1e-6

	// Day-of-year for table slots is taken in a non-leap year; the table
	// itself has no calendar year.
	referenceYear = 2001
)

// DayOfYear returns the 1-based day number of (month, day) in a non-leap year.
func DayOfYear(month, day int) int {
	return julian.DayOfYear(referenceYear, month, day, false)
}

// AirMass is the Kasten-Young approximation, clamped to [1, 40].
func AirMass(elevationDeg float64) float64 {
	zenithDeg := 90 - elevationDeg
	zenithRad := zenithDeg * math.Pi / 180
	am := 1 / (math.Cos(zenithRad) + 0.50572*math.Pow(96.07995-zenithDeg, -1.6364))
	if math.IsNaN(am) {
		return maxAirMass
	}
	return max(minAirMass, min(maxAirMass, am))
}

// DistanceFactor corrects the solar constant for the Earth-Sun distance.
func DistanceFactor(dayOfYear int) float64 {
	b := 2 * math.Pi * float64(dayOfYear-1) / 365
	return 1.00011 + 0.034221*math.Cos(b) + 0.00128*math.Sin(b)
}

// ClearSkyIrradiance estimates clear-sky irradiance on a surface facing the
// sun. It is 0 when the sun is at or below the horizon.
func ClearSkyIrradiance(elevationDeg float64, dayOfYear int) float64 {
	if elevationDeg <= 0 {
		return 0
	}
	transmission := math.Pow(0.75, math.Pow(AirMass(elevationDeg), 0.678))
	elevationRad := elevationDeg * math.Pi / 180
	irr := SolarConstant * DistanceFactor(dayOfYear) * math.Sin(elevationRad) * transmission
	return max(0, irr)
}
