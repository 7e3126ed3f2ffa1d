package weather

import "time"

// HourSeries holds hourly values keyed by the instant of the hour.
type HourSeries map[int64]float64

func hourKey(t time.Time) int64 {
	return t.Truncate(time.Hour).Unix()
}

// Set records v for the hour containing t.
func (s HourSeries) Set(t time.Time, v float64) {
	s[hourKey(t)] = v
}

// At returns the value for the hour containing t.
func (s HourSeries) At(t time.Time) (float64, bool) {
	v, ok := s[hourKey(t)]
	return v, ok
}

// Signals are the inputs to snow detection. Any series may be empty when the
// provider does not report the field.
type Signals struct {
	Temperature   HourSeries // degC
	Precipitation HourSeries // mm
	Snow          HourSeries // mm
}

// NewSignals returns empty, writable series.
func NewSignals() Signals {
	return Signals{
		Temperature:   HourSeries{},
		Precipitation: HourSeries{},
		Snow:          HourSeries{},
	}
}

// Empty reports whether no temperature data is present, in which case the
// other series are not trusted either.
func (s Signals) Empty() bool {
	return len(s.Temperature) == 0
}
