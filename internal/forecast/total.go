package forecast

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// SumHours adds the hourly series of all arrays key by key.
func SumHours(arrays map[string]ArrayForecast) map[string]float64 {
	total := make(map[string]float64)
	for _, f := range arrays {
		for key, wh := range f.WhHours {
			total[key] += wh
		}
	}
	return total
}

// ComputeTotal sums the arrays and runs the rollups over the sum.
func ComputeTotal(arrays map[string]ArrayForecast, now time.Time) ArrayForecast {
	return FromHours(SumHours(arrays), now)
}

// FromHours builds a forecast from an existing hourly series. Detailed
// entries carry only the estimate. Unparseable keys are kept in the series
// but ignored by the rollups.
func FromHours(wh map[string]float64, now time.Time) ArrayForecast {
	type hour struct {
		key string
		t   time.Time
	}
	hours := make([]hour, 0, len(wh))
	for _, key := range lo.Keys(wh) {
		t, err := ParseHourKey(key)
		if err != nil {
			continue
		}
		hours = append(hours, hour{key: key, t: t})
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].t.Before(hours[j].t) })

	f := ArrayForecast{
		WhHours:  wh,
		Detailed: make([]DetailedEntry, 0, len(hours)),
	}
	r := newRollup(now)
	for _, h := range hours {
		v := wh[h.key]
		f.Detailed = append(f.Detailed, DetailedEntry{
			PeriodStart: h.key,
			PVEstimate:  round(v/1000, 4),
		})
		r.add(h.t, v)
	}
	r.apply(&f)
	return f
}
