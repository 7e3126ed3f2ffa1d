package forecast

import (
	"maps"
	"time"
)

// HistoryDays is how long snapshots are retained.
const HistoryDays = 7

// Snapshot is the total hourly series as forecast at Timestamp.
type Snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	WhHours   map[string]float64 `json:"wh_hours"`
}

// PruneHistory keeps snapshots taken at or after now minus days.
func PruneHistory(history []Snapshot, now time.Time, days int) []Snapshot {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	kept := make([]Snapshot, 0, len(history))
	for _, s := range history {
		if !s.Timestamp.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}

// Backfill extends the current series with hours that have already passed,
// taken from the snapshots that forecast them. Keys already present win, then
// the oldest snapshot.
func Backfill(current map[string]float64, history []Snapshot, now time.Time) map[string]float64 {
	out := maps.Clone(current)
	if out == nil {
		out = map[string]float64{}
	}
	nowHour := now.Truncate(time.Hour)
	for _, s := range history {
		for key, wh := range s.WhHours {
			if _, ok := out[key]; ok {
				continue
			}
			t, err := ParseHourKey(key)
			if err != nil {
				continue
			}
			if t.Truncate(time.Hour).Before(nowHour) {
				out[key] = wh
			}
		}
	}
	return out
}
