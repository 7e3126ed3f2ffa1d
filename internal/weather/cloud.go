package weather

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
)

const (
	// CloudFactorClear applies at 0% coverage, CloudFactorOvercast at 100%.
	CloudFactorClear    = 1.0
	CloudFactorOvercast = 0.2

	// MaxMatchDistance is how far the nearest coverage entry may be from the
	// query before it is ignored.
	MaxMatchDistance = 3 * time.Hour
)

// Coverage maps ISO timestamps to cloud coverage percent (0-100).
type Coverage map[string]float64

// MergeCoverage returns the union of both series; primary wins on a
// timestamp collision.
func MergeCoverage(primary, secondary Coverage) Coverage {
	merged := make(Coverage, len(primary)+len(secondary))
	for ts, v := range secondary {
		merged[ts] = v
	}
	for ts, v := range primary {
		merged[ts] = v
	}
	return merged
}

// CloudFactor maps the coverage nearest to t onto a radiation factor in
// [CloudFactorOvercast, CloudFactorClear]. An empty series, or a nearest
// entry more than MaxMatchDistance away, gives CloudFactorClear.
//
// Timestamps without a zone are read in t's location.
func CloudFactor(t time.Time, cov Coverage) float64 {
	coverage, ok := cov.Nearest(t)
	if !ok {
		return CloudFactorClear
	}
	return FactorForCoverage(coverage)
}

// FactorForCoverage is the linear coverage to factor mapping.
func FactorForCoverage(coverage float64) float64 {
	frac := max(0, min(1, coverage/100))
	return CloudFactorClear - frac*(CloudFactorClear-CloudFactorOvercast)
}

// CoveragePercent back-solves the displayed coverage from a factor. It is 0
// whenever the factor is full clear sky.
func CoveragePercent(factor float64) float64 {
	if factor >= CloudFactorClear {
		return 0
	}
	pct := (CloudFactorClear - factor) / (CloudFactorClear - CloudFactorOvercast) * 100
	return math.Round(pct*10) / 10
}

// Nearest returns the coverage whose timestamp is closest to t, provided it
// lies within MaxMatchDistance. Unparseable keys are ignored. Ties keep the
// earliest key in sorted order so the result does not depend on map order.
func (c Coverage) Nearest(t time.Time) (float64, bool) {
	if len(c) == 0 {
		return 0, false
	}
	var (
		best     float64
		bestDiff time.Duration = -1
	)
	zone := offsetZone(t)
	for _, key := range c.Keys() {
		ts, err := ParseTimestamp(key, zone)
		if err != nil {
			continue
		}
		diff := t.Sub(ts)
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = c[key], diff
		}
	}
	if bestDiff < 0 || bestDiff > MaxMatchDistance {
		return 0, false
	}
	return best, true
}

// At returns the coverage recorded for exactly the instant t.
func (c Coverage) At(t time.Time) (float64, bool) {
	zone := offsetZone(t)
	for _, key := range c.Keys() {
		ts, err := ParseTimestamp(key, zone)
		if err == nil && ts.Equal(t) {
			return c[key], true
		}
	}
	return 0, false
}

// offsetZone pins t's current UTC offset. Naive keys take that offset even
// when a DST change falls between them and t.
func offsetZone(t time.Time) *time.Location {
	name, offset := t.Zone()
	return time.FixedZone(name, offset)
}

// Keys returns the timestamps in lexical order.
func (c Coverage) Keys() []string {
	keys := lo.Keys(c)
	sort.Strings(keys)
	return keys
}
