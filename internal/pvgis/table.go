package pvgis

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimeLayout is the PVGIS hourly row timestamp format.
const TimeLayout = "20060102:1504"

// Slot identifies an hour of the repeating climatological year.
type Slot struct {
	Month int
	Day   int
	Hour  int
}

// Sample is the averaged data for one slot.
type Sample struct {
	Power      float64  // W
	Irradiance *float64 // plane-of-array, W/m2
	SunHeight  *float64 // degrees
}

// Table is a year-averaged hourly PV output table for one array geometry.
// It is not modified after Parse returns.
type Table struct {
	samples   map[Slot]Sample
	FetchedAt time.Time
}

func newTable() *Table {
	return &Table{samples: make(map[Slot]Sample)}
}

// NewTable builds a table from explicit samples.
func NewTable(entries map[Slot]Sample) *Table {
	t := newTable()
	for slot, s := range entries {
		t.samples[slot] = s
	}
	return t
}

// add merges s into the slot with (old+new)/2. This is not a true mean for
// three or more samples; existing outputs depend on it.
func (t *Table) add(slot Slot, s Sample) {
	old, ok := t.samples[slot]
	if !ok {
		t.samples[slot] = s
		return
	}
	old.Power = (old.Power + s.Power) / 2
	old.Irradiance = mergeOptional(old.Irradiance, s.Irradiance)
	old.SunHeight = mergeOptional(old.SunHeight, s.SunHeight)
	t.samples[slot] = old
}

func mergeOptional(old, v *float64) *float64 {
	switch {
	case v == nil:
		return old
	case old == nil:
		return v
	}
	avg := (*old + *v) / 2
	return &avg
}

// Len returns the number of populated slots.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.samples)
}

// Sample returns the raw slot data.
func (t *Table) Sample(month, day, hour int) (Sample, bool) {
	if t == nil {
		return Sample{}, false
	}
	s, ok := t.samples[Slot{Month: month, Day: day, Hour: hour}]
	return s, ok
}

// Power returns the table power for the slot, or 0 when absent.
func (t *Table) Power(month, day, hour int) float64 {
	s, _ := t.Sample(month, day, hour)
	return s.Power
}

// PowerAt is Power keyed by the wall-clock fields of ts.
func (t *Table) PowerAt(ts time.Time) float64 {
	return t.Power(int(ts.Month()), ts.Day(), ts.Hour())
}

// ClearSkyPower returns the table power scaled by the ratio of modelled
// clear-sky irradiance to the table's own irradiance, clamped to
// [MinScale, MaxScale]. Without irradiance and sun height, or with near-zero
// table irradiance, the raw power is returned.
func (t *Table) ClearSkyPower(month, day, hour int) float64 {
	s, ok := t.Sample(month, day, hour)
	if !ok {
		return 0
	}
	if s.Irradiance == nil || s.SunHeight == nil || math.Abs(*s.Irradiance) < minIrradiance {
		return s.Power
	}
	clear := ClearSkyIrradiance(*s.SunHeight, DayOfYear(month, day))
	scale := clear / *s.Irradiance
	scale = max(MinScale, min(MaxScale, scale))
	return s.Power * scale
}

// ClearSkyPowerAt is ClearSkyPower keyed by the wall-clock fields of ts.
func (t *Table) ClearSkyPowerAt(ts time.Time) float64 {
	return t.ClearSkyPower(int(ts.Month()), ts.Day(), ts.Hour())
}

type response struct {
	Outputs *struct {
		Hourly *[]map[string]json.RawMessage `json:"hourly"`
	} `json:"outputs"`
}

// ParseStats describes rows dropped while parsing.
type ParseStats struct {
	Rows    int
	Skipped int
	Errors  []string
}

// Parse builds a Table from a seriescalc JSON body. A body without
// outputs.hourly is an API error; individual malformed rows are skipped and
// reported in ParseStats.
func Parse(body []byte) (*Table, ParseStats, error) {
	var stats ParseStats
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, stats, apiError(fmt.Errorf("decode response: %w", err))
	}
	if resp.Outputs == nil || resp.Outputs.Hourly == nil {
		return nil, stats, apiError(fmt.Errorf("unexpected response format: missing outputs.hourly"))
	}

	t := newTable()
	for _, row := range *resp.Outputs.Hourly {
		stats.Rows++
		slot, sample, err := parseRow(row)
		if err != nil {
			stats.Skipped++
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}
		t.add(slot, sample)
	}
	return t, stats, nil
}

func parseRow(row map[string]json.RawMessage) (Slot, Sample, error) {
	rawTime, ok := row["time"]
	if !ok {
		return Slot{}, Sample{}, fmt.Errorf("row missing time")
	}
	var ts string
	if err := json.Unmarshal(rawTime, &ts); err != nil {
		return Slot{}, Sample{}, fmt.Errorf("row time: %w", err)
	}
	rawP, ok := row["P"]
	if !ok {
		return Slot{}, Sample{}, fmt.Errorf("row %s missing P", ts)
	}
	power, err := decodeFloat(rawP)
	if err != nil {
		return Slot{}, Sample{}, fmt.Errorf("row %s power: %w", ts, err)
	}
	dt, err := time.Parse(TimeLayout, ts)
	if err != nil {
		return Slot{}, Sample{}, fmt.Errorf("row time %q: %w", ts, err)
	}

	sample := Sample{
		Power:      power,
		Irradiance: optionalFloat(row, "G(i)"),
		SunHeight:  optionalFloat(row, "H_sun"),
	}
	return Slot{Month: int(dt.Month()), Day: dt.Day(), Hour: dt.Hour()}, sample, nil
}

func optionalFloat(row map[string]json.RawMessage, key string) *float64 {
	raw, ok := row[key]
	if !ok {
		return nil
	}
	v, err := decodeFloat(raw)
	if err != nil {
		return nil
	}
	return &v
}

// decodeFloat accepts JSON numbers and numeric strings; null is an error.
func decodeFloat(raw json.RawMessage) (float64, error) {
	if string(raw) == "null" {
		return 0, fmt.Errorf("null value")
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(s, 64)
}
