package console

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/models"
)

var testNow = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

type fakeState struct{ state *forecast.State }

func (f fakeState) State() *forecast.State { return f.state }

type fakeControl struct {
	overrides map[string]models.SnowOverride
	refreshes int
}

func (f *fakeControl) Arrays() []models.ArrayConfig {
	return []models.ArrayConfig{{Name: "south"}, {Name: "west"}}
}

func (f *fakeControl) SetSnowOverride(name string, o models.SnowOverride) error {
	if name != "south" && name != "west" {
		return errors.New("unknown array")
	}
	if f.overrides == nil {
		f.overrides = map[string]models.SnowOverride{}
	}
	f.overrides[name] = o
	return nil
}

func (f *fakeControl) RequestRefresh() { f.refreshes++ }

func testState() *forecast.State {
	wh := map[string]float64{}
	for h := 6; h <= 18; h++ {
		wh[forecast.HourKey(time.Date(2024, 6, 15, h, 0, 0, 0, time.UTC), time.UTC)] = 1000
	}
	total := forecast.FromHours(wh, testNow)
	return &forecast.State{
		Arrays:           map[string]forecast.ArrayForecast{"south": total},
		Total:            &total,
		WeatherAvailable: true,
		SnowOverrides:    map[string]models.SnowOverride{"south": models.SnowClear},
		UpdatedAt:        testNow,
	}
}

func newTestConsole(state *forecast.State, control *fakeControl) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	c := New(fakeState{state}, control, time.UTC)
	c.now = func() time.Time { return testNow }
	c.out = &out
	return c, &out
}

func TestStatus(t *testing.T) {
	c, out := newTestConsole(testState(), &fakeControl{})
	require.NoError(t, c.Execute("status"))
	assert.Contains(t, out.String(), "13.00 kWh")
	assert.Contains(t, out.String(), "1000 W")
	assert.Contains(t, out.String(), "peak today")
}

func TestNoForecastYet(t *testing.T) {
	c, _ := newTestConsole(nil, &fakeControl{})
	for _, cmd := range []string{"status", "arrays", "hours", "days"} {
		assert.EqualError(t, c.Execute(cmd), "no forecast yet", cmd)
	}
}

func TestArrays(t *testing.T) {
	c, out := newTestConsole(testState(), &fakeControl{})
	require.NoError(t, c.Execute("arrays"))
	assert.Contains(t, out.String(), "south")
	assert.Contains(t, out.String(), "clear")
	assert.Contains(t, out.String(), "west")
}

func TestHours(t *testing.T) {
	c, out := newTestConsole(testState(), &fakeControl{})
	require.NoError(t, c.Execute("hours 3"))
	assert.Equal(t, "Sat 10:00  1000.0 Wh\nSat 11:00  1000.0 Wh\nSat 12:00  1000.0 Wh\n", out.String())

	assert.Error(t, c.Execute("hours many"))
}

func TestDays(t *testing.T) {
	c, out := newTestConsole(testState(), &fakeControl{})
	require.NoError(t, c.Execute("days"))
	assert.Contains(t, out.String(), "Sat 15 Jun  13.00 kWh")
	assert.Contains(t, out.String(), "Fri 21 Jun  0.00 kWh")
}

func TestSnowAndRefresh(t *testing.T) {
	control := &fakeControl{}
	c, out := newTestConsole(testState(), control)

	require.NoError(t, c.Execute("snow west covered"))
	assert.Equal(t, models.SnowCovered, control.overrides["west"])
	assert.Contains(t, out.String(), "west: snow covered")

	assert.Error(t, c.Execute("snow west"))
	assert.Error(t, c.Execute("snow west melted"))
	assert.Error(t, c.Execute("snow north covered"))

	require.NoError(t, c.Execute("refresh"))
	assert.Equal(t, 1, control.refreshes)
}

func TestMiscCommands(t *testing.T) {
	c, out := newTestConsole(testState(), &fakeControl{})
	require.NoError(t, c.Execute(""))
	require.NoError(t, c.Execute("help"))
	assert.Contains(t, out.String(), "Commands:")
	assert.ErrorIs(t, c.Execute("quit"), ErrQuit)
	assert.ErrorIs(t, c.Execute("exit"), ErrQuit)
	assert.ErrorContains(t, c.Execute("dance"), "unknown command")
}
