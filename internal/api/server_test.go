package api_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/solarcast/internal/api"
	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/ingest"
	"github.com/lox/solarcast/internal/models"
	"github.com/lox/solarcast/internal/store"
)

var testNow = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

type fakeState struct {
	state *forecast.State
	err   error
}

func (f *fakeState) State() *forecast.State { return f.state }
func (f *fakeState) LastError() error       { return f.err }

type fakeControl struct {
	mu        sync.Mutex
	overrides map[string]models.SnowOverride
	refreshes int
}

func (f *fakeControl) Arrays() []models.ArrayConfig {
	return []models.ArrayConfig{{Name: "south", Declination: 35, ModulesPower: 5, Loss: 14}}
}

func (f *fakeControl) SetSnowOverride(name string, o models.SnowOverride) error {
	if name != "south" {
		return fmt.Errorf("%w: %q", ingest.ErrUnknownArray, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overrides == nil {
		f.overrides = map[string]models.SnowOverride{}
	}
	f.overrides[name] = o
	f.refreshes++
	return nil
}

func (f *fakeControl) RequestRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func testState() *forecast.State {
	wh := map[string]float64{}
	for h := 6; h <= 18; h++ {
		ts := time.Date(2024, 6, 15, h, 0, 0, 0, time.UTC)
		wh[forecast.HourKey(ts, time.UTC)] = 1000
	}
	total := forecast.FromHours(wh, testNow)
	south := forecast.FromHours(wh, testNow)
	return &forecast.State{
		Arrays:           map[string]forecast.ArrayForecast{"south": south},
		Total:            &total,
		WeatherAvailable: true,
		SnowOverrides:    map[string]models.SnowOverride{},
		UpdatedAt:        testNow,
	}
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.New(db, nil)
	require.NoError(t, s.Migrate())
	return s
}

func newServer(state *fakeState, control *fakeControl, st *store.Store) *api.Server {
	return api.NewServer(api.Config{
		Addr:     ":0",
		Location: time.UTC,
		State:    state,
		Control:  control,
		Store:    st,
		Now:      func() time.Time { return testNow },
	})
}

func do(t *testing.T, srv *api.Server, method, target string, body string, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		state  *fakeState
		status string
	}{
		{"starting", &fakeState{}, "starting"},
		{"ok", &fakeState{state: testState()}, "ok"},
		{"failed cycle", &fakeState{state: testState(), err: fmt.Errorf("boom")}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(tt.state, &fakeControl{}, setupTestStore(t))
			w := do(t, srv, "GET", "/health", "", "")
			require.Equal(t, http.StatusOK, w.Code)

			var health api.HealthStatus
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
			assert.Equal(t, tt.status, health.Status)
		})
	}
}

func TestHealthWeatherUnavailable(t *testing.T) {
	t.Parallel()
	state := testState()
	state.WeatherAvailable = false
	srv := newServer(&fakeState{state: state}, &fakeControl{}, nil)

	w := do(t, srv, "GET", "/health", "", "")
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), `"weather_available":false`)
}

func TestForecastEndpoint(t *testing.T) {
	t.Parallel()
	srv := newServer(&fakeState{}, &fakeControl{}, nil)
	w := do(t, srv, "GET", "/api/forecast", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	srv = newServer(&fakeState{state: testState()}, &fakeControl{}, nil)
	w = do(t, srv, "GET", "/api/forecast", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp struct {
		Total struct {
			EnergyToday float64 `json:"energy_production_today"`
		} `json:"total"`
		Detailed []forecast.DetailedEntry `json:"detailedForecast"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 13000.0, resp.Total.EnergyToday)
	assert.NotEmpty(t, resp.Detailed)
}

func TestEnergyEndpoint(t *testing.T) {
	t.Parallel()
	srv := newServer(&fakeState{state: testState()}, &fakeControl{}, nil)
	w := do(t, srv, "GET", "/api/energy", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.EnergyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.WhHours, 13)
}

func TestArrayEndpoints(t *testing.T) {
	t.Parallel()
	srv := newServer(&fakeState{state: testState()}, &fakeControl{}, nil)

	w := do(t, srv, "GET", "/api/arrays/north", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, "GET", "/api/arrays/south", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var arr api.ArrayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &arr))
	assert.Equal(t, "south", arr.Name)
	assert.Equal(t, models.SnowAuto, arr.SnowOverride)
	require.NotNil(t, arr.Forecast)
	assert.Equal(t, 13000.0, arr.Forecast.EnergyToday)

	w = do(t, srv, "GET", "/api/arrays", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"snow_override":"auto"`)
}

func TestSnowEndpoint(t *testing.T) {
	t.Parallel()
	control := &fakeControl{}
	srv := newServer(&fakeState{state: testState()}, control, nil)

	w := do(t, srv, "POST", "/api/arrays/south/snow", `{"state":"covered"}`, "application/json")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.SnowCovered, control.overrides["south"])

	w = do(t, srv, "POST", "/api/arrays/south/snow", "clear", "text/plain")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.SnowClear, control.overrides["south"])

	form := url.Values{"state": {"auto"}}.Encode()
	w = do(t, srv, "POST", "/api/arrays/south/snow", form, "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, models.SnowAuto, control.overrides["south"])

	w = do(t, srv, "POST", "/api/arrays/south/snow", `{"state":"maybe"}`, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/arrays/north/snow", `{"state":"covered"}`, "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// a missing state must not clear the active override
	control.overrides["south"] = models.SnowCovered
	for _, tc := range []struct{ body, contentType string }{
		{`{}`, "application/json"},
		{`{"State":""}`, "application/json"},
		{"", "application/x-www-form-urlencoded"},
		{"  ", "text/plain"},
	} {
		w = do(t, srv, "POST", "/api/arrays/south/snow", tc.body, tc.contentType)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", tc.body)
	}
	assert.Equal(t, models.SnowCovered, control.overrides["south"])

	w = do(t, srv, "GET", "/api/arrays/south/snow", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	t.Parallel()
	control := &fakeControl{}
	srv := newServer(&fakeState{}, control, nil)
	w := do(t, srv, "POST", "/api/refresh", "", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, control.refreshes)
}

func TestFetchRunsEndpoint(t *testing.T) {
	t.Parallel()
	st := setupTestStore(t)
	name := "south"
	run, err := st.StartFetchRun("cycle-1", "pvgis", "seriescalc", &name)
	require.NoError(t, err)
	run.Success = true
	require.NoError(t, st.CompleteFetchRun(run))

	srv := newServer(&fakeState{}, &fakeControl{}, st)
	w := do(t, srv, "GET", "/api/fetch-runs?limit=10", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var runs []api.FetchRunView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "pvgis", runs[0].Source)
	assert.Equal(t, "south", runs[0].ArrayName)
	assert.Equal(t, "cycle-1", runs[0].CycleID)
	assert.True(t, runs[0].Success)

	w = do(t, srv, "GET", "/api/fetch-runs?failed=1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestPayloadEndpoints(t *testing.T) {
	t.Parallel()
	st := setupTestStore(t)
	name := "south"
	id, err := st.StoreRawPayload(nil, "pvgis", "seriescalc", &name, []byte(`{"outputs":{}}`))
	require.NoError(t, err)
	srv := newServer(&fakeState{}, &fakeControl{}, st)

	w := do(t, srv, "GET", fmt.Sprintf("/api/payloads/%d", id), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"outputs":{}}`, w.Body.String())

	w = do(t, srv, "GET", "/api/payloads/9999", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, "GET", "/api/payloads/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "GET", "/api/payloads/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats api.PayloadStatsView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.BySource["pvgis"])
	assert.NotNil(t, stats.Newest)
}

func TestChartEndpoint(t *testing.T) {
	t.Parallel()
	srv := newServer(&fakeState{state: testState()}, &fakeControl{}, nil)
	for range 2 {
		w := do(t, srv, "GET", "/chart.png", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))
	}
}

func TestIndexPage(t *testing.T) {
	t.Parallel()
	srv := newServer(&fakeState{state: testState()}, &fakeControl{}, nil)
	w := do(t, srv, "GET", "/", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "<h1>Solar forecast</h1>")
	assert.Contains(t, body, "13.0 kWh")
	assert.Contains(t, body, `action="/api/arrays/south/snow"`)

	srv = newServer(&fakeState{}, &fakeControl{}, nil)
	w = do(t, srv, "GET", "/", "", "")
	assert.Contains(t, w.Body.String(), "No forecast yet.")

	w = do(t, srv, "GET", "/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := newServer(&fakeState{}, &fakeControl{}, nil)
	w := do(t, srv, "GET", "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "solarcast_weather_available")
}

func TestWebsocketReceivesPublishedState(t *testing.T) {
	t.Parallel()
	srv := newServer(&fakeState{}, &fakeControl{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// published before connecting: new clients get the latest state first
	srv.Publish(testState())

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type    string               `json:"type"`
		Payload api.ForecastResponse `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "forecast", env.Type)
	require.NotNil(t, env.Payload.Total)
	assert.Equal(t, 13000.0, env.Payload.Total.EnergyToday)
}
