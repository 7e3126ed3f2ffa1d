package api

import (
	"time"

	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/models"
	"github.com/lox/solarcast/internal/store"
)

// ForecastResponse is the body of /api/forecast and of websocket updates.
type ForecastResponse struct {
	UpdatedAt           time.Time                         `json:"updated_at"`
	Restored            bool                              `json:"restored,omitempty"`
	WeatherAvailable    bool                              `json:"weather_available"`
	CloudCoverageUsed   *float64                          `json:"cloud_coverage_used"`
	ClearSkyPowerNow    float64                           `json:"clear_sky_power_now"`
	ClearSkyEnergyToday float64                           `json:"clear_sky_energy_today"`
	SnowOverrides       map[string]models.SnowOverride    `json:"snow_overrides"`
	Total               *forecast.ArrayForecast           `json:"total"`
	Arrays              map[string]forecast.ArrayForecast `json:"arrays"`
	DetailedForecast    []forecast.DetailedEntry          `json:"detailedForecast"`
}

// ArrayResponse is one array's configuration and forecast.
type ArrayResponse struct {
	Name         string                  `json:"name"`
	Declination  float64                 `json:"declination"`
	Azimuth      float64                 `json:"azimuth"`
	ModulesPower float64                 `json:"modules_power"`
	Loss         float64                 `json:"loss"`
	Mounting     models.Mounting         `json:"mounting"`
	Technology   models.Technology       `json:"technology"`
	SnowOverride models.SnowOverride     `json:"snow_override"`
	Forecast     *forecast.ArrayForecast `json:"forecast"`
}

type EnergyResponse struct {
	UpdatedAt time.Time          `json:"updated_at"`
	WhHours   map[string]float64 `json:"wh_hours"`
}

type HealthStatus struct {
	Status           string                     `json:"status"`
	UpdatedAt        *time.Time                 `json:"updated_at,omitempty"`
	AgeMinutes       int                        `json:"age_minutes"`
	WeatherAvailable bool                       `json:"weather_available"`
	LastError        string                     `json:"last_error,omitempty"`
	Fetches          []store.FetchHealthSummary `json:"fetches,omitempty"`
	Errors           []string                   `json:"errors,omitempty"`
}

// FetchRunView flattens a store.FetchRun for JSON.
type FetchRunView struct {
	ID           int64      `json:"id"`
	CycleID      string     `json:"cycle_id,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Source       string     `json:"source"`
	Endpoint     string     `json:"endpoint"`
	ArrayName    string     `json:"array,omitempty"`
	HTTPStatus   int64      `json:"http_status,omitempty"`
	ResponseSize int64      `json:"response_size_bytes,omitempty"`
	Records      int64      `json:"records_parsed"`
	ParseErrors  int64      `json:"parse_errors,omitempty"`
	Success      bool       `json:"success"`
	Error        string     `json:"error,omitempty"`
}

func newFetchRunView(r store.FetchRun) FetchRunView {
	v := FetchRunView{
		ID:           r.ID,
		CycleID:      r.CycleID.String,
		StartedAt:    r.StartedAt,
		Source:       r.Source,
		Endpoint:     r.Endpoint,
		ArrayName:    r.ArrayName.String,
		HTTPStatus:   r.HTTPStatus.Int64,
		ResponseSize: r.ResponseSizeBytes.Int64,
		Records:      r.RecordsParsed.Int64,
		ParseErrors:  r.ParseErrors.Int64,
		Success:      r.Success,
		Error:        r.ErrorMessage.String,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		v.FinishedAt = &t
	}
	return v
}

type PayloadStatsView struct {
	Count     int              `json:"count"`
	SizeBytes int64            `json:"size_bytes"`
	Oldest    *time.Time       `json:"oldest,omitempty"`
	Newest    *time.Time       `json:"newest,omitempty"`
	BySource  map[string]int   `json:"count_by_source,omitempty"`
	SizeBy    map[string]int64 `json:"size_by_source,omitempty"`
}

func newPayloadStatsView(st *store.RawPayloadStats) PayloadStatsView {
	v := PayloadStatsView{
		Count:     st.TotalCount,
		SizeBytes: st.TotalSizeBytes,
		BySource:  st.CountBySource,
		SizeBy:    st.SizeBySource,
	}
	if st.TotalCount > 0 {
		v.Oldest = &st.OldestFetchedAt
		v.Newest = &st.NewestFetchedAt
	}
	return v
}

// IndexData is rendered by index.html.
type IndexData struct {
	State   *ForecastResponse
	Arrays  []ArrayResponse
	Days    []DaySummary
	Now     time.Time
	Updated string
}

type DaySummary struct {
	Label string
	KWh   float64
}
