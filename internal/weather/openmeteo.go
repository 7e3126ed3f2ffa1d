package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lox/solarcast/internal/httputil"
	"github.com/lox/solarcast/internal/metrics"
)

const OpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteo reads forecasts from the Open-Meteo API. It serves all three
// granularities and is never "not ready".
type OpenMeteo struct {
	client    *http.Client
	baseURL   string
	latitude  float64
	longitude float64
	loc       *time.Location
}

func NewOpenMeteo(client *http.Client, baseURL string, latitude, longitude float64, loc *time.Location) *OpenMeteo {
	if client == nil {
		client = httputil.NewClient()
	}
	if baseURL == "" {
		baseURL = OpenMeteoURL
	}
	return &OpenMeteo{client: client, baseURL: baseURL, latitude: latitude, longitude: longitude, loc: loc}
}

func (o *OpenMeteo) Name() string { return "open-meteo" }

type openMeteoSeries struct {
	Time          []string   `json:"time"`
	CloudCover    []*float64 `json:"cloud_cover"`
	CloudMean     []*float64 `json:"cloud_cover_mean"`
	Temperature   []*float64 `json:"temperature_2m"`
	TempMean      []*float64 `json:"temperature_2m_mean"`
	Precipitation []*float64 `json:"precipitation"`
	PrecipSum     []*float64 `json:"precipitation_sum"`
	Snowfall      []*float64 `json:"snowfall"`
	SnowfallSum   []*float64 `json:"snowfall_sum"`
}

type openMeteoCurrent struct {
	Time          string   `json:"time"`
	CloudCover    *float64 `json:"cloud_cover"`
	Temperature   *float64 `json:"temperature_2m"`
	Precipitation *float64 `json:"precipitation"`
	Snowfall      *float64 `json:"snowfall"`
}

type openMeteoResponse struct {
	Hourly  *openMeteoSeries  `json:"hourly"`
	Daily   *openMeteoSeries  `json:"daily"`
	Current *openMeteoCurrent `json:"current"`
	Error   bool              `json:"error"`
	Reason  string            `json:"reason"`
}

func (o *OpenMeteo) query(g Granularity) url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(o.latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(o.longitude, 'f', 4, 64))
	q.Set("timezone", timezoneName(o.loc))
	switch g {
	case Hourly:
		q.Set("hourly", "cloud_cover,temperature_2m,precipitation,snowfall")
		// one day of history feeds the snow lookback window
		q.Set("past_days", "1")
		q.Set("forecast_days", "7")
	case Daily:
		q.Set("daily", "cloud_cover_mean,temperature_2m_mean,precipitation_sum,snowfall_sum")
		q.Set("forecast_days", "7")
	case Current:
		q.Set("current", "cloud_cover,temperature_2m,precipitation,snowfall")
	}
	return q
}

func timezoneName(loc *time.Location) string {
	if loc == nil || loc.String() == "Local" || loc.String() == "" {
		return "auto"
	}
	return loc.String()
}

// Forecast fetches one granularity. Snowfall is reported by Open-Meteo in
// centimetres and converted to millimetres.
func (o *OpenMeteo) Forecast(ctx context.Context, g Granularity) ([]Entry, *httputil.FetchResult, error) {
	result := &httputil.FetchResult{Endpoint: "forecast/" + string(g)}
	reqURL := o.baseURL + "?" + o.query(g).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, result, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	metrics.UpstreamLatency.WithLabelValues(o.Name(), result.Endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues(o.Name(), result.Endpoint, "error").Inc()
		result.Error = fmt.Errorf("fetch %s forecast: %w", g, err)
		return nil, result, result.Error
	}
	defer resp.Body.Close()
	result.HTTPStatus = resp.StatusCode
	metrics.UpstreamCallsTotal.WithLabelValues(o.Name(), result.Endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		return nil, result, result.Error
	}
	result.Body = body
	result.ResponseSize = len(body)

	var parsed openMeteoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		result.Error = fmt.Errorf("decode %s forecast: %w", g, err)
		return nil, result, result.Error
	}
	if resp.StatusCode != http.StatusOK || parsed.Error {
		result.Error = fmt.Errorf("unexpected status: %d: %s", resp.StatusCode, parsed.Reason)
		return nil, result, result.Error
	}

	var entries []Entry
	switch g {
	case Hourly:
		if parsed.Hourly != nil {
			s := parsed.Hourly
			entries = seriesEntries(s.Time, s.CloudCover, s.Temperature, s.Precipitation, s.Snowfall)
		}
	case Daily:
		if parsed.Daily != nil {
			s := parsed.Daily
			entries = seriesEntries(s.Time, s.CloudMean, s.TempMean, s.PrecipSum, s.SnowfallSum)
		}
	case Current:
		if c := parsed.Current; c != nil && c.Time != "" {
			entries = []Entry{{
				Datetime:      c.Time,
				CloudCoverage: c.CloudCover,
				Temperature:   c.Temperature,
				Precipitation: c.Precipitation,
				Snow:          cmToMM(c.Snowfall),
			}}
		}
	}
	result.RecordCount = len(entries)
	return entries, result, nil
}

func seriesEntries(times []string, cloud, temp, precip, snow []*float64) []Entry {
	entries := make([]Entry, 0, len(times))
	for i, ts := range times {
		entries = append(entries, Entry{
			Datetime:      ts,
			CloudCoverage: at(cloud, i),
			Temperature:   at(temp, i),
			Precipitation: at(precip, i),
			Snow:          cmToMM(at(snow, i)),
		})
	}
	return entries
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

func cmToMM(v *float64) *float64 {
	if v == nil {
		return nil
	}
	mm := *v * 10
	return &mm
}
