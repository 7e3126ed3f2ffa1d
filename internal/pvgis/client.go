package pvgis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lox/solarcast/internal/httputil"
	"github.com/lox/solarcast/internal/metrics"
	"github.com/lox/solarcast/internal/models"
)

const DefaultURL = "https://re.jrc.ec.europa.eu/api/seriescalc"

// RefreshInterval is how long a fetched table stays current.
const RefreshInterval = 30 * 24 * time.Hour

var (
	ErrConnection = errors.New("pvgis: connection error")
	ErrAPI        = errors.New("pvgis: api error")
)

// Error carries the failure kind (ErrConnection or ErrAPI) and its cause.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func connectionError(err error) error {
	return &Error{Kind: ErrConnection, Err: err}
}

func apiError(err error) error {
	return &Error{Kind: ErrAPI, Err: err}
}

// Client fetches hourly PV output tables.
type Client struct {
	httpClient *http.Client
	baseURL    string
	now        func() time.Time
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = httputil.NewClient()
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, now: time.Now}
}

// Params builds the seriescalc query for one array.
func Params(loc models.Location, arr models.ArrayConfig) url.Values {
	arr = arr.WithDefaults()
	q := url.Values{}
	q.Set("lat", formatFloat(loc.Latitude))
	q.Set("lon", formatFloat(loc.Longitude))
	q.Set("outputformat", "json")
	q.Set("pvcalculation", "1")
	q.Set("peakpower", formatFloat(arr.ModulesPower))
	q.Set("loss", formatFloat(arr.Loss))
	q.Set("angle", formatFloat(arr.Declination))
	q.Set("aspect", formatFloat(arr.Azimuth))
	q.Set("mountingplace", string(arr.Mounting))
	q.Set("pvtechchoice", arr.Technology.PVGISCode())
	return q
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Fetch downloads and parses the table for one array. The FetchResult is
// populated even on failure so the attempt can be audited.
func (c *Client) Fetch(ctx context.Context, loc models.Location, arr models.ArrayConfig) (*Table, *httputil.FetchResult, error) {
	result := &httputil.FetchResult{Endpoint: "seriescalc"}
	reqURL := c.baseURL + "?" + Params(loc, arr).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		result.Error = fmt.Errorf("create request: %w", err)
		return nil, result, result.Error
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.UpstreamLatency.WithLabelValues("pvgis", "seriescalc").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues("pvgis", "seriescalc", "error").Inc()
		result.Error = connectionError(fmt.Errorf("fetch %s: %w", arr.Name, err))
		return nil, result, result.Error
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	metrics.UpstreamCallsTotal.WithLabelValues("pvgis", "seriescalc", strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = connectionError(fmt.Errorf("read body: %w", err))
		return nil, result, result.Error
	}
	result.ResponseSize = len(body)
	result.Body = body

	if resp.StatusCode != http.StatusOK {
		result.Error = apiError(fmt.Errorf("unexpected status: %d: %s", resp.StatusCode, truncate(body, 200)))
		return nil, result, result.Error
	}

	table, stats, err := Parse(body)
	if err != nil {
		result.Error = err
		return nil, result, err
	}
	table.FetchedAt = c.now()
	result.RecordCount = stats.Rows - stats.Skipped
	result.NoteParseErrors(stats.Errors)
	if stats.Skipped > 0 {
		metrics.RowsSkipped.WithLabelValues("pvgis").Add(float64(stats.Skipped))
	}
	return table, result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
