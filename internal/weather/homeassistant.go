package weather

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lox/solarcast/internal/httputil"
	"github.com/lox/solarcast/internal/metrics"
)

// HomeAssistant reads a weather entity through the Home Assistant REST API.
// Hourly and daily forecasts come from the weather.get_forecasts service;
// Current falls back to the deprecated forecast state attribute.
type HomeAssistant struct {
	client   *http.Client
	baseURL  string
	token    string
	entityID string
}

func NewHomeAssistant(client *http.Client, baseURL, token, entityID string) *HomeAssistant {
	if client == nil {
		client = httputil.NewClient()
	}
	return &HomeAssistant{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		entityID: entityID,
	}
}

func (h *HomeAssistant) Name() string { return h.entityID }

type haState struct {
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	Attributes struct {
		Forecast []Entry `json:"forecast"`
	} `json:"attributes"`
}

type haServiceResponse struct {
	ServiceResponse map[string]struct {
		Forecast []Entry `json:"forecast"`
	} `json:"service_response"`
}

func (h *HomeAssistant) Forecast(ctx context.Context, g Granularity) ([]Entry, *httputil.FetchResult, error) {
	switch g {
	case Hourly:
		// A missing or not-yet-loaded entity is reported before the service
		// call so the caller can tell "not ready" from "no hourly support".
		if _, result, err := h.state(ctx); err != nil {
			return nil, result, err
		}
		return h.serviceForecast(ctx, g)
	case Daily:
		return h.serviceForecast(ctx, g)
	case Current:
		st, result, err := h.state(ctx)
		if err != nil {
			return nil, result, err
		}
		result.RecordCount = len(st.Attributes.Forecast)
		return st.Attributes.Forecast, result, nil
	}
	return nil, nil, ErrNotSupported
}

func (h *HomeAssistant) state(ctx context.Context) (*haState, *httputil.FetchResult, error) {
	result := &httputil.FetchResult{Endpoint: "states"}
	body, err := h.do(ctx, http.MethodGet, "/api/states/"+h.entityID, nil, result)
	if result.HTTPStatus == http.StatusNotFound {
		return nil, result, ErrUnavailable
	}
	if err != nil {
		return nil, result, err
	}

	var st haState
	if err := json.Unmarshal(body, &st); err != nil {
		result.Error = fmt.Errorf("decode state: %w", err)
		return nil, result, result.Error
	}
	if st.State == "unavailable" || st.State == "unknown" {
		return nil, result, ErrUnavailable
	}
	return &st, result, nil
}

func (h *HomeAssistant) serviceForecast(ctx context.Context, g Granularity) ([]Entry, *httputil.FetchResult, error) {
	result := &httputil.FetchResult{Endpoint: "get_forecasts/" + string(g)}
	payload, err := json.Marshal(map[string]string{"entity_id": h.entityID, "type": string(g)})
	if err != nil {
		return nil, result, err
	}

	body, err := h.do(ctx, http.MethodPost, "/api/services/weather/get_forecasts?return_response", payload, result)
	if err != nil {
		return nil, result, err
	}

	var parsed haServiceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		result.Error = fmt.Errorf("decode %s forecast: %w", g, err)
		return nil, result, result.Error
	}
	entity, ok := parsed.ServiceResponse[h.entityID]
	if !ok {
		return nil, result, nil
	}
	result.RecordCount = len(entity.Forecast)
	return entity.Forecast, result, nil
}

func (h *HomeAssistant) do(ctx context.Context, method, path string, payload []byte, result *httputil.FetchResult) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	metrics.UpstreamLatency.WithLabelValues("homeassistant", result.Endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues("homeassistant", result.Endpoint, "error").Inc()
		result.Error = fmt.Errorf("%s %s: %w", method, path, err)
		return nil, result.Error
	}
	defer resp.Body.Close()
	result.HTTPStatus = resp.StatusCode
	metrics.UpstreamCallsTotal.WithLabelValues("homeassistant", result.Endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		return nil, result.Error
	}
	result.Body = body
	result.ResponseSize = len(body)

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("unexpected status: %d", resp.StatusCode)
		return body, result.Error
	}
	return body, nil
}
