package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/ingest"
	"github.com/lox/solarcast/internal/models"
)

const staleThreshold = 2 * time.Hour

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) forecastResponse(state *forecast.State) *ForecastResponse {
	if state == nil {
		return nil
	}
	resp := &ForecastResponse{
		UpdatedAt:           state.UpdatedAt,
		Restored:            state.Restored,
		WeatherAvailable:    state.WeatherAvailable,
		CloudCoverageUsed:   state.CloudCoverageUsed,
		ClearSkyPowerNow:    state.ClearSkyPowerNow,
		ClearSkyEnergyToday: state.ClearSkyEnergyToday,
		SnowOverrides:       state.SnowOverrides,
		Total:               state.Total,
		Arrays:              state.Arrays,
	}
	if state.Total != nil {
		resp.DetailedForecast = state.Total.Detailed
	}
	return resp
}

func (s *Server) arrayResponse(arr models.ArrayConfig, state *forecast.State) ArrayResponse {
	resp := ArrayResponse{
		Name:         arr.Name,
		Declination:  arr.Declination,
		Azimuth:      arr.Azimuth,
		ModulesPower: arr.ModulesPower,
		Loss:         arr.Loss,
		Mounting:     arr.Mounting,
		Technology:   arr.Technology,
		SnowOverride: state.Override(arr.Name),
	}
	if state != nil {
		if f, ok := state.Arrays[arr.Name]; ok {
			resp.Forecast = &f
		}
	}
	return resp
}

func (s *Server) findArray(name string) (models.ArrayConfig, bool) {
	for _, a := range s.control.Arrays() {
		if a.Name == name {
			return a, true
		}
	}
	return models.ArrayConfig{}, false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", AgeMinutes: -1}

	state := s.state.State()
	if state == nil {
		health.Status = "starting"
	} else {
		updated := state.UpdatedAt
		health.UpdatedAt = &updated
		health.AgeMinutes = int(s.now().Sub(updated).Minutes())
		health.WeatherAvailable = state.WeatherAvailable
		if !state.WeatherAvailable || s.now().Sub(updated) > staleThreshold {
			health.Status = "degraded"
		}
	}
	if err := s.state.LastError(); err != nil {
		health.LastError = err.Error()
		health.Status = "degraded"
	}

	if s.store != nil {
		fetches, err := s.store.GetFetchHealth(1)
		if err != nil {
			health.Errors = append(health.Errors, "fetch health: "+err.Error())
			health.Status = "error"
		}
		health.Fetches = fetches
	}

	status := http.StatusOK
	if health.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleAPIForecast(w http.ResponseWriter, r *http.Request) {
	resp := s.forecastResponse(s.state.State())
	if resp == nil {
		s.writeError(w, http.StatusServiceUnavailable, "forecast not available yet")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIEnergy(w http.ResponseWriter, r *http.Request) {
	state := s.state.State()
	if state == nil {
		s.writeError(w, http.StatusServiceUnavailable, "forecast not available yet")
		return
	}
	s.writeJSON(w, http.StatusOK, EnergyResponse{
		UpdatedAt: state.UpdatedAt,
		WhHours:   state.EnergyHours(s.now().In(s.loc)),
	})
}

func (s *Server) handleAPIArrays(w http.ResponseWriter, r *http.Request) {
	state := s.state.State()
	arrays := s.control.Arrays()
	resp := make([]ArrayResponse, 0, len(arrays))
	for _, arr := range arrays {
		resp = append(resp, s.arrayResponse(arr, state))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIArray(w http.ResponseWriter, r *http.Request) {
	arr, ok := s.findArray(r.PathValue("name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown array")
		return
	}
	s.writeJSON(w, http.StatusOK, s.arrayResponse(arr, s.state.State()))
}

// handleAPISnow accepts {"state":"covered|clear|auto"}, a form value, or a
// plain-text body.
func (s *Server) handleAPISnow(w http.ResponseWriter, r *http.Request) {
	raw, err := snowStateFromRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "state is required: covered, clear or auto")
		return
	}
	o, err := models.ParseSnowOverride(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := r.PathValue("name")
	if err := s.control.SetSnowOverride(name, o); err != nil {
		if errors.Is(err, ingest.ErrUnknownArray) {
			s.writeError(w, http.StatusNotFound, "unknown array")
			return
		}
		s.logger.Error("set snow override", zap.String("array", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"array": name, "snow_override": o.String()})
}

func snowStateFromRequest(r *http.Request) (string, error) {
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var body struct {
			State string `json:"state"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
			return "", errors.New("invalid JSON body")
		}
		return body.State, nil
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		return r.FormValue("state"), nil
	}
	if v := r.URL.Query().Get("state"); v != "" {
		return v, nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	s.control.RequestRefresh()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

func (s *Server) handleAPIFetchRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, []FetchRunView{})
		return
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	failed := r.URL.Query().Get("failed") == "1" || r.URL.Query().Get("failed") == "true"

	runs, err := s.store.GetRecentFetchRuns(limit, failed)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]FetchRunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newFetchRunView(run))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIPayload(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "no store configured")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid payload id")
		return
	}
	body, err := s.store.GetRawPayload(id)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeError(w, http.StatusNotFound, "payload not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) handleAPIPayloadStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, PayloadStatsView{})
		return
	}
	stats, err := s.store.GetRawPayloadStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, newPayloadStatsView(stats))
}
