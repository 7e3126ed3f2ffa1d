package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/chart"
)

// handleChart serves the hourly bar chart for today and tomorrow, cached
// per published state.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	state := s.state.State()
	var version time.Time
	if state != nil {
		version = state.UpdatedAt
	}

	if data, ok := s.charts.Get(version); ok {
		s.serveImage(w, data)
		return
	}

	data, err := chart.Render(state, s.now().In(s.loc))
	if err != nil {
		s.logger.Error("render chart", zap.Error(err))
		http.Error(w, "chart rendering failed", http.StatusInternalServerError)
		return
	}
	if state != nil {
		s.charts.Set(version, data)
	}
	s.serveImage(w, data)
}

func (s *Server) serveImage(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}
