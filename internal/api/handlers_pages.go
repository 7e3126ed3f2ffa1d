package api

import (
	"net/http"

	"go.uber.org/zap"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	now := s.now().In(s.loc)
	state := s.state.State()

	data := IndexData{
		State: s.forecastResponse(state),
		Now:   now,
	}
	for _, arr := range s.control.Arrays() {
		data.Arrays = append(data.Arrays, s.arrayResponse(arr, state))
	}
	if state != nil {
		data.Updated = state.UpdatedAt.In(s.loc).Format("Mon 2 Jan 15:04")
		if state.Total != nil {
			for i, wh := range state.Total.EnergyDays {
				data.Days = append(data.Days, DaySummary{
					Label: now.AddDate(0, 0, i).Format("Mon 2 Jan"),
					KWh:   wh / 1000,
				})
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("template error", zap.Error(err))
	}
}
