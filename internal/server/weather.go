package server

import (
	"errors"
	"net/http"

	"github.com/local/smartgarden/internal/weather"
)

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if s.deps.Weather == nil {
		writeError(w, http.StatusServiceUnavailable, "weather is not configured")
		return
	}
	report, err := s.deps.Weather.Current(r.Context(), r.URL.Query().Get("location"))
	if err != nil {
		if errors.Is(err, weather.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "weather provider unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report)
}
