package api

import (
	"net/http"

	"github.com/watson-creative/tracking-injector/internal/tracking"
)

func (s *Server) handleGetTrackingSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := tracking.LoadSettings(r.Context(), s.store)
	if err != nil {
		s.log.Errorf("Failed to load tracking settings: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to load tracking settings")
		return
	}
	RespondWithJSON(w, http.StatusOK, settings)
}

// handleUpdateTrackingSettings accepts a map of option names to values. Only
// the options present in the body are changed.
func (s *Server) handleUpdateTrackingSettings(w http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if err := decodeJSON(r, &payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	for name := range payload {
		if !tracking.IsOption(name) {
			RespondWithError(w, http.StatusBadRequest, "Unknown tracking option: "+name)
			return
		}
	}

	settings, err := tracking.SaveSettings(r.Context(), s.store, payload)
	if err != nil {
		s.log.Errorf("Failed to save tracking settings: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to save tracking settings")
		return
	}
	s.log.Infof("Updated %d tracking options", len(payload))
	RespondWithJSON(w, http.StatusOK, settings)
}
