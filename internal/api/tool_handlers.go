package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleGetToolStatus reports the installed fetch tool version and when it
// was last updated.
func (s *Server) handleGetToolStatus(w http.ResponseWriter, r *http.Request) {
	version, err := s.app.Tool().Version(r.Context())
	if err != nil {
		RespondWithError(w, http.StatusBadGateway, "Fetch tool is not installed")
		return
	}
	lastUpdate, installType := s.app.Tool().LastUpdate()
	payload := map[string]interface{}{
		"version":      version,
		"install_type": installType,
	}
	if !lastUpdate.IsZero() {
		payload["last_update"] = lastUpdate.Format(time.RFC3339)
	}
	RespondWithJSON(w, http.StatusOK, payload)
}

// handleUpdateTool updates the fetch tool, optionally to the latest
// prerelease build.
func (s *Server) handleUpdateTool(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prerelease bool `json:"prerelease"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	before, _ := s.app.Tool().Version(r.Context())
	var err error
	if payload.Prerelease {
		err = s.app.Tool().UpdatePrerelease(r.Context())
	} else {
		err = s.app.Tool().Update(r.Context())
	}
	if err != nil {
		RespondWithError(w, http.StatusBadGateway, "Tool update failed")
		return
	}
	after, err := s.app.Tool().Version(r.Context())
	if err != nil {
		RespondWithError(w, http.StatusBadGateway, "Fetch tool is not installed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"version": after,
		"updated": before != after,
	})
}
