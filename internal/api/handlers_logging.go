package api

import (
	"encoding/json"
	"net/http"
)

func (r *Router) handleGetLogging(w http.ResponseWriter, _ *http.Request) {
	if r.logManager == nil {
		writeError(w, http.StatusServiceUnavailable, "logging manager not available")
		return
	}
	writeJSON(w, http.StatusOK, r.logManager.Config())
}

// handleUpdateLogging changes the level and format at runtime. Fields left
// out of the body keep their current value. Changes are not persisted.
func (r *Router) handleUpdateLogging(w http.ResponseWriter, req *http.Request) {
	if r.logManager == nil {
		writeError(w, http.StatusServiceUnavailable, "logging manager not available")
		return
	}

	var body struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := r.logManager.Config()
	if body.Level != "" {
		cfg.Level = body.Level
	}
	if body.Format != "" {
		cfg.Format = body.Format
	}
	if err := r.logManager.Reconfigure(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.logger.Info("logging reconfigured", "config", cfg.String())
	writeJSON(w, http.StatusOK, cfg)
}
