package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/rcindex/internal/ingest"
)

// handleScanStart begins indexing remote:path in the background.
// POST /api/v1/scan
func (r *Router) handleScanStart(w http.ResponseWriter, req *http.Request) {
	var remote, path, folder string
	if err := decodeParams(req, map[string]*string{"remote": &remote, "path": &path, "folder": &folder}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if path == "" {
		path = folder
	}

	status, err := r.scanService.Start(req.Context(), remote, path)
	switch {
	case errors.Is(err, ingest.ErrRemoteRequired):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ingest.ErrScanInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		r.logger.Error("starting scan", "remote", remote, "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, status)
}

// handleScanStop cancels the running scan.
// POST /api/v1/scan/stop
func (r *Router) handleScanStop(w http.ResponseWriter, _ *http.Request) {
	inserted, stopped := r.scanService.Stop()
	status := "stopped"
	if !stopped {
		status = "idle"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"inserted": inserted,
	})
}

// handleScanProgress returns the recent progress lines of the current scan.
// GET /api/v1/scan/progress
func (r *Router) handleScanProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"lines": r.scanService.Progress()})
}

// handleScanStatus returns the current or most recent scan status.
// GET /api/v1/scan/status
func (r *Router) handleScanStatus(w http.ResponseWriter, _ *http.Request) {
	status := r.scanService.Status()
	if status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"state": string(ingest.StateIdle)})
		return
	}
	writeJSON(w, http.StatusOK, status)
}
