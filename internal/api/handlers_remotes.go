package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sydlexius/rcindex/internal/provenance"
	"github.com/sydlexius/rcindex/internal/rclone"
)

// handleListRemotes returns the remotes defined in rclone.conf.
// GET /api/v1/remotes
func (r *Router) handleListRemotes(w http.ResponseWriter, _ *http.Request) {
	if r.remotes == nil {
		writeError(w, http.StatusServiceUnavailable, "remotes not configured")
		return
	}
	remotes, err := r.remotes.List()
	if errors.Is(err, rclone.ErrEncryptedConfig) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		r.logger.Error("listing remotes", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read rclone config")
		return
	}
	if remotes == nil {
		remotes = []rclone.Remote{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"remotes": remotes})
}

type browseResponse struct {
	Remote   string            `json:"remote"`
	Path     string            `json:"path"`
	Entries  []rclone.Entry    `json:"entries"`
	LastScan *provenance.Entry `json:"last_scan,omitempty"`
}

// handleBrowse lists one directory of a remote together with when it was
// last scanned.
// GET /api/v1/browse?remote=&path=
func (r *Router) handleBrowse(w http.ResponseWriter, req *http.Request) {
	if r.browser == nil {
		writeError(w, http.StatusServiceUnavailable, "rclone not configured")
		return
	}
	q := req.URL.Query()
	remote := strings.TrimSuffix(strings.TrimSpace(q.Get("remote")), ":")
	if remote == "" {
		writeError(w, http.StatusBadRequest, "remote is required")
		return
	}
	dir := provenance.Normalize(q.Get("path"))

	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Minute)
	defer cancel()

	entries, err := r.browser.List(ctx, remote, dir)
	if errors.Is(err, rclone.ErrNotFound) {
		writeError(w, http.StatusNotFound, "directory not found")
		return
	}
	if err != nil {
		r.logger.Error("browsing remote", "remote", remote, "path", dir, "error", err)
		writeError(w, http.StatusBadGateway, "listing failed")
		return
	}
	if entries == nil {
		entries = []rclone.Entry{}
	}

	resp := browseResponse{Remote: remote, Path: dir, Entries: entries}
	resp.LastScan, err = r.provenanceService.GetLastScan(req.Context(), remote, dir)
	if err != nil {
		r.logger.Warn("reading scan provenance", "remote", remote, "path", dir, "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRemoteScans returns the scan history of every directory of a remote.
// GET /api/v1/remotes/{remote}/scans
func (r *Router) handleRemoteScans(w http.ResponseWriter, req *http.Request) {
	remote := strings.TrimSuffix(req.PathValue("remote"), ":")
	entries, err := r.provenanceService.ListByRemote(req.Context(), remote)
	if err != nil {
		r.logger.Error("listing scan history", "remote", remote, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []provenance.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"remote": remote, "scans": entries})
}
