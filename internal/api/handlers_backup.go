package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/sydlexius/rcindex/internal/backup"
	"github.com/sydlexius/rcindex/internal/event"
)

type backupListResponse struct {
	Dir       string            `json:"dir"`
	Policy    backup.Policy     `json:"policy"`
	Snapshots []backup.Snapshot `json:"snapshots"`
}

func (r *Router) handleListBackups(w http.ResponseWriter, _ *http.Request) {
	if r.backupService == nil {
		writeError(w, http.StatusServiceUnavailable, "backup service not available")
		return
	}

	snaps, err := r.backupService.List()
	if err != nil {
		r.logger.Error("listing backups", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, backupListResponse{
		Dir:       r.backupService.Dir(),
		Policy:    r.backupService.Policy(),
		Snapshots: snaps,
	})
}

func (r *Router) handleCreateBackup(w http.ResponseWriter, req *http.Request) {
	if r.backupService == nil {
		writeError(w, http.StatusServiceUnavailable, "backup service not available")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Minute)
	defer cancel()

	snap, err := r.backupService.Create(ctx)
	if err != nil {
		r.logger.Error("backup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed: "+err.Error())
		return
	}
	if _, err := r.backupService.Prune(); err != nil {
		r.logger.Warn("pruning backups", "error", err)
	}

	r.publish(event.BackupCreated, map[string]any{"name": snap.Name, "size": snap.Size})
	writeJSON(w, http.StatusCreated, snap)
}

func (r *Router) handleDeleteBackup(w http.ResponseWriter, req *http.Request) {
	if r.backupService == nil {
		writeError(w, http.StatusServiceUnavailable, "backup service not available")
		return
	}

	err := r.backupService.Delete(req.PathValue("name"))
	switch {
	case errors.Is(err, backup.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "backup not found")
	case err != nil:
		r.logger.Error("deleting backup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
