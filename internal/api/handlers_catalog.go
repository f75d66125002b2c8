package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/rcindex/internal/catalog"
	"github.com/sydlexius/rcindex/internal/event"
	"github.com/sydlexius/rcindex/internal/ingest"
	"github.com/sydlexius/rcindex/internal/provenance"
)

type searchResponse struct {
	Query   string            `json:"query"`
	Results []catalog.Match   `json:"results"`
	Remote  string            `json:"remote,omitempty"`
	Folder  string            `json:"folder,omitempty"`
	Scanned *provenance.Entry `json:"last_scan,omitempty"`
}

// handleSearch runs an exact-phrase filename search. When remote is given
// the response carries when that remote/folder was last scanned.
// GET /api/v1/search?q=&remote=&folder=
func (r *Router) handleSearch(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := r.catalogService.Search(req.Context(), query)
	if err != nil {
		r.logger.Error("searching catalog", "query", query, "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []catalog.Match{}
	}

	resp := searchResponse{
		Query:   query,
		Results: results,
		Remote:  strings.TrimSuffix(q.Get("remote"), ":"),
		Folder:  provenance.Normalize(q.Get("folder")),
	}
	if resp.Remote != "" {
		resp.Scanned, err = r.provenanceService.GetLastScan(req.Context(), resp.Remote, resp.Folder)
		if err != nil {
			r.logger.Warn("reading scan provenance", "remote", resp.Remote, "folder", resp.Folder, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFileCount returns the number of catalogued files.
// GET /api/v1/files/count
func (r *Router) handleFileCount(w http.ResponseWriter, req *http.Request) {
	n, err := r.catalogService.Count(req.Context())
	if err != nil {
		r.logger.Error("counting files", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// handleListFiles dumps the first records of the catalog for inspection.
// GET /api/v1/files?limit=
func (r *Router) handleListFiles(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	files, err := r.catalogService.List(req.Context(), limit)
	if err != nil {
		r.logger.Error("listing files", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if files == nil {
		files = []catalog.FileRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// handleCatalogClear deletes every file, scan record and index entry.
// POST /api/v1/catalog/clear
func (r *Router) handleCatalogClear(w http.ResponseWriter, req *http.Request) {
	if st := r.scanService.Status(); st != nil && st.State == ingest.StateRunning {
		writeError(w, http.StatusConflict, "cannot clear while a scan is running")
		return
	}
	if err := r.catalogService.ClearAll(req.Context()); err != nil {
		r.logger.Error("clearing catalog", "error", err)
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	r.logger.Info("catalog cleared")
	r.publish(event.CatalogCleared, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleRebuildIndex recreates the search index from the files table.
// POST /api/v1/catalog/rebuild-index
func (r *Router) handleRebuildIndex(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	if err := r.catalogService.RebuildSearchIndex(ctx); err != nil {
		r.logger.Error("rebuilding search index", "error", err)
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	r.logger.Info("search index rebuilt", "duration", time.Since(start).String())
	r.publish(event.IndexRebuilt, map[string]any{"reason": "requested"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (r *Router) publish(t event.Type, data map[string]any) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.Publish(event.Event{Type: t, Data: data})
}
