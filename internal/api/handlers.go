package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sydlexius/rcindex/internal/version"
)

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if r.eventBus != nil {
		resp["events_dropped"] = r.eventBus.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeParams fills fields from a JSON body or, for form and query
// requests, from the named form values.
func decodeParams(req *http.Request, dst map[string]*string) error {
	ct, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return err
		}
		for k, p := range dst {
			if v, ok := body[k].(string); ok {
				*p = strings.TrimSpace(v)
			}
		}
		return nil
	}
	if err := req.ParseForm(); err != nil {
		return err
	}
	for k, p := range dst {
		*p = strings.TrimSpace(req.FormValue(k))
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
