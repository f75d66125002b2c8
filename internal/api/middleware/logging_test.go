package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScrubQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"q=holiday+photos&remote=gdrive", "q=holiday+photos&remote=gdrive"},
		{"q=x&api_key=abc", "q=x&api_key=REDACTED"},
		{"Token=abc&flag", "Token=REDACTED&flag"},
		{"password=hunter2", "password=REDACTED"},
	}
	for _, tt := range tests {
		if got := scrubQuery(tt.in); got != tt.want {
			t.Errorf("scrubQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var seenID string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan?token=abc", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seenID == "" || w.Header().Get("X-Request-ID") != seenID {
		t.Errorf("request id = %q, header = %q", seenID, w.Header().Get("X-Request-ID"))
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	if rec["level"] != "WARN" {
		t.Errorf("level = %v, want WARN for 409", rec["level"])
	}
	if rec["status"] != float64(http.StatusConflict) {
		t.Errorf("status = %v", rec["status"])
	}
	if rec["query"] != "token=REDACTED" {
		t.Errorf("query = %v", rec["query"])
	}
}

func TestLogging_KeepsIncomingRequestID(t *testing.T) {
	h := Logging(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/count", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestLogging_PollingIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rcindex/api/v1/scan/progress", nil))
	if buf.Len() != 0 {
		t.Errorf("progress poll logged at info: %q", buf.String())
	}
}
