package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sydlexius/rcindex/internal/event"
)

// formatPayload returns the request body and content-type for a webhook delivery.
func formatPayload(w *Webhook, e event.Event) ([]byte, string) {
	switch w.Type {
	case TypeDiscord:
		return formatDiscord(e)
	case TypeSlack:
		return formatSlack(e)
	case TypeGotify:
		return formatGotify(e)
	default:
		return formatGeneric(e)
	}
}

func formatGeneric(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"event":     string(e.Type),
		"timestamp": e.Timestamp,
		"data":      e.Data,
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatDiscord(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       "rcindex: " + string(e.Type),
				"description": describe(e),
				"color":       colorFor(e.Type),
				"timestamp":   e.Timestamp.UTC().Format(time.RFC3339),
			},
		},
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatSlack(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"text": fmt.Sprintf("*rcindex: %s*\n%s", e.Type, describe(e)),
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatGotify(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"title":   "rcindex: " + string(e.Type),
		"message": describe(e),
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

// describe renders a one-line human summary of an event.
func describe(e event.Event) string {
	d := e.Data
	target := fmt.Sprintf("%v:%v", d["remote"], d["path"])
	switch e.Type {
	case event.ScanStarted:
		return "Scan of " + target + " started."
	case event.ScanCompleted:
		return fmt.Sprintf("Scan of %s completed: %v files scanned, %v new.", target, d["scanned"], d["inserted"])
	case event.ScanCanceled:
		return fmt.Sprintf("Scan of %s stopped: %v new files kept.", target, d["inserted"])
	case event.ScanFailed:
		return fmt.Sprintf("Scan of %s failed: %v", target, d["error"])
	case event.CatalogCleared:
		return "Catalog cleared."
	case event.IndexRebuilt:
		return "Search index rebuilt."
	case event.BackupCreated:
		return fmt.Sprintf("Backup %v written.", d["name"])
	}
	if d == nil {
		return string(e.Type)
	}
	b, _ := json.Marshal(d)
	return string(b)
}

func colorFor(t event.Type) int {
	switch t {
	case event.ScanFailed:
		return 0xE74C3C
	case event.ScanCanceled:
		return 0xF1C40F
	case event.ScanCompleted:
		return 0x2ECC71
	default:
		return 0x3498DB
	}
}
