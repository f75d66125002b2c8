package webhook

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/sydlexius/rcindex/internal/event"
)

// Webhook is an endpoint notified when matching events occur.
type Webhook struct {
	Name   string   `yaml:"name" json:"name"`
	URL    string   `yaml:"url" json:"url"`
	Type   string   `yaml:"type" json:"type"`
	Events []string `yaml:"events" json:"events"`
}

// Webhook types.
const (
	TypeGeneric = "generic"
	TypeDiscord = "discord"
	TypeSlack   = "slack"
	TypeGotify  = "gotify"
)

// DefaultEvents are delivered when a webhook lists none.
var DefaultEvents = []string{
	string(event.ScanCompleted),
	string(event.ScanFailed),
}

// Validate checks the URL and type, and fills in the default type and events.
func (w *Webhook) Validate() error {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook %q: url must be an absolute http(s) URL", w.Name)
	}
	switch w.Type {
	case "":
		w.Type = TypeGeneric
	case TypeGeneric, TypeDiscord, TypeSlack, TypeGotify:
	default:
		return fmt.Errorf("webhook %q: unknown type %q", w.Name, w.Type)
	}
	if len(w.Events) == 0 {
		w.Events = slices.Clone(DefaultEvents)
	}
	return nil
}

// Wants reports whether the webhook subscribes to t.
func (w *Webhook) Wants(t event.Type) bool {
	return slices.Contains(w.Events, string(t))
}
