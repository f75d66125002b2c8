package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sydlexius/rcindex/internal/event"
	"github.com/sydlexius/rcindex/internal/version"
)

const (
	maxRetries     = 2
	requestTimeout = 10 * time.Second
)

// Dispatcher delivers events to the webhooks that subscribe to them.
// Deliveries run in their own goroutines so the event bus is never held up.
type Dispatcher struct {
	hooks      []Webhook
	httpClient *http.Client
	backoff    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates a dispatcher for hooks. A nil client uses a default
// one with a request timeout.
func NewDispatcher(hooks []Webhook, client *http.Client, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Dispatcher{
		hooks:      hooks,
		httpClient: client,
		backoff:    time.Second,
		logger:     logger.With(slog.String("component", "webhook")),
	}
}

// Types returns every event type at least one webhook subscribes to.
func (d *Dispatcher) Types() []event.Type {
	seen := make(map[string]bool)
	var types []event.Type
	for _, h := range d.hooks {
		for _, t := range h.Events {
			if !seen[t] {
				seen[t] = true
				types = append(types, event.Type(t))
			}
		}
	}
	return types
}

// HandleEvent is an event.Handler that sends e to every matching webhook.
func (d *Dispatcher) HandleEvent(e event.Event) {
	for i := range d.hooks {
		h := d.hooks[i]
		if !h.Wants(e.Type) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(h, e)
		}()
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(h Webhook, e event.Event) {
	body, contentType := formatPayload(&h, e)

	attempt := 0
	b := retry.WithMaxRetries(maxRetries, retry.NewExponential(d.backoff))
	err := retry.Do(context.Background(), b, func(ctx context.Context) error {
		attempt++
		err := d.send(ctx, h.URL, body, contentType)
		if err != nil {
			d.logger.Warn("webhook delivery failed",
				"webhook", h.Name,
				"event", string(e.Type),
				"attempt", attempt,
				"error", err)
		}
		return err
	})
	if err != nil {
		d.logger.Error("webhook delivery gave up",
			"webhook", h.Name,
			"event", string(e.Type),
			"error", err)
		return
	}
	d.logger.Debug("webhook delivered", "webhook", h.Name, "event", string(e.Type), "attempt", attempt)
}

// send posts one payload. Network errors and 5xx responses are retryable;
// other failures are returned as-is so retry.Do stops.
func (d *Dispatcher) send(ctx context.Context, url string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "rcindex-webhook/"+version.Version)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		return retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
