package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
	"github.com/oshokin/carbon-gate/internal/version"
)

// Webhook fires maker-style webhook events, one per command.
type Webhook struct {
	// urlTemplate contains {event} and {key} placeholders.
	urlTemplate string
	key         string
	onEvent     string
	offEvent    string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
}

// WebhookOptions configures a Webhook.
type WebhookOptions struct {
	// URLTemplate contains {event} and {key} placeholders.
	URLTemplate string
	// Key is substituted for {key}.
	Key string
	// OnEvent and OffEvent are substituted for {event}.
	OnEvent  string
	OffEvent string
	// Timeout bounds one request.
	Timeout time.Duration
	// Client overrides the HTTP client, mostly for tests.
	Client *http.Client
}

// errWebhookStatus is returned for non-2xx webhook responses.
var errWebhookStatus = errors.New("unexpected webhook status")

const (
	// webhookFailuresToTrip is the number of consecutive failures that opens the breaker.
	webhookFailuresToTrip = 3
	// webhookOpenFor is how long the breaker rejects calls once open.
	webhookOpenFor = 5 * time.Minute
	// maxErrorBody limits how much of an error response is quoted.
	maxErrorBody = 256
)

// NewWebhook creates a webhook sender.
func NewWebhook(opts WebhookOptions) *Webhook {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Webhook{
		urlTemplate: opts.URLTemplate,
		key:         opts.Key,
		onEvent:     opts.OnEvent,
		offEvent:    opts.OffEvent,
		client:      client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "webhook",
			Timeout: webhookOpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= webhookFailuresToTrip
			},
		}),
	}
}

// Send fires the event matching command.
func (w *Webhook) Send(ctx context.Context, command gate.Command) error {
	_, err := w.breaker.Execute(func() (any, error) {
		return nil, w.fire(ctx, w.eventFor(command))
	})

	return err
}

// URL returns the trigger URL for an event.
func (w *Webhook) URL(event string) string {
	return strings.NewReplacer(
		"{event}", url.PathEscape(event),
		"{key}", url.PathEscape(w.key),
	).Replace(w.urlTemplate)
}

func (w *Webhook) eventFor(command gate.Command) string {
	if command == gate.CommandTurnOn {
		return w.onEvent
	}

	return w.offEvent
}

func (w *Webhook) fire(ctx context.Context, event string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL(event), nil)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("call webhook: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w %d: %s", errWebhookStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
