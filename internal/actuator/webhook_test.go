package actuator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
)

// newTestWebhook points a Webhook at an httptest server.
func newTestWebhook(server *httptest.Server) *Webhook {
	return NewWebhook(WebhookOptions{
		URLTemplate: server.URL + "/trigger/{event}/with/key/{key}",
		Key:         "secret key",
		OnEvent:     "dehumidifier_on",
		OffEvent:    "dehumidifier_off",
		Timeout:     time.Second,
		Client:      server.Client(),
	})
}

// TestWebhook_FiresEventPerCommand checks the request path for both commands.
func TestWebhook_FiresEventPerCommand(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.EscapedPath())
		mu.Unlock()

		_, _ = w.Write([]byte("Congratulations! You've fired the event"))
	}))
	defer server.Close()

	w := newTestWebhook(server)

	require.NoError(t, w.Send(context.Background(), gate.CommandTurnOn))
	require.NoError(t, w.Send(context.Background(), gate.CommandTurnOff))

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []string{
		"/trigger/dehumidifier_on/with/key/secret%20key",
		"/trigger/dehumidifier_off/with/key/secret%20key",
	}, paths)
}

// TestWebhook_StatusErrorAndBreaker fails on non-2xx and opens the breaker after repeated failures.
func TestWebhook_StatusErrorAndBreaker(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()

		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer server.Close()

	w := newTestWebhook(server)

	for range webhookFailuresToTrip {
		err := w.Send(context.Background(), gate.CommandTurnOn)
		require.ErrorIs(t, err, errWebhookStatus)
		require.Contains(t, err.Error(), "invalid key")
	}

	err := w.Send(context.Background(), gate.CommandTurnOn)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, webhookFailuresToTrip, calls)
}

// TestWebhook_URL substitutes and escapes placeholders.
func TestWebhook_URL(t *testing.T) {
	t.Parallel()

	w := NewWebhook(WebhookOptions{
		URLTemplate: "https://maker.ifttt.com/trigger/{event}/with/key/{key}",
		Key:         "abc/def",
	})

	require.Equal(t, "https://maker.ifttt.com/trigger/on/with/key/abc%2Fdef", w.URL("on"))
}
