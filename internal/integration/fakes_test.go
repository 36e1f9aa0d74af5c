package integration

import (
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/carbon-gate/internal/config"
)

const (
	testRegion     = "DK-DK1"
	testAPIKey     = "co2-key"
	testWebhookKey = "hook-key"
	testDevice     = "Dryer"
	testUser       = "user@example.com"
	testPassword   = "password"
)

// fakeCarbonAPI serves a constant carbon intensity.
type fakeCarbonAPI struct {
	calls atomic.Int32
}

func (f *fakeCarbonAPI) start(t *testing.T, body string) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)

		if r.Header.Get("auth-token") != testAPIKey || r.URL.Query().Get("countryCode") != testRegion {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server.URL
}

// fakeMeterAPI serves authentication and a realtime feed with one update.
type fakeMeterAPI struct {
	update string
}

func (f *fakeMeterAPI) start(t *testing.T) (authURL, realtimeURL string) {
	t.Helper()

	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/authenticate", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok","monitors":[{"id":7}]}`))
	})
	mux.HandleFunc("/monitors/7/realtimefeed", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		defer func() {
			_ = conn.Close()
		}()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(f.update))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server.URL + "/authenticate", "ws" + strings.TrimPrefix(server.URL, "http") + "/monitors/{monitor}/realtimefeed"
}

// fakeWebhook records the path of every trigger.
type fakeWebhook struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeWebhook) start(t *testing.T) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()

		_, _ = w.Write([]byte("Congratulations! You've fired the event"))
	}))
	t.Cleanup(server.Close)

	return server.URL + "/trigger/{event}/with/key/{key}"
}

func (f *fakeWebhook) triggered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.paths...)
}

// newTestConfig builds a validated configuration pointing at the fakes.
func newTestConfig(t *testing.T, carbonURL, authURL, realtimeURL, webhookURL string) *config.Config {
	t.Helper()

	dir := t.TempDir()

	cfg := config.Default()
	cfg.Carbon.Region = testRegion
	cfg.Carbon.APIKey = testAPIKey
	cfg.Carbon.BaseURL = carbonURL
	cfg.Carbon.UpdateInterval = time.Hour
	cfg.Carbon.Timeout = time.Second
	cfg.Meter.Username = testUser
	cfg.Meter.Password = testPassword
	cfg.Meter.Device = testDevice
	cfg.Meter.AuthURL = authURL
	cfg.Meter.RealtimeURL = realtimeURL
	cfg.Meter.Timeout = time.Second
	cfg.Actuator.WebhookKey = testWebhookKey
	cfg.Actuator.WebhookURL = webhookURL
	cfg.Actuator.Timeout = time.Second
	cfg.Loop.ShortDelay = 50 * time.Millisecond
	cfg.Loop.LongDelay = 200 * time.Millisecond
	cfg.StateFile = filepath.Join(dir, config.DefaultStateFilename)
	cfg.LockFile = filepath.Join(dir, config.DefaultLockFilename)

	require.NoError(t, config.Validate(cfg))

	return cfg
}

// reservePort returns a free local address.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}
