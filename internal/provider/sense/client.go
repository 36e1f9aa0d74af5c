// Package sense reads real-time per-device power draw from a Sense energy monitor.
//
// Each call authenticates if needed, opens the realtime websocket feed, waits
// for the first realtime_update message and closes the feed again.
package sense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
	"github.com/oshokin/carbon-gate/internal/logger"
	"github.com/oshokin/carbon-gate/internal/version"
)

var (
	// ErrTimeout is returned when no realtime update arrives in time.
	ErrTimeout = errors.New("realtime feed timed out")
	// ErrUnauthorized is returned when the credentials or the token are rejected.
	ErrUnauthorized = errors.New("sense authentication rejected")
	// ErrNoMonitor is returned when the account has no monitor.
	ErrNoMonitor = errors.New("sense account has no monitor")
	// ErrFeed is returned when the feed reports an error message.
	ErrFeed = errors.New("realtime feed error")
)

const (
	// monitorPlaceholder is replaced by the monitor id in the realtime URL.
	monitorPlaceholder = "{monitor}"
	// messageRealtimeUpdate carries device draws.
	messageRealtimeUpdate = "realtime_update"
	// messageError carries a feed error.
	messageError = "error"
	// maxErrorBody limits how much of an error response is quoted.
	maxErrorBody = 256
)

// Client talks to the Sense cloud.
type Client struct {
	authURL     string
	realtimeURL string
	username    string
	password    string
	timeout     time.Duration
	http        *http.Client
	dialer      *websocket.Dialer

	// token and monitorID are cached between calls; token is cleared when rejected.
	token     string
	monitorID int64
}

// Options configures a Client.
type Options struct {
	AuthURL string
	// RealtimeURL contains a {monitor} placeholder.
	RealtimeURL string
	Username    string
	Password    string
	// Timeout bounds authentication and the wait for a realtime update.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// authResponse is the subset of the authentication payload we read.
type authResponse struct {
	AccessToken string `json:"access_token"`
	Monitors    []struct {
		ID int64 `json:"id"`
	} `json:"monitors"`
}

// envelope is the outer shape of every feed message.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// realtimePayload is the body of a realtime_update message.
type realtimePayload struct {
	Devices []gate.DeviceDraw `json:"devices"`
}

// errorPayload is the body of an error message.
type errorPayload struct {
	Reason string `json:"error_reason"`
}

// New creates a client; it does not contact the service.
func New(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		authURL:     opts.AuthURL,
		realtimeURL: opts.RealtimeURL,
		username:    opts.Username,
		password:    opts.Password,
		timeout:     opts.Timeout,
		http:        client,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.Timeout,
		},
	}
}

// Draws returns the per-device draw reported by the next realtime update.
func (c *Client) Draws(ctx context.Context) ([]gate.DeviceDraw, error) {
	if c.token == "" {
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(ctx, c.feedURL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			c.token = ""
			return nil, fmt.Errorf("%w: realtime feed", ErrUnauthorized)
		}

		return nil, classify(ctx, fmt.Errorf("dial realtime feed: %w", err))
	}

	defer func() {
		_ = conn.Close()
	}()

	deadline, _ := ctx.Deadline()
	if err = conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	for {
		var message envelope
		if err = conn.ReadJSON(&message); err != nil {
			return nil, classify(ctx, fmt.Errorf("read realtime feed: %w", err))
		}

		switch message.Type {
		case messageRealtimeUpdate:
			var payload realtimePayload
			if err = json.Unmarshal(message.Payload, &payload); err != nil {
				return nil, fmt.Errorf("decode realtime update: %w", err)
			}

			return payload.Devices, nil
		case messageError:
			var payload errorPayload
			_ = json.Unmarshal(message.Payload, &payload)

			if strings.Contains(strings.ToLower(payload.Reason), "unauthorized") {
				c.token = ""
				return nil, fmt.Errorf("%w: %s", ErrUnauthorized, payload.Reason)
			}

			return nil, fmt.Errorf("%w: %s", ErrFeed, payload.Reason)
		default:
			logger.DebugKV(ctx, "Skipping realtime message", "type", message.Type)
		}
	}
}

func (c *Client) authenticate(ctx context.Context) error {
	form := url.Values{
		"email":    {c.username},
		"password": {c.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build authentication request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(ctx, fmt.Errorf("authenticate: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("authenticate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload authResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode authentication: %w", err)
	}

	if len(payload.Monitors) == 0 {
		return ErrNoMonitor
	}

	if payload.AccessToken == "" {
		return ErrUnauthorized
	}

	c.token = payload.AccessToken
	c.monitorID = payload.Monitors[0].ID

	logger.DebugKV(ctx, "Authenticated with Sense", "monitor_id", c.monitorID)

	return nil
}

func (c *Client) feedURL() string {
	base := strings.ReplaceAll(c.realtimeURL, monitorPlaceholder, strconv.FormatInt(c.monitorID, 10))

	separator := "?"
	if strings.Contains(base, "?") {
		separator = "&"
	}

	return base + separator + url.Values{"access_token": {c.token}}.Encode()
}

// classify maps deadline and network timeouts onto ErrTimeout.
func classify(ctx context.Context, err error) error {
	var netErr net.Error

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return err
}
