// Package co2signal reads the latest grid carbon intensity for a region.
package co2signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/oshokin/carbon-gate/internal/version"
)

var (
	// ErrMissingField is returned when the payload has no carbon intensity.
	ErrMissingField = errors.New("carbon intensity missing from response")
	// ErrStatus is returned for non-2xx responses.
	ErrStatus = errors.New("unexpected provider status")
)

const (
	// latestPath is the endpoint returning the newest reading.
	latestPath = "/v1/latest"
	// authHeader carries the API key.
	authHeader = "auth-token"
	// failuresToTrip opens the breaker after this many consecutive failures.
	failuresToTrip = 3
	// openFor is how long the breaker stays open.
	openFor = 10 * time.Minute
	// maxErrorBody limits how much of an error response is quoted.
	maxErrorBody = 256
)

// Client fetches readings from the CO2 Signal API.
type Client struct {
	baseURL string
	apiKey  string
	region  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Region  string
	Timeout time.Duration
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// latestResponse is the subset of the payload we read.
type latestResponse struct {
	Status string `json:"status"`
	Data   struct {
		CarbonIntensity *float64 `json:"carbonIntensity"`
	} `json:"data"`
	Message string `json:"message"`
}

// New creates a client.
func New(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		region:  opts.Region,
		http:    client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "co2signal",
			Timeout: openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failuresToTrip
			},
		}),
	}
}

// Region returns the configured region code.
func (c *Client) Region() string {
	return c.region
}

// Latest returns the current carbon intensity of the configured region.
// It never retries; an open breaker fails immediately with gobreaker.ErrOpenState.
func (c *Client) Latest(ctx context.Context) (float64, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return 0, err
	}

	value, _ := result.(float64)

	return value, nil
}

func (c *Client) fetch(ctx context.Context) (float64, error) {
	endpoint := c.baseURL + latestPath + "?" + url.Values{"countryCode": {c.region}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set(authHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get latest: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload latestResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode latest: %w", err)
	}

	if payload.Data.CarbonIntensity == nil {
		if payload.Message != "" {
			return 0, fmt.Errorf("%w: %s", ErrMissingField, payload.Message)
		}

		return 0, ErrMissingField
	}

	return *payload.Data.CarbonIntensity, nil
}
