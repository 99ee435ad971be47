// Package geo provides a rate-limited client for the Amap (Gaode) REST API
// and wraps its operations (place search, geocoding, routing, weather,
// distance) as capabilities handler units can invoke.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://restapi.amap.com"

// ClientOptions configures a geo client.
type ClientOptions struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client
	// RequestsPerSecond throttles outgoing API calls; 0 disables throttling.
	RequestsPerSecond float64
	// Burst is the limiter burst size; defaults to 1 when throttled.
	Burst int
}

// Client is a thin, rate-limited Amap REST client. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a client with the given API key.
func NewClient(apiKey string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		BaseURL: defaultBaseURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     apiKey,
		httpClient: opts.HTTPClient,
		limiter:    limiter,
	}
}

// APIError is a non-success status reported by the Amap API.
type APIError struct {
	Endpoint string
	Status   string
	Info     string
	InfoCode string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amap %s: status %s (%s): %s", e.Endpoint, e.Status, e.InfoCode, e.Info)
}

// apiEnvelope holds the status fields every Amap response carries.
type apiEnvelope struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	InfoCode string `json:"infocode"`
}

// get performs one throttled GET and decodes the response into a generic
// map after checking the API status envelope. status != "1" is an error.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("amap api key not configured")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params.Set("key", c.apiKey)
	params.Set("output", "json")

	reqURL := c.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("amap %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("amap %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("amap %s: read body: %w", endpoint, err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("amap %s: decode: %w", endpoint, err)
	}

	if envelope.Status != "1" {
		return nil, &APIError{
			Endpoint: endpoint,
			Status:   envelope.Status,
			Info:     envelope.Info,
			InfoCode: envelope.InfoCode,
		}
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("amap %s: decode: %w", endpoint, err)
	}

	return result, nil
}
