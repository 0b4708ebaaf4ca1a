package codeforces

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const defaultBaseURL = "https://codeforces.com/api"

// Client is a Codeforces API client with rate limiting
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Simple rate limiter; Codeforces allows about one call per second
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration

	// Cached problemset, refreshed periodically
	cacheMu     sync.RWMutex
	problems    []Problem
	problemsAge time.Time
}

// NewClient creates a new Codeforces API client
func NewClient() *Client {
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		minInterval: time.Second,
	}
}

// apiResponse is the common Codeforces envelope
type apiResponse struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

// get performs a rate-limited GET and decodes the result envelope
func (c *Client) get(ctx context.Context, method string, params url.Values, result any) error {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	endpoint := c.baseURL + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	if envelope.Status != "OK" {
		return fmt.Errorf("codeforces API: %s", envelope.Comment)
	}

	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
