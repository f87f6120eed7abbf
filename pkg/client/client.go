// Package client provides an HTTP client for the fleetmon daemon API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrBusy indicates the daemon rejected a cycle trigger because a
// cycle is already running.
var ErrBusy = errors.New("daemon busy: cycle already running")

// Client provides HTTP client functionality to communicate with the fleetmon daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8782",
		Timeout: 10 * time.Second,
	}
}

// New creates a new fleetmon API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the daemon's current monitor status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	if err := c.getJSON(ctx, c.baseURL+"/status", &out); err != nil {
		return Status{}, err
	}
	return out, nil
}

// TriggerCycle asks the daemon to run a reconcile cycle now. Returns
// ErrBusy when a cycle is already in flight.
func (c *Client) TriggerCycle(ctx context.Context) (CycleResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cycle", nil)
	if err != nil {
		return CycleResult{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return CycleResult{}, fmt.Errorf("trigger cycle: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var out CycleResult
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return CycleResult{}, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	case http.StatusConflict:
		return CycleResult{}, ErrBusy
	default:
		return CycleResult{}, apiError(resp)
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}
