// Package client is the HTTP client for a running slotwatch status server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Window is a half-open slot range [Lo, Hi).
type Window struct {
	Lo uint64 `json:"lo"`
	Hi uint64 `json:"hi"`
}

// WindowResult describes the most recent poll window.
type WindowResult struct {
	Window   Window        `json:"window"`
	Listed   []uint64      `json:"listed"`
	Reported []uint64      `json:"reported"`
	Skipped  []uint64      `json:"skipped"`
	Retried  bool          `json:"retried"`
	Cursor   uint64        `json:"cursor"`
	Duration time.Duration `json:"duration"`
}

// Status is the state reported by the status endpoint.
type Status struct {
	Version    string        `json:"version"`
	Endpoint   string        `json:"endpoint"`
	CursorKey  string        `json:"cursor_key"`
	Mode       string        `json:"mode"`
	Uptime     string        `json:"uptime"`
	Cursor     *uint64       `json:"cursor,omitempty"`
	LastWindow *WindowResult `json:"last_window,omitempty"`
}

// Client is the HTTP client for the slotwatch status server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new status client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, c.baseURL+"/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Status retrieves the poller status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.get(ctx, c.baseURL+"/api/v1/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// Cursor retrieves the persisted cursor for key.
func (c *Client) Cursor(ctx context.Context, key string) (uint64, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/api/v1/cursors/%s", c.baseURL, url.PathEscape(key)))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, c.parseErrorResponse(resp)
	}

	var body struct {
		Key  string `json:"key"`
		Slot uint64 `json:"slot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("fetched cursor", "key", key, "slot", body.Slot)
	return body.Slot, nil
}

// Cursors retrieves every persisted cursor.
func (c *Client) Cursors(ctx context.Context) (map[string]uint64, error) {
	resp, err := c.get(ctx, c.baseURL+"/api/v1/cursors")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var body struct {
		Cursors []struct {
			Key  string `json:"key"`
			Slot uint64 `json:"slot"`
		} `json:"cursors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	out := make(map[string]uint64, len(body.Cursors))
	for _, cur := range body.Cursors {
		out[cur.Key] = cur.Slot
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
