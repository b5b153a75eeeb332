package analytics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxPayload bounds a single analytics response.
const maxPayload = 8 << 20

// Client fetches the analytics payload from the backend API.
type Client struct {
	url    string
	apiKey string
	httpc  *http.Client
	logger *slog.Logger
}

func NewClient(url, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		httpc:  &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Fetch returns the decoded snapshot together with the raw body it came from.
func (c *Client) Fetch(ctx context.Context) (Snapshot, []byte, error) {
	if c.url == "" {
		return Snapshot{}, nil, errors.New("analytics url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("analytics unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, nil, fmt.Errorf("analytics status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("read analytics body: %w", err)
	}
	snap, err := Decode(body)
	if err != nil {
		return Snapshot{}, nil, err
	}
	c.logger.Debug("analytics fetched", slog.Int("bytes", len(body)))
	return snap, body, nil
}
