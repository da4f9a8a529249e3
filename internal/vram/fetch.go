package vram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
)

const (
	metricsPath    = "/vram"
	requestTimeout = 10 * time.Second
)

// Client fetches allocator snapshots from one node's metrics endpoint.
// It holds no state beyond the underlying HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a client for the node at host:port.
func NewClient(host string, port int) (*Client, error) {
	errFactory := errors.New()

	endpoint := fmt.Sprintf("http://%s:%d%s", host, port, metricsPath)
	if _, err := url.Parse(endpoint); err != nil {
		return nil, errFactory.WithData(ErrInvalidURL, endpoint)
	}

	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: requestTimeout,
		},
	}, nil
}

// Endpoint returns the URL the client polls.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Fetch issues one GET against the node's metrics endpoint and parses the
// response. Network errors, timeouts, non-2xx statuses and malformed JSON
// all surface as fetch error codes; no side effects beyond the request.
func (c *Client) Fetch(ctx context.Context) (*Payload, error) {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, errFactory.Wrap(ErrFetchFailed, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errFactory.WithData(ErrBadStatus, resp.Status)
	}

	var payload Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errFactory.Wrap(ErrInvalidPayload, err)
	}

	return &payload, nil
}
