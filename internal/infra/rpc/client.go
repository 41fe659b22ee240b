// Package rpc calls JSON-RPC and REST endpoints on a given node origin and
// classifies the errors it gets back.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/nodepool/internal/core/domain"
)

// Version selects the JSON-RPC envelope.
type Version string

const (
	V1 Version = "1.0"
	V2 Version = "2.0"
)

// Client talks to whichever origin it is given; it keeps no per-node state.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	path       string
	nextID     atomic.Uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRateLimit caps outgoing requests across all origins.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithPath sets the path JSON-RPC requests are posted to. Defaults to "/".
func WithPath(path string) ClientOption {
	return func(c *Client) { c.path = path }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client with the given per-request timeout.
func NewClient(timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		path: "/",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	JSONRPC string `json:"jsonrpc,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      uint64 `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Call sends a JSON-RPC 2.0 request and decodes the result into out.
func (c *Client) Call(ctx context.Context, origin domain.Origin, method string, params any, out any) error {
	return c.call(ctx, origin, V2, method, params, out)
}

// Call10 sends a JSON-RPC 1.0 request (bitcoind style) with positional params.
func (c *Client) Call10(ctx context.Context, origin domain.Origin, method string, out any, params ...any) error {
	var p any = params
	if len(params) == 0 {
		p = []any{}
	}
	return c.call(ctx, origin, V1, method, p, out)
}

func (c *Client) call(ctx context.Context, origin domain.Origin, version Version, method string, params any, out any) error {
	req := request{Method: method, Params: params, ID: c.nextID.Add(1)}
	if version == V2 {
		req.JSONRPC = string(V2)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, origin.URL()+c.path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, origin, err)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, origin, ErrBadResponse, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s %s: %w", method, origin, resp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s %s: decode result: %w: %v", method, origin, ErrBadResponse, err)
	}
	return nil
}

// Get fetches path on origin and returns the raw body of a 2xx response.
func (c *Client) Get(ctx context.Context, origin domain.Origin, path string) ([]byte, error) {
	raw, err := c.do(ctx, http.MethodGet, origin.URL()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("GET %s%s: %w", origin, path, err)
	}
	return raw, nil
}

// GetJSON is Get followed by a JSON decode into out.
func (c *Client) GetJSON(ctx context.Context, origin domain.Origin, path string, out any) error {
	raw, err := c.Get(ctx, origin, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("GET %s%s: %w: %v", origin, path, ErrBadResponse, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// bitcoind answers RPC errors with 500 and a JSON body.
		if resp.StatusCode == http.StatusInternalServerError && looksLikeRPCError(raw) {
			return raw, nil
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Body:       truncate(string(raw), 256),
		}
	}
	return raw, nil
}

func looksLikeRPCError(raw []byte) bool {
	var resp response
	return json.Unmarshal(raw, &resp) == nil && resp.Error != nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
