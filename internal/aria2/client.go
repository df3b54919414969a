// Package aria2 talks to an aria2 daemon over JSON-RPC.
package aria2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinoosan/modlib/internal/metrics"
)

const (
	DefaultURL     = "http://127.0.0.1:6800/jsonrpc"
	defaultTimeout = 3 * time.Second
)

type Client struct {
	baseURL *url.URL
	secret  string
	http    *http.Client
}

// NewClient builds a client for rawURL. An empty rawURL means DefaultURL and
// a non-positive timeout means three seconds.
func NewClient(rawURL, secret string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("aria2 url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("aria2 url: unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{baseURL: u, secret: secret, http: &http.Client{Timeout: timeout}}, nil
}

func (c *Client) BaseURL() *url.URL  { return c.baseURL }
func (c *Client) HTTP() *http.Client { return c.http }

type rpcReq struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      string `json:"id"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by aria2.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("aria2 rpc error %d: %s", e.Code, e.Message) }

// NotFound reports whether aria2 no longer knows the GID.
func (e *RPCError) NotFound() bool {
	return strings.Contains(strings.ToLower(e.Message), "not found")
}

// Call invokes method. The secret token, when set, is prepended to params.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	timer := prometheus.NewTimer(metrics.Aria2RPCLatency.WithLabelValues(method))
	defer timer.ObserveDuration()

	if c.secret != "" {
		params = append([]any{"token:" + c.secret}, params...)
	}
	body, err := json.Marshal(rpcReq{Jsonrpc: "2.0", Method: method, ID: "modlib", Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("aria2 http %d: %s", resp.StatusCode, string(b))
	}
	var rr rpcResp
	if err := json.Unmarshal(b, &rr); err != nil {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("aria2 rpc decode: %w (%s)", err, string(b))
	}
	if rr.Error != nil {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return nil, rr.Error
	}
	return rr.Result, nil
}
