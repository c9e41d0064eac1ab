package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vedsharma/apitester/internal/codec"
	"github.com/vedsharma/apitester/internal/draft"
	"github.com/vedsharma/apitester/internal/model"
)

const (
	// MaxResponseSize limits the proxy reply to 50MB to prevent memory exhaustion
	MaxResponseSize = 50 * 1024 * 1024

	// Default timeout for a proxy round trip
	DefaultTimeout = 30 * time.Second

	// DefaultBaseURL is where the proxy listens during local development
	DefaultBaseURL = "http://localhost:5000"

	// ProxyPath is the fixed endpoint the envelope is posted to
	ProxyPath = "/proxy"

	nonJSONData = "Non-JSON response"
)

// Client sends drafts through the external proxy and normalizes what comes back
type Client struct {
	client          *http.Client
	baseURL         string
	maxResponseSize int64
	logger          *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying transport client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the round trip timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithMaxResponseSize caps how much of the proxy reply is read
func WithMaxResponseSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a proxy client. An empty baseURL falls back to DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		client:          &http.Client{Timeout: DefaultTimeout},
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		maxResponseSize: MaxResponseSize,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the proxy base address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Result is the outcome of one dispatch
type Result struct {
	// Request is the resolved request that was sent
	Request model.ResolvedRequest
	// Response is always populated, even when the proxy could not be reached
	Response model.Response
	// Delivered is true when the proxy answered, whatever it answered
	Delivered bool
}

type proxyRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body,omitempty"`
}

type proxyReply struct {
	Status     *int            `json:"status"`
	StatusText string          `json:"statusText"`
	Data       json.RawMessage `json:"data"`
}

// Dispatch resolves the draft and sends it through the proxy in a single attempt.
// Only validation failures are returned as errors; transport failures are folded
// into the returned Response.
func (c *Client) Dispatch(ctx context.Context, d model.Draft) (*Result, error) {
	resolved, err := draft.Resolve(d)
	if err != nil {
		return nil, err
	}

	payload, err := codec.Marshal(proxyRequest{
		URL:     resolved.URL,
		Method:  string(resolved.Method),
		Headers: resolved.Headers,
		Body:    resolved.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode proxy envelope: %w", err)
	}

	result := &Result{Request: resolved}

	start := time.Now()
	resp, delivered, err := c.send(ctx, payload)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		c.logger.Warn("proxy request failed",
			zap.String("method", string(resolved.Method)),
			zap.String("url", resolved.URL),
			zap.Error(err))
		result.Response = model.Response{
			Headers: map[string]string{},
			Data:    "Error: " + err.Error(),
		}
	} else {
		result.Response = resp
	}
	result.Response.TimeMs = &elapsed
	result.Delivered = delivered

	c.logger.Debug("request dispatched",
		zap.String("method", string(resolved.Method)),
		zap.String("url", resolved.URL),
		zap.Bool("delivered", delivered),
		zap.Int64("duration_ms", elapsed))

	return result, nil
}

func (c *Client) send(ctx context.Context, payload []byte) (model.Response, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ProxyPath, bytes.NewReader(payload))
	if err != nil {
		return model.Response{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.Response{}, false, err
	}
	defer resp.Body.Close()

	// Read the reply with a size limit to prevent memory exhaustion
	limitedReader := io.LimitReader(resp.Body, c.maxResponseSize+1)
	raw, err := io.ReadAll(limitedReader)
	if err != nil {
		return model.Response{}, false, err
	}
	if int64(len(raw)) > c.maxResponseSize {
		raw = raw[:c.maxResponseSize]
		c.logger.Warn("proxy reply truncated", zap.Int64("limit", c.maxResponseSize))
	}

	return normalize(resp, raw), true, nil
}

// normalize maps the proxy reply onto the Response Model. A reply that is not a
// JSON envelope keeps the transport status line and a fixed placeholder body.
func normalize(resp *http.Response, raw []byte) model.Response {
	out := model.Response{Headers: flattenHeaders(resp.Header)}

	var reply proxyReply
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || codec.Unmarshal(trimmed, &reply) != nil {
		status := resp.StatusCode
		out.Status = &status
		out.StatusText = statusText(resp)
		out.Data = nonJSONData
		return out
	}

	out.Status = reply.Status
	out.StatusText = reply.StatusText
	out.Data = dataText(reply.Data)
	return out
}

// dataText coerces the envelope's data to display text: strings verbatim,
// objects and arrays indented, other scalars as their JSON literal
func dataText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '{', '[':
		return codec.Indent(trimmed)
	case '"':
		var s string
		if err := codec.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// flattenHeaders lower-cases names and joins repeated values
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) > 0 {
			out[strings.ToLower(key)] = strings.Join(values, ", ")
		}
	}
	return out
}
