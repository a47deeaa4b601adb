// Package api is a thin REST client for the EVA backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/easeaico/eva-client/internal/store"
)

// DefaultBaseURL is the production backend.
const DefaultBaseURL = "https://eva-backend-533306620971.europe-west1.run.app/api/"

// Config holds configuration for the REST client.
type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// Debug logs request and response bodies.
	Debug bool
}

// DefaultConfig returns the production endpoint with 30s timeouts.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
	}
}

// Client calls the backend endpoints. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	debug      bool
	logger     *zap.Logger
}

// NewClient builds a client. wrap, when non-nil, decorates the underlying
// transport (used to attach authentication).
func NewClient(cfg Config, wrap func(http.RoundTripper) http.RoundTripper, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	defaults := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
	}
	if wrap != nil {
		transport = wrap(transport)
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.WriteTimeout + cfg.ReadTimeout,
		},
		debug:  cfg.Debug,
		logger: logger,
	}, nil
}

// SendMessage posts a full chat message to the message endpoint.
func (c *Client) SendMessage(ctx context.Context, msg store.ChatMessage) (*store.ChatMessage, error) {
	var reply store.ChatMessage
	if err := c.do(ctx, http.MethodPost, "message", nil, msg, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// SendSimpleMessage posts a plain text message to the simple-message endpoint.
func (c *Client) SendSimpleMessage(ctx context.Context, req SimpleMessageRequest) (*SimpleMessageResponse, error) {
	var resp SimpleMessageResponse
	if err := c.do(ctx, http.MethodPost, "simple-message", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMemories fetches the user's memories from the backend.
func (c *Client) ListMemories(ctx context.Context) ([]store.Memory, error) {
	var memories []store.Memory
	if err := c.do(ctx, http.MethodGet, "memory", nil, nil, &memories); err != nil {
		return nil, err
	}
	return memories, nil
}

// CreateMemory uploads a memory. The backend echoes the stored row.
func (c *Client) CreateMemory(ctx context.Context, m store.Memory) (*store.Memory, error) {
	var created store.Memory
	if err := c.do(ctx, http.MethodPost, "memory", nil, m, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteMemory removes a memory on the backend.
func (c *Client) DeleteMemory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "memory/"+pathSegment(id), nil, nil, nil)
}

// pathSegment escapes s as a single path segment. Dot segments are encoded
// so they are not resolved against the base URL.
func pathSegment(s string) string {
	switch s {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(s)
}

// CleanupMemories asks the backend to drop memories older than days.
func (c *Client) CleanupMemories(ctx context.Context, days int) error {
	q := url.Values{"days_threshold": {strconv.Itoa(days)}}
	return c.do(ctx, http.MethodPost, "cleanup-memories", q, nil, nil)
}

// Debug returns the backend's diagnostic document.
func (c *Client) Debug(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := c.do(ctx, http.MethodGet, "debug", nil, nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// Health reports whether the backend answers its health check with 2xx.
// A non-2xx answer is not an error; a transport failure is.
func (c *Client) Health(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "health", nil, nil, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false, nil
	}
	return false, err
}

// do sends one request. out == nil means the body is ignored; otherwise an
// empty body yields ErrEmptyBody. path is relative to the base URL and
// already escaped.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	rel, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid request path: %w", err)
	}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.debug {
		c.logger.Debug("api request", zap.String("method", method), zap.String("url", u.String()), zap.ByteString("body", payload))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if c.debug {
		c.logger.Debug("api response", zap.String("url", u.String()), zap.Int("status", resp.StatusCode), zap.ByteString("body", data))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       string(data),
		}
		c.logger.Error("api call failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return apiErr
	}

	if out == nil {
		return nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptyBody
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// statusText strips the numeric prefix from resp.Status.
func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
