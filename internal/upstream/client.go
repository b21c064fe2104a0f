package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relaymux/relaymux/internal/config"
)

// Request is one outbound call to a provider, already translated into the
// provider's wire dialect by internal/translate.
type Request struct {
	Provider config.Provider
	Path     string // e.g. "/v1/messages" or "/chat/completions"
	Headers  http.Header
	Body     []byte
	Stream   bool
}

// Response wraps the raw upstream HTTP response. Callers MUST close Body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client issues HTTP calls against provider base URLs using a shared Pool.
type Client struct {
	pool *Pool
}

// NewClient creates a Client backed by pool.
func NewClient(pool *Pool) *Client {
	return &Client{pool: pool}
}

// Do issues req against its provider's base URL and returns the raw
// response. Callers are responsible for reading (and closing) Body; for
// streaming responses the body is NOT buffered — it is read live by
// internal/translate's SSE state machines.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target := strings.TrimRight(req.Provider.BaseURL, "/") + req.Path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	httpReq.Header = req.Headers.Clone()
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client, err := c.pool.Client(req.Provider.BaseURL, req.Provider.HTTPProxy)
	if err != nil {
		return nil, fmt.Errorf("upstream: client pool: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// ReadErrorPreview reads up to maxBytes of body for the response-health
// evaluation in spec §4.H, returning them as a string and a fresh reader
// that replays the consumed bytes for any subsequent caller (there are
// none on the error path today, but this keeps the contract honest).
func ReadErrorPreview(body io.Reader, maxBytes int64) (string, error) {
	limited := io.LimitReader(body, maxBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
