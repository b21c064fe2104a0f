// Package upstream issues the actual HTTP calls to provider backends. It
// owns one *http.Client per (base_url, proxy) pair so connections are
// reused across requests without a global client timeout killing
// long-running SSE reads — the same convention the teacher's provider
// modules used (modules/provider/anthropic/anthropic.go,
// modules/provider/openai_compatible/openai.go): a Transport with
// ResponseHeaderTimeout instead of Client.Timeout.
package upstream

import (
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Pool lazily constructs and caches *http.Client instances keyed by
// (base_url, proxy), per spec §5 and §9's re-architecture table entry for
// "dynamic per-request object (client SDK)".
type Pool struct {
	mu      sync.Mutex
	clients map[poolKey]*http.Client

	// ResponseHeaderTimeout bounds how long to wait for upstream response
	// headers; it is NOT a total request deadline — that is enforced by
	// the caller's context (request_timeout / streaming_total_timeout).
	ResponseHeaderTimeout time.Duration
}

type poolKey struct {
	baseURL string
	proxy   string
}

// NewPool creates a Pool with the given default response-header timeout.
func NewPool(responseHeaderTimeout time.Duration) *Pool {
	if responseHeaderTimeout <= 0 {
		responseHeaderTimeout = 30 * time.Second
	}
	return &Pool{
		clients:               make(map[poolKey]*http.Client),
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
}

// Client returns the pooled *http.Client for the given base URL and
// optional proxy URL, constructing it on first use.
func (p *Pool) Client(baseURL, proxy string) (*http.Client, error) {
	key := poolKey{baseURL: baseURL, proxy: proxy}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	transport := &http.Transport{
		ResponseHeaderTimeout: p.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConnsPerHost:   16,
	}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := &http.Client{Transport: transport}
	p.clients[key] = c
	return c, nil
}
