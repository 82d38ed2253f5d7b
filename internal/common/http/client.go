// Package http builds the outbound HTTP client shared by provider calls.
package http

import (
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	// Timeout is a backstop; callers bound each request with a context.
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	Transport           http.RoundTripper
}

// DefaultClientConfig returns the settings used when no option overrides them.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             2 * time.Minute,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption modifies a ClientConfig.
type ClientOption func(*ClientConfig)

// WithTimeout sets the whole-request backstop timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithMaxIdleConnsPerHost keeps up to max idle connections to the provider,
// typically one per worker. Values below 1 are ignored.
func WithMaxIdleConnsPerHost(max int) ClientOption {
	return func(c *ClientConfig) {
		if max >= 1 {
			c.MaxIdleConnsPerHost = max
		}
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// NewHTTPClient builds a client from DefaultClientConfig and opts.
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// MaxBodySize caps how much of a provider response is read.
const MaxBodySize = 16 << 20

// ReadBody reads at most MaxBodySize bytes and fails if the body is larger.
func ReadBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", MaxBodySize)
	}
	return body, nil
}

// Snippet returns at most n bytes of body, cut on a rune boundary, with a
// marker when truncated.
func Snippet(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "...(truncated)"
}
