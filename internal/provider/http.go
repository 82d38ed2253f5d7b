package provider

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stream-auditor/internal/circuitbreaker"
	"stream-auditor/internal/common/errors"
	commonhttp "stream-auditor/internal/common/http"
	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/models"
)

// HTTPConfig configures HTTPProvider.
type HTTPConfig struct {
	BaseURL   string
	APIKey    string
	Exchanges []ExchangeDescriptor
	// Accept is sent on data requests.
	Accept string
	// IDType is sent as the ID_Type query parameter.
	IDType string
}

// HTTPProvider talks to the metrics provider's REST API.
type HTTPProvider struct {
	config  HTTPConfig
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  logging.Logger
	now     func() time.Time
}

// Option configures an HTTPProvider.
type Option func(*HTTPProvider)

// WithHTTPClient replaces the default client, e.g. with one tuned by commonhttp.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProvider) { p.client = c }
}

// WithBreaker guards data fetches with b. Auth exchanges are never guarded.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(p *HTTPProvider) { p.breaker = b }
}

// WithLogger sets the logger used for exchange and fetch diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(p *HTTPProvider) { p.logger = l }
}

// NewHTTPProvider validates config and builds a provider.
//
// Parameters:
//   - config: base URL, API key and the ordered auth exchanges
//   - opts: optional client, logger and circuit breaker
//
// Returns a configuration error when the base URL is not absolute or no
// exchange is given.
func NewHTTPProvider(config HTTPConfig, opts ...Option) (*HTTPProvider, error) {
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, errors.ConfigError("provider base URL is invalid").WithCause(err)
	}
	if len(config.Exchanges) == 0 {
		return nil, errors.ConfigError("at least one auth exchange descriptor is required")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.IDType == "" {
		config.IDType = "ISRC"
	}
	if config.Accept == "" {
		config.Accept = "application/json"
	}

	p := &HTTPProvider{
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = commonhttp.NewHTTPClient()
	}
	p.logger = logging.OrGlobal(p.logger).WithFields(logging.String("component", "provider"))
	return p, nil
}

// Authenticate tries each exchange descriptor in order. When all fail the
// error is invalid_credentials if any endpoint rejected the credentials,
// otherwise network_error.
func (p *HTTPProvider) Authenticate(ctx context.Context, creds models.Credentials) (Token, error) {
	var (
		rejected bool
		lastErr  error
	)

	for _, d := range p.config.Exchanges {
		tok, status, err := p.exchange(ctx, d, creds)
		if err == nil {
			p.logger.Debug("Authenticated with provider", logging.String("path", d.Path))
			return tok, nil
		}
		if ctx.Err() != nil {
			return Token{}, errors.AuthError(errors.CodeNetworkError, "authentication cancelled", ctx.Err())
		}

		lastErr = err
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			rejected = true
		}
		p.logger.Debug("Auth exchange failed",
			logging.String("path", d.Path),
			logging.Int("status", status),
			logging.Err(err),
		)
	}

	if rejected {
		return Token{}, errors.AuthError(errors.CodeInvalidCredentials, "provider rejected the credentials", lastErr)
	}
	return Token{}, errors.AuthError(errors.CodeNetworkError, "no auth endpoint succeeded", lastErr)
}

func (p *HTTPProvider) exchange(ctx context.Context, d ExchangeDescriptor, creds models.Credentials) (Token, int, error) {
	body, contentType, err := d.body(creds)
	if err != nil {
		return Token{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+d.Path, strings.NewReader(body))
	if err != nil {
		return Token{}, 0, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return Token{}, 0, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := commonhttp.ReadBody(resp.Body)
	if err != nil {
		return Token{}, resp.StatusCode, fmt.Errorf("failed to read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := ProviderMessage(raw)
		if msg == "" {
			msg = commonhttp.Snippet(raw, 200)
		}
		return Token{}, resp.StatusCode, fmt.Errorf("auth endpoint %s returned %d: %s", d.Path, resp.StatusCode, msg)
	}

	tok, err := d.parseToken(raw, p.now())
	return tok, resp.StatusCode, err
}

// Fetch GETs /musical_recordings/{id}. Server errors still come back as a
// Response; they only count against the circuit breaker.
func (p *HTTPProvider) Fetch(ctx context.Context, token Token, id models.Identifier, filters models.Filters) (*Response, error) {
	req, err := p.recordRequest(ctx, token, id, filters)
	if err != nil {
		return nil, err
	}

	var resp *Response
	call := func() error {
		var err error
		resp, err = p.do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return errServerStatus
		}
		return nil
	}

	if p.breaker == nil {
		err = call()
	} else {
		err = p.breaker.Execute(ctx, call)
	}
	if err == errServerStatus {
		return resp, nil
	}
	return resp, err
}

var errServerStatus = stderrors.New("provider returned a server error")

func (p *HTTPProvider) recordRequest(ctx context.Context, token Token, id models.Identifier, filters models.Filters) (*http.Request, error) {
	q := url.Values{}
	q.Set("ID_Type", p.config.IDType)
	if filters.DateRange != nil {
		q.Set("start_date", filters.DateRange.StartString())
		q.Set("end_date", filters.DateRange.EndString())
	}
	if filters.Location != "" {
		q.Set("location", filters.Location)
	}

	u := fmt.Sprintf("%s/musical_recordings/%s?%s", p.config.BaseURL, url.PathEscape(id.String()), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create record request: %w", err)
	}
	req.Header.Set("Accept", p.config.Accept)
	req.Header.Set("x-api-key", p.config.APIKey)
	token.Attach(req.Header)
	return req, nil
}

func (p *HTTPProvider) do(req *http.Request) (*Response, error) {
	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := commonhttp.ReadBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   p.now().Sub(start),
	}, nil
}

// ProviderMessage extracts error.message (or a top level message) from a
// provider error body.
func ProviderMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(payload.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	return payload.Message
}

var _ Provider = (*HTTPProvider)(nil)
