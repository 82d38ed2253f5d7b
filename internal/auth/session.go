// Package auth holds the provider token for a batch and refreshes it
// without duplicate exchanges.
package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"stream-auditor/internal/common/errors"
	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/models"
	"stream-auditor/internal/provider"
)

// DefaultSkew is how long before its expiry a token stops being attached.
const DefaultSkew = 30 * time.Second

// DefaultExchangeTimeout bounds one credential exchange. The exchange is
// detached from the caller that started it, so it needs its own limit.
const DefaultExchangeTimeout = 30 * time.Second

const flightKey = "token"

// Exchange results reported to the observer.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// ExchangeObserver is told about every credential exchange.
type ExchangeObserver func(result string, elapsed time.Duration)

// Session owns the current token. It is safe for concurrent use; at most one
// exchange is in flight at a time.
type Session struct {
	provider provider.Provider
	creds    models.Credentials
	skew     time.Duration
	timeout  time.Duration
	logger   logging.Logger
	observe  ExchangeObserver
	now      func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	token provider.Token
}

// Option configures a Session.
type Option func(*Session)

// WithSkew overrides DefaultSkew.
func WithSkew(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.skew = d
		}
	}
}

// WithExchangeTimeout overrides DefaultExchangeTimeout.
func WithExchangeTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the session logger; the global logger is used otherwise.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithObserver reports every exchange, successful or not, to o.
func WithObserver(o ExchangeObserver) Option {
	return func(s *Session) { s.observe = o }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session that exchanges creds with p on first use.
// One session is meant to be shared by every pipeline talking to p.
func NewSession(p provider.Provider, creds models.Credentials, opts ...Option) *Session {
	s := &Session{
		provider: p,
		creds:    creds,
		skew:     DefaultSkew,
		timeout:  DefaultExchangeTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrGlobal(s.logger).WithFields(logging.String("component", "auth"))
	return s
}

// EnsureValidToken returns the held token while it is valid, otherwise
// performs (or joins) a single exchange. Errors are authentication AppErrors
// coded invalid_credentials or network_error.
func (s *Session) EnsureValidToken(ctx context.Context) (provider.Token, error) {
	if tok, ok := s.current(); ok {
		return tok, nil
	}
	return s.refresh(ctx)
}

// InvalidateAndRetry is called after the provider rejected stale. The token
// is dropped only if it is still the held one, so a token already replaced
// by another pipeline is returned without a second exchange. A failed
// exchange is coded reauth_failed.
func (s *Session) InvalidateAndRetry(ctx context.Context, stale provider.Token) (provider.Token, error) {
	s.mu.Lock()
	if s.token.Value == stale.Value {
		s.token = provider.Token{}
	}
	s.mu.Unlock()

	tok, err := s.EnsureValidToken(ctx)
	if err != nil {
		return provider.Token{}, errors.AuthError(errors.CodeReauthFailed, "re-authentication failed", err)
	}
	return tok, nil
}

// Token returns the held token, which may be zero or expired.
func (s *Session) Token() provider.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) current() (provider.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token.Valid(s.now(), s.skewFor(s.token))
}

// skewFor drops the skew for tokens whose whole lifetime is not much longer
// than it, so they are still reused until they actually expire.
func (s *Session) skewFor(tok provider.Token) time.Duration {
	if tok.ExpiresAt != nil && tok.ExpiresAt.Sub(tok.IssuedAt) <= 2*s.skew {
		return 0
	}
	return s.skew
}

// refresh joins or starts the single exchange, which runs detached from the
// caller's cancellation and bounded by the session timeout. A caller whose
// ctx ends stops waiting and gets an error wrapping ctx.Err().
func (s *Session) refresh(ctx context.Context) (provider.Token, error) {
	if err := ctx.Err(); err != nil {
		return provider.Token{}, errors.AuthError(errors.CodeNetworkError, "token exchange not started", err)
	}
	ch := s.group.DoChan(flightKey, func() (interface{}, error) {
		// another flight may have finished between current() and DoChan
		if tok, ok := s.current(); ok {
			return tok, nil
		}
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.exchange(exCtx)
	})

	select {
	case <-ctx.Done():
		return provider.Token{}, errors.AuthError(errors.CodeNetworkError, "stopped waiting for token exchange", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return provider.Token{}, res.Err
		}
		if res.Shared {
			s.logger.Debug("Joined in-flight token exchange")
		}
		return res.Val.(provider.Token), nil
	}
}

func (s *Session) exchange(ctx context.Context) (provider.Token, error) {
	start := s.now()

	tok, err := s.provider.Authenticate(ctx, s.creds)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.report(ResultFailure, elapsed)
		if _, ok := errors.As(err); !ok {
			err = errors.AuthError(errors.CodeNetworkError, "credential exchange failed", err)
		}
		s.logger.Error("Credential exchange failed", err, logging.Duration("elapsed", elapsed))
		return provider.Token{}, err
	}
	if tok.IsZero() {
		s.report(ResultFailure, elapsed)
		return provider.Token{}, errors.AuthError(errors.CodeNetworkError, "provider issued an empty token", nil)
	}
	if !tok.Valid(s.now(), 0) {
		s.report(ResultFailure, elapsed)
		return provider.Token{}, errors.AuthError(errors.CodeNetworkError, "provider issued an expired token", nil)
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	s.report(ResultSuccess, elapsed)
	fields := []logging.Field{logging.Duration("elapsed", elapsed)}
	if tok.ExpiresAt != nil {
		fields = append(fields, logging.String("expires_at", tok.ExpiresAt.Format(time.RFC3339)))
	}
	s.logger.Info("Obtained provider token", fields...)
	return tok, nil
}

func (s *Session) report(result string, elapsed time.Duration) {
	if s.observe != nil {
		s.observe(result, elapsed)
	}
}
