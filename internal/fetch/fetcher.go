// Package fetch issues one record request per identifier, classifies the
// outcome and applies the retry policy.
package fetch

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"stream-auditor/internal/circuitbreaker"
	"stream-auditor/internal/common/errors"
	commonhttp "stream-auditor/internal/common/http"
	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/common/ratelimit"
	"stream-auditor/internal/common/utils"
	"stream-auditor/internal/models"
	"stream-auditor/internal/provider"
)

// SnippetSize bounds Diagnostics.BodySnippet.
const SnippetSize = 512

// TokenSource is the part of auth.Session the fetcher needs.
type TokenSource interface {
	EnsureValidToken(ctx context.Context) (provider.Token, error)
	InvalidateAndRetry(ctx context.Context, stale provider.Token) (provider.Token, error)
}

// AttemptObserver is told about every request issued.
type AttemptObserver func(class StatusClass, elapsed time.Duration)

// Config controls timeouts and the retry policy.
type Config struct {
	// Timeout bounds a single request.
	Timeout time.Duration
	Retry   utils.RetryConfig
}

// DefaultConfig returns four attempts with 500ms to 10s backoff and a 30s timeout.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Retry:   utils.DefaultRetryConfig(),
	}
}

// Fetcher fetches records through a shared token source and limiter.
type Fetcher struct {
	provider provider.Provider
	tokens   TokenSource
	limiter  ratelimit.Limiter
	config   Config
	logger   logging.Logger
	observe  AttemptObserver
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger for retries and re-authentication.
func WithLogger(l logging.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithObserver reports every attempt, e.g. to telemetry.
func WithObserver(o AttemptObserver) Option {
	return func(f *Fetcher) { f.observe = o }
}

// NewFetcher builds a fetcher that takes tokens from tokens and paces every
// outbound attempt through limiter.
//
// Parameters:
//   - p: the metrics provider
//   - tokens: supplies and replaces access tokens
//   - limiter: acquired once per attempt, retries included
//   - config: attempts, backoff and per attempt timeout
func NewFetcher(p provider.Provider, tokens TokenSource, limiter ratelimit.Limiter, config Config, opts ...Option) *Fetcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	f := &Fetcher{
		provider: p,
		tokens:   tokens,
		limiter:  limiter,
		config:   config,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.OrGlobal(f.logger).WithFields(logging.String("component", "fetch"))
	return f
}

// retryable marks an attempt error that the backoff loop may repeat.
type retryable struct {
	err        error
	retryAfter time.Duration
}

func (r *retryable) Error() string { return r.err.Error() }

func (r *retryable) Unwrap() error { return r.err }

// request tracks one FetchRecord call across attempts.
type request struct {
	id       models.Identifier
	filters  models.Filters
	diag     Diagnostics
	token    provider.Token
	reauthed bool
	resp     *provider.Response
}

// FetchRecord fetches id. The returned RawResponse is never nil: on error it
// carries only Diagnostics. Errors are fetch AppErrors (not_found,
// rate_limited, fatal, auth_failed) or, when ctx ends, an error wrapping
// ctx.Err().
func (f *Fetcher) FetchRecord(ctx context.Context, id models.Identifier, filters models.Filters) (*RawResponse, error) {
	start := time.Now()
	logger := f.logger.WithContext(logging.ContextWithIdentifier(ctx, id.String()))
	req := &request{id: id, filters: filters}

	retry := f.config.Retry
	retry.RetryableErrors = func(err error) bool {
		var r *retryable
		return stderrors.As(err, &r)
	}
	retry.MinDelay = func(err error) time.Duration {
		var r *retryable
		if stderrors.As(err, &r) && r.retryAfter > 0 {
			if retry.MaxDelay > 0 && r.retryAfter > retry.MaxDelay {
				return retry.MaxDelay
			}
			return r.retryAfter
		}
		return 0
	}

	err := utils.RetryWithBackoff(ctx, retry, func(attempt int) error {
		err := f.attempt(ctx, req)
		if err != nil {
			logger.Debug("Fetch attempt failed",
				logging.Int("attempt", attempt),
				logging.Int("status", req.diag.StatusCode),
				logging.String("class", string(req.diag.StatusClass)),
				logging.Err(err),
			)
		}
		return err
	})

	req.diag.Elapsed = time.Since(start)
	req.diag.ElapsedMS = req.diag.Elapsed.Milliseconds()
	out := &RawResponse{Diagnostics: req.diag}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("fetch %s cancelled: %w", id, ctxErr)
			out.Diagnostics.StatusClass = ClassCancelled
		} else {
			err = finalError(err)
		}
		out.Diagnostics.Error = err.Error()
		return out, err
	}

	out.StatusCode = req.resp.StatusCode
	out.Body = req.resp.Body
	out.NoData = req.diag.StatusClass == ClassNoData
	logger.Debug("Fetched record",
		logging.Int("status", out.StatusCode),
		logging.Bool("no_data", out.NoData),
		logging.Int("attempts", req.diag.Attempts),
		logging.Duration("elapsed", req.diag.Elapsed),
	)
	return out, nil
}

// finalError strips the retry wrappers, leaving the fetch AppError.
func finalError(err error) error {
	if appErr, ok := errors.As(err); ok {
		return appErr
	}
	return errors.FetchError(errors.CodeFatal, "fetch failed", err)
}

// attempt runs one retry-budget attempt, which includes at most one replay
// after re-authentication.
func (f *Fetcher) attempt(ctx context.Context, req *request) error {
	if err := f.send(ctx, req); err != nil {
		return err
	}
	if req.diag.StatusClass != ClassUnauthorized {
		return f.evaluate(req)
	}

	if req.reauthed {
		return errors.FetchError(errors.CodeAuthFailed, "provider rejected a refreshed token",
			errors.AuthError(errors.CodeReauthFailed, "still unauthorized after re-authentication", nil))
	}
	req.reauthed = true
	req.diag.Reauthenticated = true

	tok, err := f.tokens.InvalidateAndRetry(ctx, req.token)
	if err != nil {
		return errors.FetchError(errors.CodeAuthFailed, "re-authentication failed", err)
	}
	req.token = tok

	if err := f.send(ctx, req); err != nil {
		return err
	}
	if req.diag.StatusClass == ClassUnauthorized {
		return errors.FetchError(errors.CodeAuthFailed, "provider rejected a refreshed token",
			errors.AuthError(errors.CodeReauthFailed, "still unauthorized after re-authentication", nil))
	}
	return f.evaluate(req)
}

// send acquires a slot and a token, then issues one request. A nil error
// means a status was received and recorded in req.
func (f *Fetcher) send(ctx context.Context, req *request) error {
	if err := f.limiter.Acquire(ctx); err != nil {
		return err
	}

	tok, err := f.tokens.EnsureValidToken(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req.diag.StatusClass = ClassAuthError
		return errors.FetchError(errors.CodeAuthFailed, "no valid token", err)
	}
	req.token = tok

	req.diag.Attempts++
	callCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := f.provider.Fetch(callCtx, req.token, req.id, req.filters)
	elapsed := time.Since(start)

	if err != nil {
		req.resp = nil
		req.diag.StatusCode = 0
		req.diag.BodySnippet = ""
		req.diag.ProviderMessage = ""
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case stderrors.Is(err, circuitbreaker.ErrOpen):
			req.diag.StatusClass = ClassCircuitOpen
			f.report(ClassCircuitOpen, elapsed)
			return errors.FetchError(errors.CodeFatal, "provider circuit is open", err)
		case isTimeout(err):
			req.diag.StatusClass = ClassTimeout
			f.report(ClassTimeout, elapsed)
			return &retryable{err: errors.FetchError(errors.CodeFatal,
				fmt.Sprintf("request timed out after %s", f.config.Timeout), err)}
		default:
			req.diag.StatusClass = ClassTransportError
			f.report(ClassTransportError, elapsed)
			return &retryable{err: errors.FetchError(errors.CodeFatal, "transport error", err)}
		}
	}

	req.resp = resp
	req.diag.StatusCode = resp.StatusCode
	req.diag.StatusClass = classify(resp.StatusCode)
	if req.diag.StatusClass == ClassSuccess && emptyBodies[string(bytes.TrimSpace(resp.Body))] {
		req.diag.StatusClass = ClassNoData
	}
	req.diag.BodySnippet = commonhttp.Snippet(resp.Body, SnippetSize)
	req.diag.ProviderMessage = ""
	if req.diag.StatusClass != ClassSuccess && req.diag.StatusClass != ClassNoData {
		req.diag.ProviderMessage = provider.ProviderMessage(resp.Body)
	}
	f.report(req.diag.StatusClass, elapsed)
	return nil
}

// evaluate turns a recorded non-401 status into the attempt result.
func (f *Fetcher) evaluate(req *request) error {
	status := req.diag.StatusCode
	switch req.diag.StatusClass {
	case ClassSuccess, ClassNoData:
		return nil
	case ClassForbidden:
		return errors.FetchError(errors.CodeAuthFailed, "provider denied access", nil).
			WithContext("status", status)
	case ClassNotFound:
		return errors.FetchError(errors.CodeNotFound, "identifier not found", nil)
	case ClassRateLimited:
		return &retryable{
			err:        errors.FetchError(errors.CodeRateLimited, "provider rate limit exceeded", nil).WithContext("status", status),
			retryAfter: retryAfter(req.resp.Header, time.Now()),
		}
	case ClassServerError, ClassTimeout:
		return &retryable{err: errors.FetchError(errors.CodeFatal,
			fmt.Sprintf("provider returned %d", status), nil).WithContext("status", status)}
	default:
		return errors.FetchError(errors.CodeFatal,
			fmt.Sprintf("provider returned %d", status), nil).WithContext("status", status)
	}
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return stderrors.As(err, &t) && t.Timeout()
}

func (f *Fetcher) report(class StatusClass, elapsed time.Duration) {
	if f.observe != nil {
		f.observe(class, elapsed)
	}
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
