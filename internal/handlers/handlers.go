// Package handlers is the HTTP adapter in front of the batch orchestrator.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"stream-auditor/internal/batch"
	"stream-auditor/internal/common/errors"
	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/common/validation"
)

// Analyzer runs a batch. *batch.Orchestrator implements it.
type Analyzer interface {
	Process(ctx context.Context, identifiers []string, cfg batch.Config) (*batch.Report, error)
}

// HealthChecker reports the health of an optional dependency such as Redis.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers serves the HTTP API on top of an Analyzer.
type Handlers struct {
	analyzer  Analyzer
	defaults  batch.Config
	checks    map[string]HealthChecker
	validator *validation.Validator
	logger    logging.Logger
	version   string
}

// Option configures Handlers.
type Option func(*Handlers)

// WithDefaults supplies thresholds used when a request leaves them unset.
func WithDefaults(cfg batch.Config) Option {
	return func(h *Handlers) { h.defaults = cfg }
}

// WithHealthCheck adds a named dependency to /health.
func WithHealthCheck(name string, c HealthChecker) Option {
	return func(h *Handlers) { h.checks[name] = c }
}

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(h *Handlers) { h.version = v }
}

// New creates the handlers. analyzer runs the batches behind POST /api/analyze.
func New(analyzer Analyzer, opts ...Option) *Handlers {
	h := &Handlers{
		analyzer:  analyzer,
		checks:    make(map[string]HealthChecker),
		validator: validation.Default(),
		version:   "dev",
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrGlobal(h.logger).WithFields(logging.String("component", "handlers"))
	return h
}

// HealthCheck reports process health and the state of registered checks.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		if err := c.Health(ctx); err != nil {
			deps[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "healthy"
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	}
	if status != http.StatusOK {
		health["status"] = "degraded"
	}
	if len(deps) > 0 {
		health["dependencies"] = deps
	}
	writeJSON(w, status, health)
}

type errorResponse struct {
	Error  string                  `json:"error"`
	Code   string                  `json:"code,omitempty"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error(), Code: errors.CodeOf(err)}
	if appErr, ok := errors.As(err); ok {
		resp.Error = appErr.Message
		resp.Fields = validation.Fields(err)
	}
	writeJSON(w, status, resp)
}

// statusFor maps a batch-level error to an HTTP status.
func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeAuth:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
