package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeValidation ErrorType = "validation"
	ErrTypeConfig     ErrorType = "config"
	// ErrTypeAuth covers credential exchange with the provider
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeFetch is terminal for one identifier only
	ErrTypeFetch ErrorType = "fetch"
	// ErrTypeParse is terminal for one identifier only
	ErrTypeParse    ErrorType = "parse"
	ErrTypeInternal ErrorType = "internal"
)

// Codes refine an ErrorType.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeNetworkError       = "network_error"
	CodeReauthFailed       = "reauth_failed"

	CodeNotFound    = "not_found"
	CodeRateLimited = "rate_limited"
	CodeFatal       = "fatal"
	CodeAuthFailed  = "auth_failed"

	CodeUnknownShape  = "unknown_shape"
	CodeMissingMetric = "missing_metric"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// ValidationError creates a validation error
func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

// ConfigError creates a configuration error
func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

// InternalError creates an internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// AuthError creates an authentication error with one of the auth codes.
func AuthError(code, msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeAuth, Code: code, Message: msg, Cause: cause}
}

// FetchError creates a per-identifier fetch error.
func FetchError(code, msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeFetch, Code: code, Message: msg, Cause: cause}
}

// ParseError creates a per-identifier parse error.
func ParseError(code, msg string) *AppError {
	return &AppError{Type: ErrTypeParse, Code: code, Message: msg}
}

// MissingMetricError reports a required metric absent from the tree.
func MissingMetricError(name string) *AppError {
	return ParseError(CodeMissingMetric, fmt.Sprintf("metric %q not present", name)).
		WithContext("metric", name)
}

// As returns the outermost AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	appErr, ok := As(err)
	if !ok {
		return ErrTypeInternal
	}
	return appErr.Type
}

// CodeOf returns the code of the outermost AppError, or "".
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether any AppError in err's chain has the type and code.
func HasCode(err error, errType ErrorType, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Type == errType && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
