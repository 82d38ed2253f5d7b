package fetch

import (
	"net/http"
	"time"
)

// StatusClass groups provider outcomes by how they are handled.
type StatusClass string

const (
	ClassSuccess        StatusClass = "success"
	ClassNoData         StatusClass = "no_data"
	ClassUnauthorized   StatusClass = "unauthorized"
	ClassForbidden      StatusClass = "forbidden"
	ClassNotFound       StatusClass = "not_found"
	ClassRateLimited    StatusClass = "rate_limited"
	ClassServerError    StatusClass = "server_error"
	ClassTimeout        StatusClass = "timeout"
	ClassTransportError StatusClass = "transport_error"
	ClassClientError    StatusClass = "client_error"
	ClassCircuitOpen    StatusClass = "circuit_open"
	ClassAuthError      StatusClass = "auth_error"
	ClassCancelled      StatusClass = "cancelled"
)

// Diagnostics explains what happened while fetching one identifier. It
// reflects the last attempt plus totals over all attempts.
type Diagnostics struct {
	StatusCode      int           `json:"status_code,omitempty"`
	StatusClass     StatusClass   `json:"status_class"`
	Attempts        int           `json:"attempts"`
	Reauthenticated bool          `json:"reauthenticated,omitempty"`
	Elapsed         time.Duration `json:"-"`
	ElapsedMS       int64         `json:"elapsed_ms"`
	BodySnippet     string        `json:"body_snippet,omitempty"`
	ProviderMessage string        `json:"provider_message,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// RawResponse is a captured provider reply ready for parsing.
type RawResponse struct {
	StatusCode  int         `json:"status_code"`
	Body        []byte      `json:"-"`
	NoData      bool        `json:"no_data"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// classify maps a status code to its class. Bodies are checked separately
// for 2xx.
func classify(status int) StatusClass {
	switch {
	case status == http.StatusNoContent:
		return ClassNoData
	case status >= 200 && status < 300:
		return ClassSuccess
	case status == http.StatusUnauthorized:
		return ClassUnauthorized
	case status == http.StatusForbidden:
		return ClassForbidden
	case status == http.StatusNotFound:
		return ClassNotFound
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusRequestTimeout:
		return ClassTimeout
	case status >= 500:
		return ClassServerError
	default:
		return ClassClientError
	}
}

var emptyBodies = map[string]bool{"": true, "{}": true, "[]": true, "null": true, `""`: true}
