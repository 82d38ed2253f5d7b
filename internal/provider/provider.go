// Package provider is the boundary to the external metrics provider: a
// credential exchange and a per-identifier record fetch.
package provider

import (
	"context"
	"net/http"
	"time"

	"stream-auditor/internal/models"
)

// Provider is implemented by HTTPProvider and by test fakes.
type Provider interface {
	// Authenticate exchanges credentials for a token. Errors are
	// authentication AppErrors coded invalid_credentials or network_error.
	Authenticate(ctx context.Context, creds models.Credentials) (Token, error)

	// Fetch issues one request. Any HTTP status comes back as a Response;
	// the error is reserved for failures with no status at all.
	Fetch(ctx context.Context, token Token, id models.Identifier, filters models.Filters) (*Response, error)
}

// Response is one provider reply, body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}
