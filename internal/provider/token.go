package provider

import (
	"net/http"
	"time"
)

// Scheme controls how a token is attached to requests.
type Scheme string

const (
	// SchemeRaw sends "Authorization: <token>", as the metrics provider expects.
	SchemeRaw    Scheme = "raw"
	// SchemeBearer sends "Authorization: Bearer <token>".
	SchemeBearer Scheme = "bearer"
)

// Token is an issued access token. ExpiresAt is nil when the provider did
// not say; such a token stays valid until the provider rejects it.
type Token struct {
	Value     string     `json:"-"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scheme    Scheme     `json:"scheme"`
}

// IsZero reports whether no token has been issued.
func (t Token) IsZero() bool { return t.Value == "" }

// Valid reports whether t may still be attached at now, treating it as
// expired skew before its expiry.
func (t Token) Valid(now time.Time, skew time.Duration) bool {
	if t.IsZero() {
		return false
	}
	if t.ExpiresAt == nil {
		return true
	}
	return now.Before(t.ExpiresAt.Add(-skew))
}

// Attach sets the Authorization header.
func (t Token) Attach(h http.Header) {
	switch t.Scheme {
	case SchemeBearer:
		h.Set("Authorization", "Bearer "+t.Value)
	default:
		h.Set("Authorization", t.Value)
	}
}
