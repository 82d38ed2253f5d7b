package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"stream-auditor/internal/models"
)

// Encoding is the request body format of an exchange.
type Encoding string

const (
	EncodingForm Encoding = "form"
	EncodingJSON Encoding = "json"
)

// ExchangeDescriptor describes one candidate authentication endpoint.
// Descriptors are tried in order and the first success wins.
type ExchangeDescriptor struct {
	Path     string
	Encoding Encoding
	// TokenFields are searched in order for the token value.
	TokenFields []string
	// ExpiryField holds a lifetime in seconds; missing means unknown.
	ExpiryField string
	Scheme      Scheme
}

// DefaultExchanges builds form-encoded descriptors for paths, matching the
// provider's documented /auth contract.
func DefaultExchanges(paths []string) []ExchangeDescriptor {
	return Exchanges(paths, EncodingForm, SchemeRaw)
}

// Exchanges builds one descriptor per path, posting credentials as enc and
// attaching the issued token with scheme.
//
// Parameters:
//   - paths: auth endpoints in the order they are tried
//   - enc: request body format; empty means EncodingForm
//   - scheme: how the token is attached; empty means SchemeRaw
func Exchanges(paths []string, enc Encoding, scheme Scheme) []ExchangeDescriptor {
	if enc == "" {
		enc = EncodingForm
	}
	if scheme == "" {
		scheme = SchemeRaw
	}
	return lo.Map(paths, func(p string, _ int) ExchangeDescriptor {
		return ExchangeDescriptor{
			Path:        "/" + strings.TrimLeft(p, "/"),
			Encoding:    enc,
			TokenFields: []string{"access_token", "token"},
			ExpiryField: "expires_in",
			Scheme:      scheme,
		}
	})
}

func (d ExchangeDescriptor) body(creds models.Credentials) (string, string, error) {
	switch d.Encoding {
	case EncodingJSON:
		b, err := json.Marshal(map[string]string{
			"username": creds.Username,
			"password": creds.Password,
		})
		if err != nil {
			return "", "", err
		}
		return string(b), "application/json", nil
	default:
		form := url.Values{}
		form.Set("username", creds.Username)
		form.Set("password", creds.Password)
		return form.Encode(), "application/x-www-form-urlencoded", nil
	}
}

// parseToken reads the token out of a successful exchange response.
func (d ExchangeDescriptor) parseToken(body []byte, now time.Time) (Token, error) {
	var payload map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}

	value := ""
	for _, field := range d.TokenFields {
		if s, ok := payload[field].(string); ok && s != "" {
			value = s
			break
		}
	}
	if value == "" {
		return Token{}, fmt.Errorf("no token in response (looked for %s)", strings.Join(d.TokenFields, ", "))
	}

	tok := Token{Value: value, IssuedAt: now, Scheme: d.Scheme}
	if tok.Scheme == "" {
		tok.Scheme = SchemeRaw
	}
	if secs, ok := seconds(payload[d.ExpiryField]); ok && secs > 0 {
		exp := now.Add(time.Duration(secs * float64(time.Second)))
		tok.ExpiresAt = &exp
	}
	return tok, nil
}

func seconds(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
