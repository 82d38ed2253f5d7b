package models

import (
	"fmt"

	"stream-auditor/internal/common/errors"
)

// Credentials are supplied once at process start and never mutated.
type Credentials struct {
	APIKey   string
	Username string
	Password string
}

// Validate requires every field.
func (c Credentials) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "api key")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return errors.ConfigError("incomplete provider credentials").WithContext("missing", missing)
	}
	return nil
}

// String never prints secrets.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, APIKey: %s, Password: %s}", c.Username, redact(c.APIKey), redact(c.Password))
}

// GoString keeps %#v from printing the secret.
func (c Credentials) GoString() string { return c.String() }

func redact(s string) string {
	if s == "" {
		return "<empty>"
	}
	return "<redacted>"
}
