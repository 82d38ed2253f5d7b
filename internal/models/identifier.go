// Package models holds the value types shared by the fetch pipeline and its callers.
package models

import (
	"regexp"
	"strings"

	"stream-auditor/internal/common/errors"
)

// Identifier is a normalised ISRC: CC-XXX-YY-NNNNN without separators.
type Identifier string

var isrcPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}[0-9]{2}[0-9]{5}$`)

// NormalizeIdentifier trims, upper-cases and strips hyphens and inner spaces.
func NormalizeIdentifier(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(raw)))
}

// IsValidISRC reports whether s is already in normalised ISRC form.
func IsValidISRC(s string) bool {
	return isrcPattern.MatchString(s)
}

// ParseIdentifier normalises raw and rejects anything that is not an ISRC.
func ParseIdentifier(raw string) (Identifier, error) {
	norm := NormalizeIdentifier(raw)
	if norm == "" {
		return "", errors.ValidationError("identifier is empty")
	}
	if !IsValidISRC(norm) {
		return "", errors.ValidationError("identifier is not a valid ISRC").
			WithContext("identifier", raw)
	}
	return Identifier(norm), nil
}

func (id Identifier) String() string { return string(id) }
