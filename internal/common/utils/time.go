// Package utils holds retry and duration helpers shared by the fetch
// pipeline and configuration.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration extends time.ParseDuration with a whole-day unit, so that
// settings such as a watch interval can be written as "7d".
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var days int
	if n, err := fmt.Sscanf(s, "%dd", &days); err == nil && n == 1 && strings.HasSuffix(s, "d") {
		return time.Duration(days) * 24 * time.Hour, nil
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}

// FormatDuration picks the largest sensible unit:
//
//	FormatDuration(30 * time.Second) // "30s"
//	FormatDuration(90 * time.Minute) // "1.5h"
//	FormatDuration(36 * time.Hour)   // "1.5d"
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.0fm", d.Minutes())
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}
