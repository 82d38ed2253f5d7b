// Package detection applies threshold rules to parsed consumption metrics.
package detection

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"stream-auditor/internal/consumption"
)

// Kind enumerates flag types.
type Kind string

const (
	KindRegionalConcentration Kind = "regional_concentration"
	KindAllFree               Kind = "free_tier_all_free"
	KindLowFree               Kind = "free_tier_low"
	KindZeroActivity          Kind = "zero_activity"
)

// Kinds lists every flag kind in evaluation order.
var Kinds = []Kind{KindRegionalConcentration, KindAllFree, KindLowFree, KindZeroActivity}

// Severity ranks a flag for reporting.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Flag is one rule firing.
type Flag struct {
	Kind     Kind                   `json:"kind"`
	Severity Severity               `json:"severity"`
	Reason   string                 `json:"reason"`
	Evidence map[string]interface{} `json:"evidence"`
}

// Thresholds configure the ratio rules. Zero values mean the defaults.
type Thresholds struct {
	Region      float64 `json:"region_threshold" validate:"gte=0,lte=1"`
	FreeTierLow float64 `json:"free_tier_low_threshold" validate:"gte=0,lte=1"`
}

const (
	DefaultRegionThreshold      = 0.80
	DefaultFreeTierLowThreshold = 0.03
)

// WithDefaults fills zero thresholds.
func (t Thresholds) WithDefaults() Thresholds {
	if t.Region == 0 {
		t.Region = DefaultRegionThreshold
	}
	if t.FreeTierLow == 0 {
		t.FreeTierLow = DefaultFreeTierLowThreshold
	}
	return t
}

// History is evidence from a comparison window, used by the zero-activity
// rule. Known is false when no comparison data could be obtained.
type History struct {
	Known bool
	Total int64
}

// Rule inspects metrics and returns at most one flag.
type Rule func(m consumption.Metrics, th Thresholds, h *History) *Flag

// Engine evaluates every rule, in order, against one set of metrics.
type Engine struct {
	rules []Rule
}

// NewEngine returns an engine with the built-in rules.
func NewEngine() *Engine {
	return &Engine{rules: []Rule{regionalConcentration, allFree, lowFree, zeroActivity}}
}

// Evaluate runs all rules. The result is never nil.
func (e *Engine) Evaluate(m consumption.Metrics, th Thresholds) []Flag {
	return e.EvaluateWithHistory(m, th, nil)
}

// EvaluateWithHistory is Evaluate with comparison-window evidence for the
// zero-activity rule. h may be nil.
func (e *Engine) EvaluateWithHistory(m consumption.Metrics, th Thresholds, h *History) []Flag {
	th = th.WithDefaults()
	flags := []Flag{}
	for _, rule := range e.rules {
		if f := rule(m, th, h); f != nil {
			flags = append(flags, *f)
		}
	}
	return flags
}

func ratio(num, den int64) decimal.Decimal {
	return decimal.NewFromInt(num).Div(decimal.NewFromInt(den))
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}

func share(d decimal.Decimal) float64 {
	f, _ := d.Round(4).Float64()
	return f
}

// regionalConcentration fires when one region's share of the total is
// strictly above the threshold.
func regionalConcentration(m consumption.Metrics, th Thresholds, _ *History) *Flag {
	if m.Total <= 0 || len(m.Regions) == 0 {
		return nil
	}

	names := make([]string, 0, len(m.Regions))
	for name := range m.Regions {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		topName  string
		topCount int64 = -1
	)
	for _, name := range names {
		if m.Regions[name] > topCount {
			topName, topCount = name, m.Regions[name]
		}
	}

	s := ratio(topCount, m.Total)
	limit := decimal.NewFromFloat(th.Region)
	if !s.GreaterThan(limit) {
		return nil
	}

	return &Flag{
		Kind:     KindRegionalConcentration,
		Severity: SeverityHigh,
		Reason:   fmt.Sprintf("%s of activity comes from %s (threshold %s)", percent(s), topName, percent(limit)),
		Evidence: map[string]interface{}{
			"region":    topName,
			"share":     share(s),
			"streams":   topCount,
			"total":     m.Total,
			"threshold": th.Region,
		},
	}
}

func freeShare(m consumption.Metrics) (decimal.Decimal, bool) {
	den := m.CommercialTotal()
	if den <= 0 {
		return decimal.Zero, false
	}
	return ratio(m.AdSupported, den), true
}

func allFree(m consumption.Metrics, _ Thresholds, _ *History) *Flag {
	s, ok := freeShare(m)
	if !ok || !s.Equal(decimal.NewFromInt(1)) {
		return nil
	}
	return &Flag{
		Kind:     KindAllFree,
		Severity: SeverityHigh,
		Reason:   "all commercial activity is ad-supported, no premium listeners",
		Evidence: map[string]interface{}{
			"freeShare":   1.0,
			"adSupported": m.AdSupported,
			"premium":     m.Premium,
		},
	}
}

func lowFree(m consumption.Metrics, th Thresholds, _ *History) *Flag {
	s, ok := freeShare(m)
	limit := decimal.NewFromFloat(th.FreeTierLow)
	if !ok || !s.LessThan(limit) {
		return nil
	}
	return &Flag{
		Kind:     KindLowFree,
		Severity: SeverityMedium,
		Reason:   fmt.Sprintf("only %s of commercial activity is ad-supported (threshold %s)", percent(s), percent(limit)),
		Evidence: map[string]interface{}{
			"freeShare":   share(s),
			"adSupported": m.AdSupported,
			"premium":     m.Premium,
			"threshold":   th.FreeTierLow,
		},
	}
}

// zeroActivity fires on a parsed total of zero. With comparison evidence
// it distinguishes a drop to zero from a recording that never had any.
func zeroActivity(m consumption.Metrics, _ Thresholds, h *History) *Flag {
	if m.Total != 0 {
		return nil
	}

	f := &Flag{
		Kind:     KindZeroActivity,
		Severity: SeverityMedium,
		Reason:   "no activity in the requested window (possible removal)",
		Evidence: map[string]interface{}{"total": int64(0)},
	}
	if h != nil && h.Known {
		had := h.Total > 0
		f.Evidence["hadPreviousActivity"] = had
		f.Evidence["previousTotal"] = h.Total
		if had {
			f.Severity = SeverityHigh
			f.Reason = "activity dropped to zero from the previous window (possible removal)"
		}
	}
	return f
}
