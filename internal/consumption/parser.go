package consumption

import (
	"math"

	"stream-auditor/internal/common/errors"
)

// Metrics is the flattened view of one metric family. Counts are never
// negative. Regions is never nil.
type Metrics struct {
	Total       int64            `json:"total"`
	Regions     map[string]int64 `json:"regions"`
	AdSupported int64            `json:"ad_supported"`
	Premium     int64            `json:"premium"`
}

// CommercialTotal is AdSupported + Premium.
func (m Metrics) CommercialTotal() int64 {
	return m.AdSupported + m.Premium
}

// DefaultFamily is the metric family audited by default.
const DefaultFamily = "streams"

var (
	familyAliases = map[string][]string{
		"streams": {"streams", "stream", "streaming"},
	}

	regionGroups = []string{
		"dma", "dma_breakdown", "location_dma", "dma_location", "location_dma_location",
		"geographic_dma", "markets", "regions", "region", "location_breakdown",
	}
	regionParents = []string{"location", "geography", "geo"}

	commercialGroups = []string{"commercial_model", "commercial_models", "commercial"}
	adNames          = []string{"ad_supported", "free", "ad_supported_streams"}
	premiumNames     = []string{"premium", "paid", "premium_streams", "subscription"}
)

// Parser extracts Metrics for one metric family.
type Parser struct {
	Family string
}

// NewParser returns a parser for DefaultFamily.
func NewParser() *Parser {
	return &Parser{Family: DefaultFamily}
}

// Parse decodes body and extracts the family's metrics.
func (p *Parser) Parse(body []byte) (Metrics, error) {
	root, err := Decode(body)
	if err != nil {
		return Metrics{}, err
	}
	return p.Extract(root)
}

// Extract locates the family node anywhere in root and reads its total,
// region breakdown and commercial-model breakdown.
func (p *Parser) Extract(root Node) (Metrics, error) {
	family := p.Family
	if family == "" {
		family = DefaultFamily
	}
	names, ok := familyAliases[normalizeName(family)]
	if !ok {
		names = []string{family}
	}

	fam, ok := findGroup(root, names...)
	if !ok {
		fam, ok = Find(root, names...)
	}
	if !ok {
		return Metrics{}, errors.ParseError(errors.CodeUnknownShape, "metric family not found in response").
			WithContext("family", family)
	}

	totalNode, ok := child(fam, "total")
	if !ok {
		return Metrics{}, errors.MissingMetricError("total").WithContext("family", family)
	}

	m := Metrics{
		Total:   count(totalNode),
		Regions: map[string]int64{},
	}

	if group, ok := regionGroup(fam); ok {
		for _, c := range group.Children {
			if c.Name == "" {
				continue
			}
			m.Regions[c.Name] = saturatingAdd(m.Regions[c.Name], count(c))
		}
	}

	commercial := fam
	if group, ok := child(fam, commercialGroups...); ok {
		commercial = group
	}
	if n, ok := child(commercial, adNames...); ok {
		m.AdSupported = count(n)
	}
	if n, ok := child(commercial, premiumNames...); ok {
		m.Premium = count(n)
	}

	return m, nil
}

func regionGroup(fam Node) (Node, bool) {
	if g, ok := child(fam, regionGroups...); ok {
		return g, true
	}
	if parent, ok := child(fam, regionParents...); ok {
		return child(parent, regionGroups...)
	}
	return Node{}, false
}

func findGroup(root Node, names ...string) (Node, bool) {
	return search(root, names, func(n Node) bool { return len(n.Children) > 0 })
}

// count reads a leaf as a non-negative whole number. Missing is 0.
func count(n Node) int64 {
	if n.Value == nil {
		return 0
	}
	v := math.Round(*n.Value)
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(v)
	}
}

func saturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
