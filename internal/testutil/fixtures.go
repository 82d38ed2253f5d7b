package testutil

import (
	"encoding/json"
	"sort"
)

// Streams describes a streams metric family for StreamsBody.
type Streams struct {
	Total       int64
	Regions     map[string]int64
	AdSupported *int64
	Premium     *int64
	// Wrapped nests the metrics under consumption_data instead of the top level.
	Wrapped bool
}

func Int64(v int64) *int64 { return &v }

type named struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// StreamsBody renders s as a provider response document.
func StreamsBody(s Streams) string {
	children := []named{{Name: "total", Value: s.Total}}

	if len(s.Regions) > 0 {
		names := make([]string, 0, len(s.Regions))
		for n := range s.Regions {
			names = append(names, n)
		}
		sort.Strings(names)
		rows := make([]named, 0, len(names))
		for _, n := range names {
			rows = append(rows, named{Name: n, Value: s.Regions[n]})
		}
		children = append(children, named{Name: "dma", Value: rows})
	}

	if s.AdSupported != nil || s.Premium != nil {
		var rows []named
		if s.AdSupported != nil {
			rows = append(rows, named{Name: "ad_supported", Value: *s.AdSupported})
		}
		if s.Premium != nil {
			rows = append(rows, named{Name: "premium", Value: *s.Premium})
		}
		children = append(children, named{Name: "commercial_model", Value: rows})
	}

	metrics := []named{{Name: "Streams", Value: children}}

	var doc interface{} = map[string]interface{}{"metrics": metrics}
	if s.Wrapped {
		doc = map[string]interface{}{"consumption_data": map[string]interface{}{"metrics": metrics}}
	}

	b, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return string(b)
}
