package batch

import (
	"time"

	"github.com/samber/lo"

	"stream-auditor/internal/consumption"
	"stream-auditor/internal/detection"
	"stream-auditor/internal/fetch"
)

// Status is the outcome of one identifier.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusNoData       Status = "no_data"
	StatusNotFound     Status = "not_found"
	StatusParseFailed  Status = "parse_failed"
	StatusFetchFailed  Status = "fetch_failed"
	StatusAuthFailed   Status = "auth_failed"
	StatusInvalid      Status = "invalid"
	StatusNotProcessed Status = "not_processed"
)

// Statuses lists every status in report order.
var Statuses = []Status{
	StatusSuccess, StatusNoData, StatusNotFound, StatusParseFailed,
	StatusFetchFailed, StatusAuthFailed, StatusInvalid, StatusNotProcessed,
}

// Result is the analysis of one identifier. Flags is empty unless Status is
// success; Metrics is set only when the body was parsed.
type Result struct {
	Identifier  string               `json:"identifier"`
	Status      Status               `json:"status"`
	Flags       []detection.Flag     `json:"flags"`
	Metrics     *consumption.Metrics `json:"metrics,omitempty"`
	Diagnostics *fetch.Diagnostics   `json:"diagnostics,omitempty"`
	Error       string               `json:"error,omitempty"`
	ErrorCode   string               `json:"error_code,omitempty"`
}

// Flagged reports whether any rule fired.
func (r Result) Flagged() bool { return len(r.Flags) > 0 }

// Summary aggregates a report's results.
type Summary struct {
	Total    int                    `json:"total"`
	Flagged  int                    `json:"flagged"`
	ByStatus map[Status]int         `json:"by_status"`
	ByFlag   map[detection.Kind]int `json:"by_flag"`
}

// Report is the output of one Process call. Results keep input order.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Cancelled is set when the batch context ended before every identifier
	// was processed.
	Cancelled bool     `json:"cancelled,omitempty"`
	Config    Config   `json:"config"`
	Results   []Result `json:"results"`
	Summary   Summary  `json:"summary"`
}

// Summarize counts results by status and flags by kind. Every status and
// kind is present, with zero counts where nothing matched.
func Summarize(results []Result) Summary {
	s := Summary{
		Total:    len(results),
		Flagged:  lo.CountBy(results, Result.Flagged),
		ByStatus: make(map[Status]int, len(Statuses)),
		ByFlag:   make(map[detection.Kind]int, len(detection.Kinds)),
	}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	for _, k := range detection.Kinds {
		s.ByFlag[k] = 0
	}
	for st, n := range lo.CountValuesBy(results, func(r Result) Status { return r.Status }) {
		s.ByStatus[st] = n
	}
	for _, f := range lo.FlatMap(results, func(r Result, _ int) []detection.Flag { return r.Flags }) {
		s.ByFlag[f.Kind]++
	}
	return s
}
