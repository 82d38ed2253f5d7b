package models

import (
	"time"

	"stream-auditor/internal/common/errors"
)

// DateLayout is the wire format for dates sent to the provider.
const DateLayout = "2006-01-02"

// DateRange is an inclusive window of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseDateRange parses two YYYY-MM-DD dates. Both empty means no range.
func ParseDateRange(start, end string) (*DateRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, errors.ValidationError("date range needs both start and end")
	}

	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return nil, errors.ValidationError("invalid start date").WithContext("start", start).WithCause(err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return nil, errors.ValidationError("invalid end date").WithContext("end", end).WithCause(err)
	}

	r := &DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate rejects a range whose end precedes its start.
func (r DateRange) Validate() error {
	if r.End.Before(r.Start) {
		return errors.ValidationError("date range ends before it starts").
			WithContext("start", r.Start.Format(DateLayout)).
			WithContext("end", r.End.Format(DateLayout))
	}
	return nil
}

// StartString formats Start as YYYY-MM-DD.
func (r DateRange) StartString() string { return r.Start.Format(DateLayout) }

// EndString formats End as YYYY-MM-DD.
func (r DateRange) EndString() string { return r.End.Format(DateLayout) }

// Days is the number of calendar days covered, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Preceding returns the window of equal length that ends the day before r.
func (r DateRange) Preceding() DateRange {
	days := r.Days()
	end := r.Start.AddDate(0, 0, -1)
	return DateRange{Start: end.AddDate(0, 0, -(days - 1)), End: end}
}

// Filters narrows a fetch. The zero value requests the provider default.
type Filters struct {
	DateRange *DateRange `json:"date_range,omitempty"`
	Location  string     `json:"location,omitempty"`
}

// WithRange returns a copy of f using r as the date range.
func (f Filters) WithRange(r *DateRange) Filters {
	f.DateRange = r
	return f
}
