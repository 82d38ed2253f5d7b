package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/samber/lo"

	"stream-auditor/internal/batch"
	"stream-auditor/internal/common/errors"
	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/models"
)

// AnalyzeRequest is the body of POST /api/analyze. Zero thresholds take the
// server defaults.
type AnalyzeRequest struct {
	Identifiers          []string `json:"identifiers" validate:"required,min=1,max=1000,dive,required"`
	RegionThreshold      float64  `json:"region_threshold" validate:"gte=0,lte=1"`
	FreeTierLowThreshold float64  `json:"free_tier_low_threshold" validate:"gte=0,lte=1"`
	StartDate            string   `json:"start_date" validate:"omitempty,yyyymmdd"`
	EndDate              string   `json:"end_date" validate:"omitempty,yyyymmdd"`
	Location             string   `json:"location" validate:"omitempty,max=64"`
	CompareStartDate     string   `json:"compare_start_date" validate:"omitempty,yyyymmdd"`
	CompareEndDate       string   `json:"compare_end_date" validate:"omitempty,yyyymmdd"`
	// ComparePrevious compares against the window just before the date range.
	ComparePrevious bool `json:"compare_previous"`
}

// Config converts the request into a batch config, filling unset
// thresholds from defaults.
func (r AnalyzeRequest) Config(defaults batch.Config) (batch.Config, error) {
	cfg := batch.Config{
		RegionThreshold:      lo.Ternary(r.RegionThreshold > 0, r.RegionThreshold, defaults.RegionThreshold),
		FreeTierLowThreshold: lo.Ternary(r.FreeTierLowThreshold > 0, r.FreeTierLowThreshold, defaults.FreeTierLowThreshold),
		Location:             r.Location,
	}

	var err error
	if cfg.DateRange, err = models.ParseDateRange(r.StartDate, r.EndDate); err != nil {
		return batch.Config{}, err
	}
	if cfg.ComparisonRange, err = models.ParseDateRange(r.CompareStartDate, r.CompareEndDate); err != nil {
		return batch.Config{}, err
	}
	if r.ComparePrevious {
		if err := cfg.ComparePrevious(); err != nil {
			return batch.Config{}, err
		}
	}
	return cfg, nil
}

// Analyze runs a batch synchronously and returns the report.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.ValidationError("invalid JSON body").WithCause(err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg, err := req.Config(h.defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := h.analyzer.Process(r.Context(), req.Identifiers, cfg)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Batch failed", err, logging.Int("identifiers", len(req.Identifiers)))
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
