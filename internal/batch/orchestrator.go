// Package batch drives identifiers through fetch, parse and detection and
// aggregates the outcomes into a Report.
package batch

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"stream-auditor/internal/common/errors"
	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/common/validation"
	"stream-auditor/internal/consumption"
	"stream-auditor/internal/detection"
	"stream-auditor/internal/fetch"
	"stream-auditor/internal/models"
	"stream-auditor/internal/provider"
	"stream-auditor/internal/telemetry"
)

// DefaultWorkers bounds concurrent identifier pipelines.
const DefaultWorkers = 4

// Config is the per-batch configuration supplied by the caller.
type Config struct {
	RegionThreshold      float64           `json:"region_threshold" validate:"gte=0,lte=1"`
	FreeTierLowThreshold float64           `json:"free_tier_low_threshold" validate:"gte=0,lte=1"`
	DateRange            *models.DateRange `json:"date_range,omitempty"`
	Location             string            `json:"location,omitempty" validate:"omitempty,max=64"`
	// ComparisonRange is fetched for identifiers whose total is zero, to
	// tell a drop to zero from a recording that never had activity.
	ComparisonRange *models.DateRange `json:"comparison_range,omitempty"`
}

// Validate checks thresholds and date ranges.
func (c Config) Validate() error {
	if err := validation.Default().Struct(c); err != nil {
		return err
	}
	for _, r := range []*models.DateRange{c.DateRange, c.ComparisonRange} {
		if r != nil {
			if err := r.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ComparePrevious uses the window of equal length just before DateRange as
// the comparison window.
func (c *Config) ComparePrevious() error {
	if c.DateRange == nil {
		return errors.ValidationError("comparing with the previous window needs a date range")
	}
	if c.ComparisonRange != nil {
		return errors.ValidationError("an explicit comparison window and the previous window are exclusive")
	}
	prev := c.DateRange.Preceding()
	c.ComparisonRange = &prev
	return nil
}

func (c Config) thresholds() detection.Thresholds {
	return detection.Thresholds{Region: c.RegionThreshold, FreeTierLow: c.FreeTierLowThreshold}.WithDefaults()
}

func (c Config) filters() models.Filters {
	return models.Filters{DateRange: c.DateRange, Location: c.Location}
}

// TokenSource is the part of auth.Session the orchestrator needs.
type TokenSource interface {
	EnsureValidToken(ctx context.Context) (provider.Token, error)
}

// RecordFetcher is implemented by fetch.Fetcher.
type RecordFetcher interface {
	FetchRecord(ctx context.Context, id models.Identifier, filters models.Filters) (*fetch.RawResponse, error)
}

// Orchestrator owns references to one session and one fetcher (which holds
// the shared limiter). It is safe to call Process concurrently.
type Orchestrator struct {
	tokens  TokenSource
	fetcher RecordFetcher
	parser  *consumption.Parser
	engine  *detection.Engine
	workers int
	logger  logging.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the pool size; values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.workers = n
		}
	}
}

// WithLogger sets the batch logger; the global logger is used otherwise.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records per-result and per-batch telemetry on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator over a shared token source and
// fetcher. Both must be safe for concurrent use.
func NewOrchestrator(tokens TokenSource, fetcher RecordFetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tokens:  tokens,
		fetcher: fetcher,
		parser:  consumption.NewParser(),
		engine:  detection.NewEngine(),
		workers: DefaultWorkers,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrGlobal(o.logger).WithFields(logging.String("component", "batch"))
	return o
}

// accumulator collects results by input index.
type accumulator struct {
	mu      sync.Mutex
	results []Result
}

func (a *accumulator) set(i int, r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[i] = r
}

func (a *accumulator) snapshot() []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Result(nil), a.results...)
}

// Process analyses identifiers and returns a report in input order. Only an
// invalid config or a failure of the initial token exchange is returned as
// an error; everything else is recorded per identifier. When ctx ends early
// the report is still returned, with unfinished identifiers not_processed.
func (o *Orchestrator) Process(ctx context.Context, identifiers []string, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
		Config:    cfg,
	}
	ctx = logging.ContextWithRunID(ctx, report.RunID)
	logger := o.logger.WithContext(ctx)

	acc := &accumulator{results: lo.Map(identifiers, func(raw string, _ int) Result {
		return Result{Identifier: raw, Status: StatusNotProcessed, Flags: []detection.Flag{}}
	})}

	if len(identifiers) > 0 {
		if _, err := o.tokens.EnsureValidToken(ctx); err != nil {
			logger.Error("Initial authentication failed, aborting batch", err)
			return nil, err
		}
	}

	logger.Info("Batch started",
		logging.Int("identifiers", len(identifiers)),
		logging.Int("workers", o.workers),
	)

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, raw := range identifiers {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			acc.set(i, o.analyze(ctx, raw, cfg))
			return nil
		})
	}
	_ = g.Wait()

	report.Results = acc.snapshot()
	report.Summary = Summarize(report.Results)
	report.Cancelled = ctx.Err() != nil && report.Summary.ByStatus[StatusNotProcessed] > 0
	report.FinishedAt = o.now()

	for _, r := range report.Results {
		o.metrics.ObserveResult(string(r.Status), lo.Map(r.Flags, func(f detection.Flag, _ int) string { return string(f.Kind) }))
	}
	o.metrics.ObserveBatch(report.FinishedAt.Sub(report.StartedAt))

	logger.Info("Batch finished",
		logging.Int("total", report.Summary.Total),
		logging.Int("flagged", report.Summary.Flagged),
		logging.Int("not_processed", report.Summary.ByStatus[StatusNotProcessed]),
		logging.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// analyze runs one identifier pipeline. It never fails; every outcome is a
// Result.
func (o *Orchestrator) analyze(ctx context.Context, raw string, cfg Config) Result {
	res := Result{Identifier: raw, Flags: []detection.Flag{}}

	id, err := models.ParseIdentifier(raw)
	if err != nil {
		res.Status = StatusInvalid
		res.Error = err.Error()
		return res
	}
	res.Identifier = id.String()
	ctx = logging.ContextWithIdentifier(ctx, id.String())
	logger := o.logger.WithContext(ctx)

	resp, err := o.fetcher.FetchRecord(ctx, id, cfg.filters())
	if resp != nil {
		diag := resp.Diagnostics
		res.Diagnostics = &diag
	}
	if err != nil {
		res.Status = fetchStatus(ctx, err)
		if res.Status != StatusNotProcessed {
			res.Error = err.Error()
			res.ErrorCode = errors.CodeOf(err)
		}
		logger.Warn("Fetch failed", logging.String("status", string(res.Status)), logging.Err(err))
		return res
	}

	if resp.NoData {
		res.Status = StatusNoData
		return res
	}

	m, err := o.parser.Parse(resp.Body)
	if err != nil {
		res.Status = StatusParseFailed
		res.Error = err.Error()
		res.ErrorCode = errors.CodeOf(err)
		logger.Warn("Parse failed", logging.Err(err))
		return res
	}
	res.Metrics = &m

	var history *detection.History
	if m.Total == 0 && cfg.ComparisonRange != nil {
		history = o.history(ctx, id, cfg)
	}

	res.Flags = o.engine.EvaluateWithHistory(m, cfg.thresholds(), history)
	res.Status = StatusSuccess
	if len(res.Flags) > 0 {
		logger.Info("Identifier flagged",
			logging.Strings("kinds", lo.Map(res.Flags, func(f detection.Flag, _ int) string { return string(f.Kind) })),
		)
	}
	return res
}

// history fetches the comparison window. Any failure leaves the history
// unknown rather than failing the identifier.
func (o *Orchestrator) history(ctx context.Context, id models.Identifier, cfg Config) *detection.History {
	resp, err := o.fetcher.FetchRecord(ctx, id, cfg.filters().WithRange(cfg.ComparisonRange))
	if err != nil {
		o.logger.WithContext(ctx).Debug("Comparison fetch failed", logging.Err(err))
		return nil
	}
	if resp.NoData {
		return &detection.History{Known: true}
	}
	m, err := o.parser.Parse(resp.Body)
	if err != nil {
		return nil
	}
	return &detection.History{Known: true, Total: m.Total}
}

func fetchStatus(ctx context.Context, err error) Status {
	if ctx.Err() != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		return StatusNotProcessed
	}
	switch errors.CodeOf(err) {
	case errors.CodeNotFound:
		return StatusNotFound
	case errors.CodeAuthFailed:
		return StatusAuthFailed
	default:
		return StatusFetchFailed
	}
}
