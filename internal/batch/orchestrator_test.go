package batch

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-auditor/internal/auth"
	"stream-auditor/internal/common/errors"
	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/common/ratelimit"
	"stream-auditor/internal/common/utils"
	"stream-auditor/internal/detection"
	"stream-auditor/internal/fetch"
	"stream-auditor/internal/models"
	"stream-auditor/internal/testutil"
)

const (
	concentrated = "USRC17607839"
	missing      = "GBAYE0000351"
	empty        = "USUM71703861"
	silent       = "QZES82014321"
	garbled      = "DEA621500123"
	lowFree      = "USSM19922509"
)

type harness struct {
	provider *testutil.MockProvider
	orch     *Orchestrator
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()
	return newPacedHarness(t, workers, time.Millisecond)
}

func newPacedHarness(t *testing.T, workers int, interval time.Duration) *harness {
	t.Helper()
	p := testutil.NewMockProvider()
	nop := logging.NewNopLogger()
	session := auth.NewSession(p, models.Credentials{APIKey: "k", Username: "u", Password: "p"}, auth.WithLogger(nop))

	limiter, err := ratelimit.NewLocalLimiter(ratelimit.Config{Interval: interval}, nil)
	require.NoError(t, err)

	fetcher := fetch.NewFetcher(p, session, limiter, fetch.Config{
		Timeout: time.Second,
		Retry:   utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2},
	}, fetch.WithLogger(nop))

	return &harness{
		provider: p,
		orch:     NewOrchestrator(session, fetcher, WithWorkers(workers), WithLogger(nop)),
	}
}

func TestProcess_MixedBatch(t *testing.T) {
	h := newHarness(t, 3)
	h.provider.
		Script(concentrated, testutil.Reply{Status: http.StatusOK, Body: testutil.StreamsBody(testutil.Streams{
			Total:   1_000_000,
			Regions: map[string]int64{"NY": 850_000, "LA": 150_000},
		})}).
		Script(missing, testutil.Reply{Status: http.StatusNotFound}).
		Script(empty, testutil.Reply{Status: http.StatusNoContent}).
		Script(silent, testutil.Reply{Status: http.StatusOK, Body: testutil.StreamsBody(testutil.Streams{Total: 0, Wrapped: true})}).
		Script(garbled, testutil.Reply{Status: http.StatusOK, Body: `{"unexpected": true}`}).
		Script(lowFree, testutil.Reply{Status: http.StatusOK, Body: testutil.StreamsBody(testutil.Streams{
			Total:       500_000,
			AdSupported: testutil.Int64(0),
			Premium:     testutil.Int64(500_000),
		})})

	input := []string{concentrated, missing, "not-an-isrc", empty, silent, garbled, lowFree}
	report, err := h.orch.Process(context.Background(), input, Config{})
	require.NoError(t, err)
	require.Len(t, report.Results, len(input))
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Cancelled)

	statuses := make([]Status, len(report.Results))
	for i, r := range report.Results {
		statuses[i] = r.Status
	}
	assert.Equal(t, []Status{
		StatusSuccess, StatusNotFound, StatusInvalid, StatusNoData, StatusSuccess, StatusParseFailed, StatusSuccess,
	}, statuses)

	conc := report.Results[0]
	require.Len(t, conc.Flags, 1)
	assert.Equal(t, detection.KindRegionalConcentration, conc.Flags[0].Kind)
	assert.Equal(t, "NY", conc.Flags[0].Evidence["region"])
	assert.Equal(t, 0.85, conc.Flags[0].Evidence["share"])
	require.NotNil(t, conc.Metrics)
	assert.Equal(t, int64(1_000_000), conc.Metrics.Total)

	nf := report.Results[1]
	assert.Equal(t, errors.CodeNotFound, nf.ErrorCode)
	require.NotNil(t, nf.Diagnostics)
	assert.Equal(t, fetch.ClassNotFound, nf.Diagnostics.StatusClass)

	assert.Equal(t, "not-an-isrc", report.Results[2].Identifier)
	assert.NotEmpty(t, report.Results[2].Error)

	noData := report.Results[3]
	assert.Empty(t, noData.Flags)
	assert.Nil(t, noData.Metrics)

	zero := report.Results[4]
	require.Len(t, zero.Flags, 1)
	assert.Equal(t, detection.KindZeroActivity, zero.Flags[0].Kind)

	assert.Equal(t, errors.CodeUnknownShape, report.Results[5].ErrorCode)

	low := report.Results[6]
	require.Len(t, low.Flags, 1)
	assert.Equal(t, detection.KindLowFree, low.Flags[0].Kind)

	s := report.Summary
	assert.Equal(t, 7, s.Total)
	assert.Equal(t, 3, s.Flagged)
	assert.Equal(t, 3, s.ByStatus[StatusSuccess])
	assert.Equal(t, 1, s.ByStatus[StatusNotFound])
	assert.Equal(t, 1, s.ByStatus[StatusNoData])
	assert.Equal(t, 1, s.ByStatus[StatusInvalid])
	assert.Equal(t, 1, s.ByStatus[StatusParseFailed])
	assert.Equal(t, 0, s.ByStatus[StatusFetchFailed])
	assert.Equal(t, 1, s.ByFlag[detection.KindRegionalConcentration])
	assert.Equal(t, 1, s.ByFlag[detection.KindZeroActivity])
	assert.Equal(t, 0, s.ByFlag[detection.KindAllFree])

	assert.Equal(t, 1, h.provider.AuthCalls())
	assert.Equal(t, 1, h.provider.FetchCalls(missing))
}

func TestProcess_InitialAuthFailureIsFatal(t *testing.T) {
	h := newHarness(t, 2)
	h.provider.AuthErr = errors.AuthError(errors.CodeInvalidCredentials, "rejected", nil)

	report, err := h.orch.Process(context.Background(), []string{concentrated, missing}, Config{})
	assert.Nil(t, report)
	assert.Equal(t, errors.CodeInvalidCredentials, errors.CodeOf(err))
	assert.Empty(t, h.provider.Fetches())
}

func TestProcess_LaterAuthFailureIsPerIdentifier(t *testing.T) {
	h := newHarness(t, 1)
	h.provider.AuthErrs = map[int]error{2: errors.AuthError(errors.CodeInvalidCredentials, "revoked", nil)}
	h.provider.Script(concentrated, testutil.Reply{Status: http.StatusUnauthorized})

	report, err := h.orch.Process(context.Background(), []string{concentrated, missing}, Config{})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthFailed, report.Results[0].Status)
	assert.Equal(t, StatusSuccess, report.Results[1].Status)
	assert.True(t, report.Results[0].Diagnostics.Reauthenticated)
}

func TestProcess_EmptyInput(t *testing.T) {
	h := newHarness(t, 2)
	report, err := h.orch.Process(context.Background(), nil, Config{})
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Equal(t, 0, report.Summary.Total)
	assert.Equal(t, 0, h.provider.AuthCalls())
}

func TestProcess_SingleExchangeUnderConcurrency(t *testing.T) {
	h := newHarness(t, 8)
	h.provider.AuthDelay = 20 * time.Millisecond

	ids := []string{concentrated, missing, empty, silent, garbled, lowFree, "NLA507800101", "USSM19922510"}
	report, err := h.orch.Process(context.Background(), ids, Config{})
	require.NoError(t, err)
	assert.Equal(t, len(ids), report.Summary.ByStatus[StatusSuccess])
	assert.Equal(t, 1, h.provider.AuthCalls())
}

func TestProcess_Cancellation(t *testing.T) {
	h := newHarness(t, 1)
	h.provider.Default = testutil.Reply{Status: http.StatusOK, Body: testutil.StreamsBody(testutil.Streams{Total: 10}), Delay: 200 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := h.orch.Process(ctx, []string{concentrated, missing, empty}, Config{})
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	for _, r := range report.Results {
		assert.Equal(t, StatusNotProcessed, r.Status, r.Identifier)
		assert.Empty(t, r.Error)
	}
	assert.Equal(t, 3, report.Summary.ByStatus[StatusNotProcessed])
	assert.LessOrEqual(t, len(h.provider.Fetches()), 1)
}

func TestProcess_DeadlineWhileWaitingForSlot(t *testing.T) {
	h := newPacedHarness(t, 3, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	report, err := h.orch.Process(ctx, []string{concentrated, missing, empty}, Config{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Summary.ByStatus[StatusSuccess])
	assert.Equal(t, 2, report.Summary.ByStatus[StatusNotProcessed])
	assert.Equal(t, 0, report.Summary.ByStatus[StatusFetchFailed])
	assert.Len(t, h.provider.Fetches(), 1)
}

func TestProcess_SharedSessionSurvivesCancelledLeader(t *testing.T) {
	h := newHarness(t, 2)
	h.provider.AuthDelay = 100 * time.Millisecond

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = h.orch.Process(leaderCtx, []string{concentrated}, Config{})
	}()

	time.Sleep(20 * time.Millisecond)
	followerDone := make(chan struct{})
	var (
		report *Report
		err    error
	)
	go func() {
		defer close(followerDone)
		report, err = h.orch.Process(context.Background(), []string{missing}, Config{})
	}()
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	<-leaderDone
	<-followerDone
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, StatusSuccess, report.Results[0].Status)
	assert.Equal(t, 1, h.provider.AuthCalls())
}

func TestProcess_ComparisonWindow(t *testing.T) {
	current, err := models.ParseDateRange("2024-02-01", "2024-02-29")
	require.NoError(t, err)
	previous := current.Preceding()

	t.Run("dropped to zero", func(t *testing.T) {
		h := newHarness(t, 1)
		h.provider.Script(silent,
			testutil.Reply{Status: http.StatusOK, Body: testutil.StreamsBody(testutil.Streams{Total: 0})},
			testutil.Reply{Status: http.StatusOK, Body: testutil.StreamsBody(testutil.Streams{Total: 1200})},
		)

		report, err := h.orch.Process(context.Background(), []string{silent}, Config{DateRange: current, ComparisonRange: &previous})
		require.NoError(t, err)

		flags := report.Results[0].Flags
		require.Len(t, flags, 1)
		assert.Equal(t, detection.SeverityHigh, flags[0].Severity)
		assert.Equal(t, true, flags[0].Evidence["hadPreviousActivity"])

		calls := h.provider.Fetches()
		require.Len(t, calls, 2)
		assert.Equal(t, current, calls[0].Filters.DateRange)
		assert.Equal(t, &previous, calls[1].Filters.DateRange)
	})

	t.Run("comparison unavailable", func(t *testing.T) {
		h := newHarness(t, 1)
		h.provider.Script(silent,
			testutil.Reply{Status: http.StatusOK, Body: testutil.StreamsBody(testutil.Streams{Total: 0})},
			testutil.Reply{Status: http.StatusInternalServerError},
		)

		report, err := h.orch.Process(context.Background(), []string{silent}, Config{ComparisonRange: &previous})
		require.NoError(t, err)
		flags := report.Results[0].Flags
		require.Len(t, flags, 1)
		assert.Equal(t, detection.SeverityMedium, flags[0].Severity)
		assert.NotContains(t, flags[0].Evidence, "hadPreviousActivity")
	})

	t.Run("not fetched when active", func(t *testing.T) {
		h := newHarness(t, 1)
		_, err := h.orch.Process(context.Background(), []string{concentrated}, Config{ComparisonRange: &previous})
		require.NoError(t, err)
		assert.Len(t, h.provider.Fetches(), 1)
	})
}

func TestConfig_ComparePrevious(t *testing.T) {
	current, err := models.ParseDateRange("2024-03-01", "2024-03-10")
	require.NoError(t, err)

	cfg := Config{DateRange: current}
	require.NoError(t, cfg.ComparePrevious())
	require.NotNil(t, cfg.ComparisonRange)
	assert.Equal(t, "2024-02-20", cfg.ComparisonRange.StartString())
	assert.Equal(t, "2024-02-29", cfg.ComparisonRange.EndString())

	assert.True(t, errors.IsType(cfg.ComparePrevious(), errors.ErrTypeValidation), "already set")
	assert.True(t, errors.IsType((&Config{}).ComparePrevious(), errors.ErrTypeValidation), "no date range")
}

func TestProcess_InvalidConfig(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.orch.Process(context.Background(), []string{concentrated}, Config{RegionThreshold: 1.5})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Equal(t, 0, h.provider.AuthCalls())
}

func TestProcess_CustomThresholds(t *testing.T) {
	h := newHarness(t, 1)
	h.provider.Script(concentrated, testutil.Reply{Status: http.StatusOK, Body: testutil.StreamsBody(testutil.Streams{
		Total:   1_000_000,
		Regions: map[string]int64{"NY": 850_000, "LA": 150_000},
	})})

	report, err := h.orch.Process(context.Background(), []string{concentrated}, Config{RegionThreshold: 0.85})
	require.NoError(t, err)
	assert.Empty(t, report.Results[0].Flags)
	assert.Equal(t, StatusSuccess, report.Results[0].Status)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Result{
		{Status: StatusSuccess, Flags: []detection.Flag{{Kind: detection.KindAllFree}, {Kind: detection.KindZeroActivity}}},
		{Status: StatusSuccess, Flags: []detection.Flag{}},
		{Status: StatusFetchFailed},
	})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Flagged)
	assert.Equal(t, 2, s.ByStatus[StatusSuccess])
	assert.Equal(t, 1, s.ByStatus[StatusFetchFailed])
	assert.Equal(t, 0, s.ByStatus[StatusNotProcessed])
	assert.Equal(t, 1, s.ByFlag[detection.KindAllFree])
	assert.Len(t, s.ByStatus, len(Statuses))
}
