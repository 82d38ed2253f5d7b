package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-auditor/internal/batch"
	"stream-auditor/internal/config"
	"stream-auditor/internal/detection"
	"stream-auditor/internal/testutil"
)

// fakeLuminate serves the auth and record endpoints. Unknown identifiers
// return 404.
type fakeLuminate struct {
	*httptest.Server
	auths   atomic.Int64
	records map[string]string
}

func newFakeLuminate(t *testing.T, records map[string]string) *fakeLuminate {
	t.Helper()
	f := &fakeLuminate{records: records}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		f.auths.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token": "tok", "expires_in": 3600}`)
	})
	mux.HandleFunc("/musical_recordings/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/musical_recordings/")
		body, ok := f.records[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message": "recording not found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func setProviderEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("PROVIDER_BASE_URL", baseURL)
	t.Setenv("PROVIDER_API_KEY", "key")
	t.Setenv("PROVIDER_USERNAME", "auditor")
	t.Setenv("PROVIDER_PASSWORD", "secret")
	t.Setenv("RATE_LIMIT_INTERVAL", "1ms")
	t.Setenv("FETCH_INITIAL_BACKOFF", "1ms")
	t.Setenv("FETCH_MAX_BACKOFF", "5ms")
	t.Setenv("CIRCUIT_BREAKER_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
}

func concentratedBody() string {
	return testutil.StreamsBody(testutil.Streams{
		Total:       1000,
		Regions:     map[string]int64{"New York": 950, "Chicago": 50},
		AdSupported: testutil.Int64(400),
		Premium:     testutil.Int64(600),
	})
}

// reportView is the subset of the JSON report the tests inspect.
type reportView struct {
	RunID   string `json:"run_id"`
	Results []struct {
		Identifier string           `json:"identifier"`
		Status     batch.Status     `json:"status"`
		Flags      []detection.Flag `json:"flags"`
	} `json:"results"`
	Summary batch.Summary `json:"summary"`
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestAnalyzeCommand_EndToEnd(t *testing.T) {
	provider := newFakeLuminate(t, map[string]string{"USRC17607839": concentratedBody()})
	setProviderEnv(t, provider.URL)

	out, err := runCLI(t, "isrc\nGBAYE0601498\nnot-an-isrc\n",
		"analyze", "USRC17607839", "--file", "-", "--start", "2024-01-01", "--end", "2024-01-31")
	require.NoError(t, err)

	var report reportView
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Results, 3)
	assert.Equal(t, "USRC17607839", report.Results[0].Identifier)
	assert.Equal(t, batch.StatusSuccess, report.Results[0].Status)
	require.Len(t, report.Results[0].Flags, 1)
	assert.Equal(t, detection.KindRegionalConcentration, report.Results[0].Flags[0].Kind)

	assert.Equal(t, batch.StatusNotFound, report.Results[1].Status)
	assert.Equal(t, batch.StatusInvalid, report.Results[2].Status)

	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Flagged)
	assert.EqualValues(t, 1, provider.auths.Load())
}

func TestAnalyzeCommand_Errors(t *testing.T) {
	provider := newFakeLuminate(t, nil)

	t.Run("no identifiers", func(t *testing.T) {
		setProviderEnv(t, provider.URL)
		_, err := runCLI(t, "", "analyze")
		assert.ErrorContains(t, err, "no identifiers")
	})

	t.Run("missing credentials", func(t *testing.T) {
		setProviderEnv(t, provider.URL)
		t.Setenv("PROVIDER_PASSWORD", "")
		_, err := runCLI(t, "", "analyze", "USRC17607839")
		assert.ErrorContains(t, err, "PROVIDER_PASSWORD")
	})

	t.Run("bad date range", func(t *testing.T) {
		setProviderEnv(t, provider.URL)
		_, err := runCLI(t, "", "analyze", "USRC17607839", "--start", "2024-02-01")
		assert.Error(t, err)
	})

	t.Run("invalid configuration", func(t *testing.T) {
		setProviderEnv(t, provider.URL)
		t.Setenv("WORKERS", "0")
		_, err := runCLI(t, "", "analyze", "USRC17607839")
		assert.ErrorContains(t, err, "WORKERS")
	})
}

func TestVersionCommand_SkipsConfiguration(t *testing.T) {
	t.Setenv("WORKERS", "not-a-number")
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "stream-auditor version "+Version)
}

func TestWatchCommand_RejectsBadSchedule(t *testing.T) {
	provider := newFakeLuminate(t, nil)
	setProviderEnv(t, provider.URL)
	_, err := runCLI(t, "", "watch", "USRC17607839", "--schedule", "every tuesday")
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestNewHandler(t *testing.T) {
	provider := newFakeLuminate(t, map[string]string{"USRC17607839": concentratedBody()})
	setProviderEnv(t, provider.URL)

	cfg := config.Load()
	require.NoError(t, cfg.Validate())
	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Close()

	srv := httptest.NewServer(NewHandler(app))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/analyze", "application/json",
		strings.NewReader(`{"identifiers": ["USRC17607839"]}`))
	require.NoError(t, err)
	var report reportView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, report.Summary.Flagged)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "stream_auditor_fetch_attempts_total")
	assert.Contains(t, string(body), "go_goroutines")
}
