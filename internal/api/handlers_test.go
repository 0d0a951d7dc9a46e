package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/backtest"
	"wyckoff-trading-platform/internal/campaign"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/orchestrator"
	"wyckoff-trading-platform/internal/patterns"
	"wyckoff-trading-platform/internal/progress"
	"wyckoff-trading-platform/internal/ranges"
	"wyckoff-trading-platform/internal/supervisor"
)

// cannedProvider returns fixed bars, or a fixed error, on every fetch
type cannedProvider struct {
	bars []market.OHLCVBar
	err  error
}

func (cannedProvider) Name() string { return "canned" }

func (p cannedProvider) FetchHistorical(context.Context, string, time.Time, time.Time, market.Timeframe) ([]market.OHLCVBar, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.bars, nil
}

// nopSession satisfies the supervisor persistence interfaces without a DB
type nopSession struct{}

func (nopSession) SaveBacktestResult(context.Context, string, *backtest.Result) error { return nil }
func (nopSession) SaveWalkForwardResult(context.Context, string, *backtest.WalkForwardResult) error {
	return nil
}
func (nopSession) SaveRegressionResult(context.Context, string, *backtest.RegressionResult) error {
	return nil
}
func (nopSession) Close() {}

type nopFactory struct{}

func (nopFactory) NewSession(context.Context) (supervisor.ResultStore, error) {
	return nopSession{}, nil
}

// testServer assembles a full router over stubbed market data, with
// persistence disabled
func testServer(prov market.DataProvider) (*Server, *supervisor.Supervisor) {
	campaigns := campaign.NewDetector(campaign.DefaultDailyConfig(),
		decimal.NewFromInt(100000), 1.0, zerolog.Nop())
	pipe := orchestrator.NewPipeline(orchestrator.Config{}, prov,
		patterns.DefaultConfig(), ranges.DefaultConfig(), campaigns, nil, nil)
	engine := backtest.NewEngine(pipe, prov)
	sup := supervisor.New(supervisor.DefaultConfig(), engine, nopFactory{}, nil, nil, zerolog.Nop())
	srv := NewServer(ServerConfig{ProductionMode: true}, sup, pipe, nil,
		progress.NewHub(), progress.NewSnapshotStore())
	return srv, sup
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

// downtrendBars has no pivot structure, so analysis completes without
// finding a range
func downtrendBars(n int) []market.OHLCVBar {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.OHLCVBar, n)
	for i := range bars {
		m := float64(200 - 2*i)
		bars[i] = market.OHLCVBar{
			Symbol:    "AAPL",
			Timeframe: market.Timeframe1d,
			Open:      decimal.NewFromFloat(m),
			High:      decimal.NewFromFloat(m + 1),
			Low:       decimal.NewFromFloat(m - 1),
			Close:     decimal.NewFromFloat(m - 0.5),
			Volume:    decimal.NewFromInt(1000),
			Timestamp: base.AddDate(0, 0, i),
		}
	}
	return bars
}

func validRunBody() string {
	return `{"symbol":"AAPL","timeframe":"1d","start_date":"2024-01-01T00:00:00Z","end_date":"2024-07-01T00:00:00Z","initial_capital":100000,"risk_pct_per_trade":1.0}`
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(cannedProvider{})

	w := doRequest(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v, want ok", resp["status"])
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv, _ := testServer(cannedProvider{bars: downtrendBars(30)})

	w := doRequest(t, srv, http.MethodPost, "/api/analyze", `{"symbol":"AAPL","timeframe":"1d"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var report orchestrator.AnalysisReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("response is not an analysis report: %v", err)
	}
	if report.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL", report.Symbol)
	}
	if len(report.Stages) < 2 {
		t.Errorf("stages = %d, want at least fetch and volume analysis", len(report.Stages))
	}

	w = doRequest(t, srv, http.MethodPost, "/api/analyze", `{"symbol":"AAPL"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for a missing timeframe, want 400", w.Code)
	}
}

func TestAnalyzeDataOutage(t *testing.T) {
	srv, _ := testServer(cannedProvider{err: &market.DataUnavailableError{
		Symbol:    "AAPL",
		Timeframe: market.Timeframe1d,
		Attempted: []string{"canned"},
		LastErr:   errors.New("connection refused"),
	}})

	w := doRequest(t, srv, http.MethodPost, "/api/analyze", `{"symbol":"AAPL","timeframe":"1d"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 on a total data outage", w.Code)
	}
}

func TestPreviewEndpointGatedOff(t *testing.T) {
	srv, _ := testServer(cannedProvider{})

	w := doRequest(t, srv, http.MethodPost, "/api/previews", validRunBody())
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501 while previews are gated off", w.Code)
	}
}

// TestBacktestLifecycle drives enqueue, status fetch, and results listing
// through the router
func TestBacktestLifecycle(t *testing.T) {
	srv, sup := testServer(cannedProvider{})

	w := doRequest(t, srv, http.MethodPost, "/api/backtests", validRunBody())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.RunID == "" {
		t.Fatalf("enqueue response %q not usable: %v", w.Body.String(), err)
	}

	sup.Wait()

	w = doRequest(t, srv, http.MethodGet, "/api/runs/"+resp.RunID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d fetching the run, want 200", w.Code)
	}
	var rec supervisor.RunRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("run record does not parse: %v", err)
	}
	if rec.Status != supervisor.StatusCompleted {
		t.Errorf("run status = %s (%s), want COMPLETED", rec.Status, rec.Error)
	}
	if rec.Kind != supervisor.KindFull {
		t.Errorf("run kind = %s, want FULL", rec.Kind)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/results?kind=FULL", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d listing results, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), resp.RunID) {
		t.Error("completed run missing from the results listing")
	}
}

func TestEnqueueValidationMapsTo400(t *testing.T) {
	srv, _ := testServer(cannedProvider{})

	cases := []struct {
		name string
		body string
	}{
		{"risk above cap", `{"symbol":"AAPL","timeframe":"1d","start_date":"2024-01-01T00:00:00Z","end_date":"2024-07-01T00:00:00Z","initial_capital":100000,"risk_pct_per_trade":2.5}`},
		{"bad start date", `{"symbol":"AAPL","timeframe":"1d","start_date":"01/01/2024","end_date":"2024-07-01T00:00:00Z","initial_capital":100000}`},
		{"missing timeframe", `{"symbol":"AAPL","start_date":"2024-01-01T00:00:00Z","end_date":"2024-07-01T00:00:00Z","initial_capital":100000}`},
		{"malformed json", `{not json}`},
	}
	for _, tc := range cases {
		w := doRequest(t, srv, http.MethodPost, "/api/backtests", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, w.Code)
		}
	}
}

// TestRegressionWithoutPerRunSymbol checks that regression requests need
// only the symbols list; the per-run symbol is filled from it
func TestRegressionWithoutPerRunSymbol(t *testing.T) {
	srv, sup := testServer(cannedProvider{})

	body := `{"symbols":["AAPL","MSFT"],"timeframe":"1d","start_date":"2024-01-01T00:00:00Z","end_date":"2024-07-01T00:00:00Z","initial_capital":100000}`
	w := doRequest(t, srv, http.MethodPost, "/api/regressions", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	sup.Wait()
}

func TestWalkForwardEndpoint(t *testing.T) {
	srv, sup := testServer(cannedProvider{})

	body := `{"symbol":"AAPL","timeframe":"1d","start_date":"2024-01-01T00:00:00Z","end_date":"2025-01-01T00:00:00Z","initial_capital":100000,"train_months":3,"validate_months":1}`
	w := doRequest(t, srv, http.MethodPost, "/api/walkforward", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	sup.Wait()
}

func TestRunNotFound(t *testing.T) {
	srv, _ := testServer(cannedProvider{})

	if w := doRequest(t, srv, http.MethodGet, "/api/runs/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET status = %d, want 404", w.Code)
	}
	if w := doRequest(t, srv, http.MethodDelete, "/api/runs/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("DELETE status = %d, want 404", w.Code)
	}
}

func TestListResultsUnknownKind(t *testing.T) {
	srv, _ := testServer(cannedProvider{})

	w := doRequest(t, srv, http.MethodGet, "/api/results?kind=BOGUS", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an unknown run kind", w.Code)
	}
}

func TestProgressEndpoint(t *testing.T) {
	srv, _ := testServer(cannedProvider{})
	srv.snapshots.Publish(progress.Update{
		RunID:           "run-1",
		BarsAnalyzed:    50,
		TotalBars:       100,
		PercentComplete: 50,
		Sequence:        1,
	})

	w := doRequest(t, srv, http.MethodGet, "/api/runs/run-1/progress", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var u progress.Update
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatalf("progress update does not parse: %v", err)
	}
	if u.PercentComplete != 50 {
		t.Errorf("percent complete = %v, want 50", u.PercentComplete)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/runs/unknown/progress", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d for an untracked run, want 404", w.Code)
	}
}

// TestPersistenceDisabledEndpoints covers the nil-repo degradation
func TestPersistenceDisabledEndpoints(t *testing.T) {
	srv, _ := testServer(cannedProvider{})

	if w := doRequest(t, srv, http.MethodGet, "/api/campaigns", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("campaigns status = %d, want 503 without persistence", w.Code)
	}
	if w := doRequest(t, srv, http.MethodGet, "/api/signals", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("signals status = %d, want 503 without persistence", w.Code)
	}
}

func TestCampaignStatsEndpoint(t *testing.T) {
	srv, _ := testServer(cannedProvider{bars: downtrendBars(30)})

	w := doRequest(t, srv, http.MethodGet, "/api/campaigns/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var stats campaign.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Overview.Total != 0 {
		t.Errorf("total = %d, want 0 before any campaigns form", stats.Overview.Total)
	}
}

func TestCampaignStatsWithoutDetector(t *testing.T) {
	pipe := orchestrator.NewPipeline(orchestrator.Config{}, cannedProvider{},
		patterns.DefaultConfig(), ranges.DefaultConfig(), nil, nil, nil)
	engine := backtest.NewEngine(pipe, cannedProvider{})
	sup := supervisor.New(supervisor.DefaultConfig(), engine, nopFactory{}, nil, nil, zerolog.Nop())
	srv := NewServer(ServerConfig{ProductionMode: true}, sup, pipe, nil,
		progress.NewHub(), progress.NewSnapshotStore())

	w := doRequest(t, srv, http.MethodGet, "/api/campaigns/stats", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without a detector", w.Code)
	}
}

func TestCurrentBaselineNotFound(t *testing.T) {
	srv, _ := testServer(cannedProvider{})

	w := doRequest(t, srv, http.MethodGet, "/api/baselines/current", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 with no baseline established", w.Code)
	}
}
