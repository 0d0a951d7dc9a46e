package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/orchestrator"
	"wyckoff-trading-platform/internal/patterns"
	"wyckoff-trading-platform/internal/ranges"
)

type barSpec struct {
	o, h, l, c float64
	v          int64
}

func buildBars(symbol string, specs []barSpec) []market.OHLCVBar {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.OHLCVBar, len(specs))
	for i, s := range specs {
		bars[i] = market.OHLCVBar{
			Symbol:    symbol,
			Timeframe: market.Timeframe1d,
			Open:      decimal.NewFromFloat(s.o),
			High:      decimal.NewFromFloat(s.h),
			Low:       decimal.NewFromFloat(s.l),
			Close:     decimal.NewFromFloat(s.c),
			Volume:    decimal.NewFromInt(s.v),
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
		}
	}
	return bars
}

// springSpecs is a 60-bar daily accumulation: a downtrend climaxes at bar
// 21, ranges between roughly 100 and 110.3, springs below support at bar 48
// on dried-up volume, and recovers into the close of the series. Analyzed
// whole it emits one spring entry signal at bar 48.
func springSpecs() []barSpec {
	return []barSpec{
		{112.2, 113.0, 111.0, 111.8, 1000},
		{111.8, 112.6, 110.6, 111.4, 1000},
		{111.4, 112.2, 110.2, 111.0, 1000},
		{111.0, 111.8, 109.8, 110.6, 1000},
		{110.6, 111.4, 109.4, 110.2, 1000},
		{110.2, 111.0, 109.0, 109.8, 1000},
		{109.8, 110.6, 108.6, 109.4, 1000},
		{109.4, 110.2, 108.2, 109.0, 1000},
		{109.0, 109.8, 107.8, 108.6, 1000},
		{108.6, 109.4, 107.4, 108.2, 1000},
		{108.2, 109.0, 107.0, 107.8, 1000},
		{107.8, 108.6, 106.6, 107.4, 1000},
		{107.4, 108.2, 106.2, 107.0, 1000},
		{107.0, 107.8, 105.8, 106.6, 1000},
		{106.6, 107.4, 105.4, 106.2, 1000},
		{106.2, 107.0, 105.0, 105.8, 1000},
		{105.8, 106.6, 104.6, 105.4, 1000},
		{105.4, 106.2, 104.2, 105.0, 1000},
		{105.0, 105.8, 103.8, 104.6, 1000},
		{104.6, 105.4, 103.4, 104.2, 1000},
		{104.2, 105.0, 103.0, 103.8, 1000},
		{103.5, 104.0, 99.6, 100.2, 2500}, // selling climax
		{100.2, 104.0, 100.2, 103.6, 1400}, // automatic rally
		{103.6, 107.0, 103.2, 106.5, 1200},
		{106.5, 109.0, 106.0, 108.5, 1100},
		{108.5, 110.3, 107.8, 109.6, 1300},
		{109.6, 110.0, 108.0, 108.4, 1000},
		{108.4, 108.8, 106.5, 107.0, 900},
		{107.0, 107.5, 104.5, 105.0, 900},
		{105.0, 105.5, 102.5, 103.0, 850},
		{103.0, 103.5, 100.1, 101.0, 700}, // secondary test
		{101.0, 103.0, 100.8, 102.5, 800},
		{102.5, 105.0, 102.0, 104.5, 950},
		{104.5, 107.0, 104.0, 106.5, 1000},
		{106.5, 109.0, 106.0, 108.0, 1100},
		{108.0, 110.4, 107.5, 109.5, 1250},
		{109.5, 110.0, 107.8, 108.2, 950},
		{108.2, 108.6, 105.5, 106.0, 900},
		{106.0, 106.5, 103.0, 103.5, 850},
		{103.5, 104.0, 100.4, 101.5, 750}, // quiet dip at support
		{101.5, 104.0, 101.0, 103.5, 900},
		{103.5, 106.0, 103.0, 105.5, 950},
		{105.5, 108.0, 105.0, 107.0, 1000},
		{107.0, 110.2, 106.5, 109.0, 1150},
		{109.0, 109.8, 107.0, 107.5, 900},
		{107.5, 108.0, 104.8, 105.0, 850},
		{105.0, 105.5, 102.0, 102.5, 800},
		{102.5, 103.0, 100.8, 101.2, 750},
		{101.2, 101.5, 98.2, 99.0, 200}, // spring on 0.23x volume
		{99.0, 101.0, 98.8, 100.5, 600}, // recovery close
		{100.5, 102.0, 100.0, 101.5, 700},
		{101.5, 103.0, 101.0, 102.5, 800},
		{102.5, 104.5, 102.0, 104.0, 900},
		{104.0, 106.0, 103.5, 105.5, 950},
		{105.5, 107.5, 105.0, 107.0, 1000},
		{107.0, 108.5, 106.5, 108.0, 1050},
		{108.0, 109.5, 107.5, 109.0, 1100},
		{109.0, 110.0, 108.3, 109.5, 1150},
		{109.5, 110.2, 108.8, 109.8, 1200},
		{109.8, 110.3, 109.0, 110.0, 1250},
	}
}

func springBars(symbol string) []market.OHLCVBar {
	return buildBars(symbol, springSpecs())
}

// stopRunBars swaps the drift after the spring entry for a dip through the
// stop at bar 51, then a hover below the creek
func stopRunBars(symbol string) []market.OHLCVBar {
	specs := springSpecs()
	tail := []barSpec{
		{101.5, 101.8, 97.0, 97.8, 1600},
		{97.8, 99.0, 96.5, 98.0, 1200},
		{98.0, 99.5, 97.0, 98.5, 1100},
		{98.5, 99.8, 97.5, 99.0, 1000},
		{99.0, 100.0, 98.0, 99.5, 1000},
		{99.5, 100.5, 98.5, 100.0, 1000},
		{100.0, 101.0, 99.0, 100.5, 1000},
		{100.5, 101.5, 99.5, 101.0, 1000},
		{101.0, 102.0, 100.0, 101.5, 1000},
	}
	copy(specs[51:], tail)
	return buildBars(symbol, specs)
}

// fixedProvider returns the same bars for every fetch
type fixedProvider struct {
	bars []market.OHLCVBar
	err  error
}

func (fixedProvider) Name() string { return "fixed" }

func (p fixedProvider) FetchHistorical(context.Context, string, time.Time, time.Time, market.Timeframe) ([]market.OHLCVBar, error) {
	return p.bars, p.err
}

func testEngine(prov market.DataProvider) *Engine {
	pipe := orchestrator.NewPipeline(orchestrator.Config{}, prov,
		patterns.DefaultConfig(), ranges.DefaultConfig(), nil, nil, nil)
	return NewEngine(pipe, prov)
}

func dailyConfig(symbol string) Config {
	return Config{
		Symbol:          symbol,
		Timeframe:       market.Timeframe1d,
		StartDate:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital:  decimal.NewFromInt(100000),
		RiskPctPerTrade: 1.0,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRunValidatesConfig(t *testing.T) {
	e := testEngine(fixedProvider{})
	ctx := context.Background()

	cfg := dailyConfig("AAPL")
	cfg.StartDate, cfg.EndDate = cfg.EndDate, cfg.StartDate
	if _, err := e.Run(ctx, cfg, nil); err == nil {
		t.Error("inverted dates accepted")
	}

	cfg = dailyConfig("AAPL")
	cfg.InitialCapital = decimal.Zero
	if _, err := e.Run(ctx, cfg, nil); err == nil {
		t.Error("zero capital accepted")
	}
}

func TestRunBarsBelowWarmup(t *testing.T) {
	e := testEngine(fixedProvider{})
	bars := springBars("AAPL")[:20]

	res, err := e.RunBars(context.Background(), dailyConfig("AAPL"), bars, nil)
	if err != nil {
		t.Fatalf("RunBars: %v", err)
	}
	if res.TotalTrades != 0 {
		t.Errorf("trades = %d below the warmup, want 0", res.TotalTrades)
	}
	if !res.FinalEquity.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("final equity = %s, want untouched capital", res.FinalEquity)
	}
	if res.BarsAnalyzed != 20 {
		t.Errorf("bars analyzed = %d, want 20", res.BarsAnalyzed)
	}
}

// TestRunBarsExecutesSpringTrade replays the accumulation series: the
// spring signal at bar 48 opens a position sized off the spring low, rides
// the markup, and closes at the end of the data
func TestRunBarsExecutesSpringTrade(t *testing.T) {
	e := testEngine(fixedProvider{})

	var progressCalls [][2]int
	progress := func(done, total int) { progressCalls = append(progressCalls, [2]int{done, total}) }

	res, err := e.RunBars(context.Background(), dailyConfig("AAPL"), springBars("AAPL"), progress)
	if err != nil {
		t.Fatalf("RunBars: %v", err)
	}

	if res.TotalTrades != 1 {
		t.Fatalf("trades = %d, want 1", res.TotalTrades)
	}
	tr := res.Trades[0]
	if tr.PatternKind != patterns.KindSpring {
		t.Errorf("pattern = %s, want SPRING", tr.PatternKind)
	}
	if !tr.EntryPrice.Equal(decimal.NewFromFloat(99.0)) {
		t.Errorf("entry = %s, want the spring close 99", tr.EntryPrice)
	}
	if !tr.StopPrice.Equal(decimal.NewFromFloat(98.2)) {
		t.Errorf("stop = %s, want the spring low 98.2", tr.StopPrice)
	}
	if !tr.TargetPrice.Equal(decimal.NewFromFloat(121.2)) {
		t.Errorf("target = %s, want the jump level 121.2", tr.TargetPrice)
	}
	// 1% of 100k is a 1000 budget against 0.80 risk per share
	if !tr.Quantity.Equal(decimal.NewFromInt(1250)) {
		t.Errorf("quantity = %s, want 1250", tr.Quantity)
	}
	if tr.ExitReason != "backtest_end" {
		t.Errorf("exit reason = %q, want backtest_end", tr.ExitReason)
	}
	if !tr.ExitPrice.Equal(decimal.NewFromFloat(110.0)) {
		t.Errorf("exit = %s, want the final close 110", tr.ExitPrice)
	}
	if !almostEqual(tr.RMultiple, 13.75) {
		t.Errorf("r multiple = %v, want 13.75", tr.RMultiple)
	}

	if !res.FinalEquity.Equal(decimal.NewFromInt(113750)) {
		t.Errorf("final equity = %s, want 113750", res.FinalEquity)
	}
	if res.Wins != 1 || res.WinRate != 1.0 {
		t.Errorf("wins/winrate = %d/%v, want 1/1.0", res.Wins, res.WinRate)
	}
	if !almostEqual(res.TotalR, 13.75) || !almostEqual(res.AvgRMultiple, 13.75) {
		t.Errorf("total/avg R = %v/%v, want 13.75 both", res.TotalR, res.AvgRMultiple)
	}
	if res.MaxDrawdownPct != 0 {
		t.Errorf("max drawdown = %v, want 0 for a single winner", res.MaxDrawdownPct)
	}

	if len(progressCalls) != 1 || progressCalls[0] != [2]int{60, 60} {
		t.Errorf("progress calls = %v, want one final (60, 60)", progressCalls)
	}
}

// TestRunBarsStopsOut dips through the stop three bars after entry and
// checks the pessimistic stop fill and the drawdown accounting
func TestRunBarsStopsOut(t *testing.T) {
	e := testEngine(fixedProvider{})

	res, err := e.RunBars(context.Background(), dailyConfig("AAPL"), stopRunBars("AAPL"), nil)
	if err != nil {
		t.Fatalf("RunBars: %v", err)
	}

	if res.TotalTrades != 1 {
		t.Fatalf("trades = %d, want 1", res.TotalTrades)
	}
	tr := res.Trades[0]
	if tr.ExitReason != "stop_loss" {
		t.Errorf("exit reason = %q, want stop_loss", tr.ExitReason)
	}
	if !tr.ExitPrice.Equal(decimal.NewFromFloat(98.2)) {
		t.Errorf("exit = %s, want the stop price", tr.ExitPrice)
	}
	if !almostEqual(tr.RMultiple, -1.0) {
		t.Errorf("r multiple = %v, want -1", tr.RMultiple)
	}
	if !res.FinalEquity.Equal(decimal.NewFromInt(99000)) {
		t.Errorf("final equity = %s, want 99000", res.FinalEquity)
	}
	if res.Losses != 1 || res.WinRate != 0 {
		t.Errorf("losses/winrate = %d/%v, want 1/0", res.Losses, res.WinRate)
	}
	if !almostEqual(res.MaxDrawdownPct, 1.0) {
		t.Errorf("max drawdown = %v, want 1.0", res.MaxDrawdownPct)
	}
	if res.ProfitFactor != 0 {
		t.Errorf("profit factor = %v, want 0 with no winners", res.ProfitFactor)
	}
}

func TestRunBarsContextCancelled(t *testing.T) {
	e := testEngine(fixedProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.RunBars(ctx, dailyConfig("AAPL"), springBars("AAPL"), nil)
	if err == nil {
		t.Fatal("cancelled run returned no error")
	}
}

// TestCheckExitStopFirst spans stop and target in one bar; the stop wins
func TestCheckExitStopFirst(t *testing.T) {
	tr := &Trade{
		EntryPrice:  decimal.NewFromInt(100),
		StopPrice:   decimal.NewFromInt(98),
		TargetPrice: decimal.NewFromInt(105),
	}
	bar := market.OHLCVBar{
		High: decimal.NewFromInt(106),
		Low:  decimal.NewFromInt(97),
	}

	exited, price, reason := checkExit(tr, bar)
	if !exited || reason != "stop_loss" {
		t.Fatalf("exit = %v/%s, want stop_loss", exited, reason)
	}
	if !price.Equal(tr.StopPrice) {
		t.Errorf("fill = %s, want the stop price", price)
	}

	bar = market.OHLCVBar{High: decimal.NewFromInt(106), Low: decimal.NewFromInt(99)}
	exited, price, reason = checkExit(tr, bar)
	if !exited || reason != "target_reached" {
		t.Fatalf("exit = %v/%s, want target_reached", exited, reason)
	}
	if !price.Equal(tr.TargetPrice) {
		t.Errorf("fill = %s, want the target price", price)
	}

	bar = market.OHLCVBar{High: decimal.NewFromInt(103), Low: decimal.NewFromInt(99)}
	if exited, _, _ = checkExit(tr, bar); exited {
		t.Error("bar inside the bracket exited")
	}
}

func TestComputeMetrics(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	res := &Result{
		InitialCapital: decimal.NewFromInt(100000),
		Trades: []Trade{
			{ProfitLoss: decimal.NewFromInt(2000), RMultiple: 2.0},
			{ProfitLoss: decimal.NewFromInt(-1000), RMultiple: -1.0},
			{ProfitLoss: decimal.NewFromInt(1500), RMultiple: 1.5},
		},
		EquityCurve: []EquityPoint{
			{Timestamp: base, Equity: decimal.NewFromInt(102000)},
			{Timestamp: base.Add(24 * time.Hour), Equity: decimal.NewFromInt(101000)},
			{Timestamp: base.Add(48 * time.Hour), Equity: decimal.NewFromInt(102500)},
		},
	}

	computeMetrics(res)

	if res.TotalTrades != 3 || res.Wins != 2 || res.Losses != 1 {
		t.Errorf("trades/wins/losses = %d/%d/%d, want 3/2/1", res.TotalTrades, res.Wins, res.Losses)
	}
	if !almostEqual(res.WinRate, 2.0/3.0) {
		t.Errorf("win rate = %v, want 2/3", res.WinRate)
	}
	if !almostEqual(res.TotalR, 2.5) || !almostEqual(res.AvgRMultiple, 2.5/3.0) {
		t.Errorf("total/avg R = %v/%v, want 2.5 and 2.5/3", res.TotalR, res.AvgRMultiple)
	}
	if !almostEqual(res.ProfitFactor, 3.5) {
		t.Errorf("profit factor = %v, want 3.5", res.ProfitFactor)
	}
	// peak 102000 to trough 101000
	if math.Abs(res.MaxDrawdownPct-1000.0/102000.0*100) > 1e-9 {
		t.Errorf("max drawdown = %v, want ~0.98", res.MaxDrawdownPct)
	}
}

func TestMaxDrawdownTracksPeaks(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	curve := []EquityPoint{
		{Timestamp: base, Equity: decimal.NewFromInt(110000)},
		{Timestamp: base.Add(time.Hour), Equity: decimal.NewFromInt(99000)}, // 10% off the 110k peak
		{Timestamp: base.Add(2 * time.Hour), Equity: decimal.NewFromInt(120000)},
		{Timestamp: base.Add(3 * time.Hour), Equity: decimal.NewFromInt(114000)}, // 5% off the 120k peak
	}

	got := maxDrawdown(decimal.NewFromInt(100000), curve)
	if !almostEqual(got, 10.0) {
		t.Errorf("max drawdown = %v, want 10", got)
	}

	if got := maxDrawdown(decimal.NewFromInt(100000), nil); got != 0 {
		t.Errorf("empty curve drawdown = %v, want 0", got)
	}
}
