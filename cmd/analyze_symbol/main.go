package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/campaign"
	"wyckoff-trading-platform/internal/circuit"
	"wyckoff-trading-platform/internal/events"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/orchestrator"
	"wyckoff-trading-platform/internal/patterns"
	"wyckoff-trading-platform/internal/ranges"
)

// One-shot pipeline run against live data, for inspecting what the
// detectors see on a single symbol without starting the server.
func main() {
	godotenv.Load()
	godotenv.Load(".env")

	symbol := flag.String("symbol", "", "symbol to analyze (required)")
	timeframe := flag.String("timeframe", "1h", "bar timeframe (1m, 5m, 15m, 30m, 1h, 4h, 1d)")
	baseURL := flag.String("base-url", envOr("MARKET_PRIMARY_URL", "https://api.binance.com"), "klines endpoint base URL")
	equity := flag.Float64("equity", 100000, "account equity for position sizing")
	flag.Parse()

	if *symbol == "" {
		fmt.Println("usage: analyze_symbol -symbol BTCUSDT [-timeframe 1h]")
		os.Exit(1)
	}

	zlog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	provider := market.NewFallbackProvider(market.NewRESTProvider("rest", *baseURL))
	tf := market.Timeframe(*timeframe)

	campaignCfg := campaign.DefaultIntradayConfig()
	if !tf.IsIntraday() {
		campaignCfg = campaign.DefaultDailyConfig()
	}
	campaigns := campaign.NewDetector(campaignCfg, decimal.NewFromFloat(*equity), 1.0,
		zlog.With().Str("component", "campaign_detector").Logger())

	pipeline := orchestrator.NewPipeline(
		orchestrator.DefaultConfig(),
		provider,
		patterns.DefaultConfig(),
		ranges.DefaultConfig(),
		campaigns,
		circuit.NewBreaker(circuit.DefaultConfig()),
		events.NewEventBus(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := pipeline.AnalyzeSymbol(ctx, *symbol, tf)
	if err != nil {
		fmt.Printf("analysis failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== %s %s (correlation %s) ===\n", report.Symbol, report.Timeframe, report.CorrelationID)
	fmt.Printf("Phase: %s (confidence %.1f)\n\n", report.Phase, report.Confidence)

	fmt.Println("Stages:")
	for _, st := range report.Stages {
		status := "ok"
		if !st.Success {
			status = "FAILED: " + st.Error
		}
		fmt.Printf("  %-20s %6dms  %s\n", st.Stage, st.ExecutionTimeMs, status)
		for _, d := range st.FailedDetectors {
			fmt.Printf("    detector skipped: %s\n", d)
		}
	}

	fmt.Printf("\nPatterns (%d):\n", len(report.Patterns))
	for _, p := range report.Patterns {
		fmt.Printf("  %-16s bar %-5d confidence %.1f\n", p.Kind, p.BarIndex, p.Confidence)
	}

	fmt.Printf("\nSignals (%d):\n", len(report.Signals))
	for _, s := range report.Signals {
		fmt.Printf("  %s %s entry=%s stop=%s target=%s size=%d risk=$%s (confidence %.1f)\n",
			s.PatternKind, s.Symbol, s.EntryPrice, s.StopPrice, s.TargetPrice,
			s.PositionSize, s.DollarRisk, s.Confidence)
	}

	for _, c := range campaigns.Store().All() {
		fmt.Printf("\nCampaign %s: state=%s phase=%s strength=%.2f patterns=%d\n",
			c.ID, c.State, c.Phase, c.StrengthScore, len(c.Patterns))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
