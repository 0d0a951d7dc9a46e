package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTimeframeIsIntraday(t *testing.T) {
	cases := []struct {
		tf   Timeframe
		want bool
	}{
		{Timeframe1m, true},
		{Timeframe5m, true},
		{Timeframe15m, true},
		{Timeframe30m, true},
		{Timeframe1h, true},
		{Timeframe4h, false},
		{Timeframe1d, false},
	}
	for _, tc := range cases {
		if got := tc.tf.IsIntraday(); got != tc.want {
			t.Errorf("%s.IsIntraday() = %v, want %v", tc.tf, got, tc.want)
		}
	}
}

func TestTimeframeDuration(t *testing.T) {
	cases := []struct {
		tf   Timeframe
		want time.Duration
	}{
		{Timeframe1m, time.Minute},
		{Timeframe15m, 15 * time.Minute},
		{Timeframe1h, time.Hour},
		{Timeframe4h, 4 * time.Hour},
		{Timeframe1d, 24 * time.Hour},
	}
	for _, tc := range cases {
		if got := tc.tf.Duration(); got != tc.want {
			t.Errorf("%s.Duration() = %s, want %s", tc.tf, got, tc.want)
		}
	}
}

// TestClosePosition verifies the close location within the bar range,
// including the zero-spread convention
func TestClosePosition(t *testing.T) {
	bar := OHLCVBar{
		High:  decimal.NewFromInt(110),
		Low:   decimal.NewFromInt(100),
		Close: decimal.NewFromInt(108),
	}
	if got := bar.ClosePosition(); !got.Equal(decimal.NewFromFloat(0.8)) {
		t.Errorf("ClosePosition = %s, want 0.8", got)
	}

	flat := OHLCVBar{
		High:  decimal.NewFromInt(100),
		Low:   decimal.NewFromInt(100),
		Close: decimal.NewFromInt(100),
	}
	if got := flat.ClosePosition(); !got.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("zero-spread ClosePosition = %s, want 0.5", got)
	}
}

func TestSpread(t *testing.T) {
	bar := OHLCVBar{High: decimal.NewFromFloat(102.5), Low: decimal.NewFromInt(99)}
	if got := bar.Spread(); !got.Equal(decimal.NewFromFloat(3.5)) {
		t.Errorf("Spread = %s, want 3.5", got)
	}
}

// TestClassifyAsset verifies the six-letter forex heuristic
func TestClassifyAsset(t *testing.T) {
	cases := []struct {
		symbol string
		want   AssetClass
	}{
		{"EURUSD", AssetClassForex},
		{"GBPJPY", AssetClassForex},
		{"AAPL", AssetClassStock},
		{"BTCUSDT", AssetClassStock}, // seven characters
		{"EUR12D", AssetClassStock},  // digits disqualify
		{"", AssetClassStock},
	}
	for _, tc := range cases {
		if got := ClassifyAsset(tc.symbol); got != tc.want {
			t.Errorf("ClassifyAsset(%q) = %s, want %s", tc.symbol, got, tc.want)
		}
	}
}

// TestSessionFromTime walks the UTC hour boundaries of each session
func TestSessionFromTime(t *testing.T) {
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		hour int
		want TradingSession
	}{
		{3, SessionAsian},
		{6, SessionAsian},
		{7, SessionLondon},
		{11, SessionLondon},
		{12, SessionOverlap},
		{15, SessionOverlap},
		{16, SessionNewYork},
		{20, SessionNewYork},
		{21, SessionNYClose},
		{22, SessionNYClose},
		{23, SessionAsian},
	}
	for _, tc := range cases {
		if got := SessionFromTime(day.Add(time.Duration(tc.hour) * time.Hour)); got != tc.want {
			t.Errorf("hour %02d: session = %s, want %s", tc.hour, got, tc.want)
		}
	}
}

// TestSessionFromTimeNormalizesZone verifies non-UTC timestamps are converted
func TestSessionFromTimeNormalizesZone(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	// 22:00 EST is 03:00 UTC the next day
	ts := time.Date(2025, 1, 6, 22, 0, 0, 0, est)
	if got := SessionFromTime(ts); got != SessionAsian {
		t.Errorf("session = %s, want ASIAN", got)
	}
}
