package ranges

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
)

// RangeStatus tracks the lifecycle of a trading range
type RangeStatus string

const (
	StatusForming  RangeStatus = "FORMING"
	StatusActive   RangeStatus = "ACTIVE"
	StatusBreakout RangeStatus = "BREAKOUT"
	StatusFailed   RangeStatus = "FAILED"
)

// TradingRange is a detected accumulation/distribution structure
type TradingRange struct {
	ID                string           `json:"id"`
	Symbol            string           `json:"symbol"`
	Timeframe         market.Timeframe `json:"timeframe"`
	StartIndex        int              `json:"start_index"`
	EndIndex          int              `json:"end_index"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           time.Time        `json:"end_time"`
	DurationBars      int              `json:"duration_bars"`
	Support           decimal.Decimal  `json:"support"`
	Resistance        decimal.Decimal  `json:"resistance"`
	SupportTouches    int              `json:"support_touches"`
	ResistanceTouches int              `json:"resistance_touches"`
	QualityScore      float64          `json:"quality_score"` // 60-100
	CauseFactor       float64          `json:"cause_factor"`  // 2.0-3.0
	Status            RangeStatus      `json:"status"`
	Phase             string           `json:"phase,omitempty"` // A-E, set by the classifier
	Creek             *CreekLevel      `json:"creek,omitempty"`
	Ice               *IceLevel        `json:"ice,omitempty"`
	Jump              *JumpTarget      `json:"jump,omitempty"`
	Deleted           bool             `json:"-"`
}

// Config holds range detection parameters
type Config struct {
	PivotLookback    int
	ClusterTolerance decimal.Decimal // relative price tolerance for pivot clustering
	TouchTolerance   decimal.Decimal // relative tolerance for level retests
	MinQualityScore  float64
	MinDurationBars  int
	MaxDurationBars  int
}

// DefaultConfig returns the detection defaults
func DefaultConfig() Config {
	return Config{
		PivotLookback:    3,
		ClusterTolerance: decimal.NewFromFloat(0.015),
		TouchTolerance:   decimal.NewFromFloat(0.005),
		MinQualityScore:  60,
		MinDurationBars:  15,
		MaxDurationBars:  100,
	}
}

// Detector finds trading ranges and maintains an index of active ranges
// keyed by symbol and timeframe
type Detector struct {
	cfg    Config
	logger *logging.Logger

	mu    sync.RWMutex
	index map[string][]*TradingRange
}

// NewDetector creates a range detector
func NewDetector(cfg Config) *Detector {
	if cfg.MinQualityScore <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{
		cfg:    cfg,
		logger: logging.WithComponent("range_detector"),
		index:  make(map[string][]*TradingRange),
	}
}

func indexKey(symbol string, tf market.Timeframe) string {
	return fmt.Sprintf("%s|%s", symbol, tf)
}

// Detect runs the pivot-cluster-score pipeline over the bars and returns
// ranges that clear the quality floor. Detected ranges are registered in
// the symbol x timeframe index.
func (d *Detector) Detect(bars []market.OHLCVBar) ([]*TradingRange, error) {
	if len(bars) < d.cfg.MinDurationBars {
		return nil, nil
	}
	symbol, tf := bars[0].Symbol, bars[0].Timeframe

	pivots := DetectPivots(bars, d.cfg.PivotLookback)
	lowClusters := clusterPivots(pivots, PivotLow, d.cfg.ClusterTolerance)
	highClusters := clusterPivots(pivots, PivotHigh, d.cfg.ClusterTolerance)

	if len(lowClusters) == 0 || len(highClusters) == 0 {
		return nil, nil
	}

	supportCluster := dominantCluster(lowClusters)
	resistanceCluster := dominantCluster(highClusters)

	support := clusterMean(supportCluster)
	resistance := clusterMean(resistanceCluster)
	if !support.LessThan(resistance) {
		return nil, nil
	}

	startIdx, endIdx := rangeBounds(supportCluster, resistanceCluster, len(bars))
	duration := endIdx - startIdx + 1
	if duration < d.cfg.MinDurationBars {
		return nil, nil
	}
	if duration > d.cfg.MaxDurationBars {
		startIdx = endIdx - d.cfg.MaxDurationBars + 1
		duration = d.cfg.MaxDurationBars
	}

	tr := &TradingRange{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Timeframe:    tf,
		StartIndex:   startIdx,
		EndIndex:     endIdx,
		StartTime:    bars[startIdx].Timestamp,
		EndTime:      bars[endIdx].Timestamp,
		DurationBars: duration,
		Support:      support,
		Resistance:   resistance,
		CauseFactor:  causeFactor(duration, d.cfg.MinDurationBars, d.cfg.MaxDurationBars),
		Status:       StatusForming,
	}

	d.countTouches(tr, bars)
	tr.QualityScore = d.scoreQuality(tr)

	if tr.QualityScore < d.cfg.MinQualityScore {
		d.logger.Debug("range discarded below quality floor",
			"symbol", symbol, "score", tr.QualityScore, "floor", d.cfg.MinQualityScore)
		return nil, nil
	}

	creek := CreekLevel{
		Price:    lowestPrice(supportCluster),
		Strength: levelStrength(supportCluster, duration),
		Pivots:   pivotIndexes(supportCluster),
	}
	ice := IceLevel{
		Price:    highestPrice(resistanceCluster),
		Strength: levelStrength(resistanceCluster, duration),
		Pivots:   pivotIndexes(resistanceCluster),
	}
	jump := ComputeJump(creek, ice)
	tr.Creek, tr.Ice, tr.Jump = &creek, &ice, &jump

	if tr.SupportTouches >= 2 && tr.ResistanceTouches >= 2 {
		tr.Status = StatusActive
	}

	d.register(tr)
	return []*TradingRange{tr}, nil
}

// countTouches increments touch counts for bars retesting levels within
// tolerance
func (d *Detector) countTouches(tr *TradingRange, bars []market.OHLCVBar) {
	supportBand := tr.Support.Mul(d.cfg.TouchTolerance)
	resistanceBand := tr.Resistance.Mul(d.cfg.TouchTolerance)

	for i := tr.StartIndex; i <= tr.EndIndex && i < len(bars); i++ {
		if bars[i].Low.Sub(tr.Support).Abs().LessThanOrEqual(supportBand) {
			tr.SupportTouches++
		}
		if bars[i].High.Sub(tr.Resistance).Abs().LessThanOrEqual(resistanceBand) {
			tr.ResistanceTouches++
		}
	}
}

// UpdateTouches registers a retest by a later bar against an active range
func (d *Detector) UpdateTouches(tr *TradingRange, bar market.OHLCVBar) {
	supportBand := tr.Support.Mul(d.cfg.TouchTolerance)
	resistanceBand := tr.Resistance.Mul(d.cfg.TouchTolerance)

	if bar.Low.Sub(tr.Support).Abs().LessThanOrEqual(supportBand) {
		tr.SupportTouches++
	}
	if bar.High.Sub(tr.Resistance).Abs().LessThanOrEqual(resistanceBand) {
		tr.ResistanceTouches++
	}
}

// scoreQuality maps touch counts and duration into [60,100]
func (d *Detector) scoreQuality(tr *TradingRange) float64 {
	score := 60.0

	touches := tr.SupportTouches + tr.ResistanceTouches
	switch {
	case touches >= 8:
		score += 20
	case touches >= 5:
		score += 14
	case touches >= 3:
		score += 8
	}

	switch {
	case tr.DurationBars >= 40:
		score += 12
	case tr.DurationBars >= 25:
		score += 8
	case tr.DurationBars >= d.cfg.MinDurationBars:
		score += 4
	}

	// Balanced two-sided testing reads better than one-sided chop
	if tr.SupportTouches >= 2 && tr.ResistanceTouches >= 2 {
		score += 8
	}

	if score > 100 {
		score = 100
	}
	return score
}

func (d *Detector) register(tr *TradingRange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := indexKey(tr.Symbol, tr.Timeframe)
	d.index[key] = append(d.index[key], tr)
}

// ActiveRanges returns non-deleted ranges for a symbol and timeframe
func (d *Detector) ActiveRanges(symbol string, tf market.Timeframe) []*TradingRange {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*TradingRange
	for _, tr := range d.index[indexKey(symbol, tf)] {
		if !tr.Deleted {
			out = append(out, tr)
		}
	}
	return out
}

// SoftDelete keeps the range in the index but excludes it from matching
func (d *Detector) SoftDelete(tr *TradingRange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr.Deleted = true
}

// causeFactor maps range duration into the [2.0,3.0] cause band
func causeFactor(duration, minDur, maxDur int) float64 {
	if maxDur <= minDur {
		return 2.0
	}
	frac := float64(duration-minDur) / float64(maxDur-minDur)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return 2.0 + frac
}

// dominantCluster picks the cluster with the most votes, breaking ties by
// earliest pivot
func dominantCluster(clusters [][]Pivot) []Pivot {
	best := clusters[0]
	for _, c := range clusters[1:] {
		if len(c) > len(best) {
			best = c
		}
	}
	return best
}

func rangeBounds(support, resistance []Pivot, totalBars int) (int, int) {
	start, end := totalBars, 0
	for _, p := range append(append([]Pivot{}, support...), resistance...) {
		if p.Index < start {
			start = p.Index
		}
		if p.Index > end {
			end = p.Index
		}
	}
	if end >= totalBars {
		end = totalBars - 1
	}
	if start < 0 {
		start = 0
	}
	return start, end
}

func lowestPrice(cluster []Pivot) decimal.Decimal {
	low := cluster[0].Price
	for _, p := range cluster[1:] {
		if p.Price.LessThan(low) {
			low = p.Price
		}
	}
	return low
}

func highestPrice(cluster []Pivot) decimal.Decimal {
	high := cluster[0].Price
	for _, p := range cluster[1:] {
		if p.Price.GreaterThan(high) {
			high = p.Price
		}
	}
	return high
}

// levelStrength scores a level 0-100 from its vote count and the span of
// bars it held over
func levelStrength(cluster []Pivot, duration int) float64 {
	strength := 40.0 + 15.0*float64(len(cluster)-1)
	if duration >= 30 {
		strength += 10
	}
	if strength > 100 {
		strength = 100
	}
	return strength
}

func pivotIndexes(cluster []Pivot) []int {
	out := make([]int, len(cluster))
	for i, p := range cluster {
		out[i] = p.Index
	}
	return out
}
