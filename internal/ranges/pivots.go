package ranges

import (
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/market"
)

// PivotKind distinguishes swing highs from swing lows
type PivotKind string

const (
	PivotHigh PivotKind = "HIGH"
	PivotLow  PivotKind = "LOW"
)

// Pivot is a local price extreme
type Pivot struct {
	Index int             `json:"index"`
	Price decimal.Decimal `json:"price"`
	Kind  PivotKind       `json:"kind"`
}

// DetectPivots finds local extremes with the given lookback on both sides.
// A bar is a pivot high when its high exceeds every high within lookback
// bars before and after it; pivot lows mirror that on lows.
func DetectPivots(bars []market.OHLCVBar, lookback int) []Pivot {
	if lookback <= 0 {
		lookback = 3
	}

	var pivots []Pivot
	for i := lookback; i < len(bars)-lookback; i++ {
		isHigh, isLow := true, true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if bars[j].High.GreaterThanOrEqual(bars[i].High) {
				isHigh = false
			}
			if bars[j].Low.LessThanOrEqual(bars[i].Low) {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			pivots = append(pivots, Pivot{Index: i, Price: bars[i].High, Kind: PivotHigh})
		}
		if isLow {
			pivots = append(pivots, Pivot{Index: i, Price: bars[i].Low, Kind: PivotLow})
		}
	}
	return pivots
}

// clusterPivots groups pivots of one kind whose prices fall within tolerance
// of the cluster mean. Returns clusters ordered by first pivot index.
func clusterPivots(pivots []Pivot, kind PivotKind, tolerance decimal.Decimal) [][]Pivot {
	var clusters [][]Pivot

	for _, p := range pivots {
		if p.Kind != kind {
			continue
		}
		placed := false
		for ci, cluster := range clusters {
			mean := clusterMean(cluster)
			if mean.IsZero() {
				continue
			}
			diff := p.Price.Sub(mean).Abs().Div(mean)
			if diff.LessThanOrEqual(tolerance) {
				clusters[ci] = append(cluster, p)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []Pivot{p})
		}
	}
	return clusters
}

func clusterMean(cluster []Pivot) decimal.Decimal {
	if len(cluster) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range cluster {
		sum = sum.Add(p.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(cluster))))
}
