package analysis

import (
	"wyckoff-trading-platform/internal/market"
)

// Analyzer produces index-aligned per-bar volume metrics. VolumeAnalyzer
// and SessionRelativeVolumeAnalyzer both satisfy it.
type Analyzer interface {
	Analyze(bars []market.OHLCVBar) ([]VolumeAnalysis, error)
}

// VolumeCache provides O(1) lookup of per-bar volume metrics by timestamp.
// A cache is owned by a single detection pass; re-slicing the input bars
// requires Invalidate followed by a rebuild.
type VolumeCache struct {
	byTimestamp map[int64]*VolumeAnalysis
	byIndex     []VolumeAnalysis
}

// BuildVolumeCache runs the analyzer once and indexes the results
func BuildVolumeCache(analyzer Analyzer, bars []market.OHLCVBar) (*VolumeCache, error) {
	analyses, err := analyzer.Analyze(bars)
	if err != nil {
		return nil, err
	}

	c := &VolumeCache{
		byTimestamp: make(map[int64]*VolumeAnalysis, len(analyses)),
		byIndex:     analyses,
	}
	for i := range analyses {
		c.byTimestamp[analyses[i].Timestamp.UnixNano()] = &c.byIndex[i]
	}
	return c, nil
}

// At returns the analysis for a bar index
func (c *VolumeCache) At(index int) (*VolumeAnalysis, bool) {
	if c == nil || index < 0 || index >= len(c.byIndex) {
		return nil, false
	}
	return &c.byIndex[index], true
}

// ByTimestamp returns the analysis for a bar timestamp
func (c *VolumeCache) ByTimestamp(unixNano int64) (*VolumeAnalysis, bool) {
	if c == nil {
		return nil, false
	}
	a, ok := c.byTimestamp[unixNano]
	return a, ok
}

// Len returns the number of cached analyses
func (c *VolumeCache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byIndex)
}

// Invalidate clears the cache. Required whenever the input bar slice is
// re-sliced between passes.
func (c *VolumeCache) Invalidate() {
	c.byTimestamp = make(map[int64]*VolumeAnalysis)
	c.byIndex = nil
}
