// Package progress decouples analysis runs from the transport that reports
// their progress. The supervisor publishes through a Sink; WebSocket and
// polling implementations are interchangeable.
package progress

import (
	"sync"
	"time"
)

// Update is one progress sample for a run. Sequence numbers are monotone
// per run so consumers can discard stale updates.
type Update struct {
	RunID           string    `json:"run_id"`
	BarsAnalyzed    int       `json:"bars_analyzed"`
	TotalBars       int       `json:"total_bars"`
	PercentComplete float64   `json:"percent_complete"`
	Sequence        int64     `json:"sequence"`
	Timestamp       time.Time `json:"timestamp"`
}

// Sink receives progress updates
type Sink interface {
	Publish(update Update)
}

// MultiSink fans one update out to several sinks
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish forwards the update to every sink
func (m *MultiSink) Publish(update Update) {
	for _, s := range m.sinks {
		s.Publish(update)
	}
}

// SnapshotStore keeps the latest update per run for REST polling clients
type SnapshotStore struct {
	mu      sync.RWMutex
	updates map[string]Update
}

// NewSnapshotStore creates an empty snapshot store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{updates: make(map[string]Update)}
}

// Publish stores the update if its sequence is newer than the stored one
func (s *SnapshotStore) Publish(update Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.updates[update.RunID]; ok && prev.Sequence >= update.Sequence {
		return
	}
	s.updates[update.RunID] = update
}

// Get returns the latest update for a run
func (s *SnapshotStore) Get(runID string) (Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.updates[runID]
	return u, ok
}

// Remove drops a run's snapshot, called when the run is evicted
func (s *SnapshotStore) Remove(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.updates, runID)
}

// Tracker produces monotone-sequenced updates for one run and forwards
// them to a sink
type Tracker struct {
	runID     string
	totalBars int
	sink      Sink
	seq       int64
	mu        sync.Mutex
}

// NewTracker creates a tracker bound to one run
func NewTracker(runID string, totalBars int, sink Sink) *Tracker {
	return &Tracker{runID: runID, totalBars: totalBars, sink: sink}
}

// Report publishes a progress sample
func (t *Tracker) Report(barsAnalyzed, totalBars int) {
	if t.sink == nil {
		return
	}
	t.mu.Lock()
	t.seq++
	seq := t.seq
	if totalBars > 0 {
		t.totalBars = totalBars
	}
	total := t.totalBars
	t.mu.Unlock()

	pct := 0.0
	if total > 0 {
		pct = float64(barsAnalyzed) / float64(total) * 100
	}
	t.sink.Publish(Update{
		RunID:           t.runID,
		BarsAnalyzed:    barsAnalyzed,
		TotalBars:       total,
		PercentComplete: pct,
		Sequence:        seq,
		Timestamp:       time.Now().UTC(),
	})
}
