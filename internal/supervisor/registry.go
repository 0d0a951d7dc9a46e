package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RunKind distinguishes the four analysis workloads
type RunKind string

const (
	KindPreview     RunKind = "PREVIEW"
	KindFull        RunKind = "FULL"
	KindWalkForward RunKind = "WALK_FORWARD"
	KindRegression  RunKind = "REGRESSION"
)

// RunStatus is the run lifecycle state. Runs start RUNNING and transition
// exactly once to a terminal status.
type RunStatus string

const (
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusTimeout   RunStatus = "TIMEOUT"
	StatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal reports whether the status is final
func (s RunStatus) IsTerminal() bool { return s != StatusRunning }

// RunRecord is one registry entry
type RunRecord struct {
	RunID     string             `json:"run_id"`
	Kind      RunKind            `json:"kind"`
	Status    RunStatus          `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	Error     string             `json:"error,omitempty"`
	Result    interface{}        `json:"result,omitempty"`
	cancel    context.CancelFunc `json:"-"`
}

// Registry defaults
const (
	DefaultMaxEntries = 1000
	DefaultEntryTTL   = time.Hour
)

// registry is the in-memory run store for one kind. All access is under
// the mutex; reads snapshot records so callers never see partial writes.
type registry struct {
	mu         sync.Mutex
	runs       map[string]*RunRecord
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

func newRegistry(maxEntries int, ttl time.Duration) *registry {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultEntryTTL
	}
	return &registry{
		runs:       make(map[string]*RunRecord),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// insert adds a new RUNNING record after evicting stale entries. Capacity
// is enforced by evicting the oldest non-RUNNING records; RUNNING records
// are never evicted.
func (r *registry) insert(rec *RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupStaleLocked()
	r.runs[rec.RunID] = rec
}

// cleanupStaleLocked removes terminal records past the TTL, then enforces
// the capacity bound on what remains
func (r *registry) cleanupStaleLocked() {
	now := r.now()
	for id, rec := range r.runs {
		if rec.Status.IsTerminal() && now.Sub(rec.CreatedAt) > r.ttl {
			delete(r.runs, id)
		}
	}

	if len(r.runs) < r.maxEntries {
		return
	}
	var evictable []*RunRecord
	for _, rec := range r.runs {
		if rec.Status != StatusRunning {
			evictable = append(evictable, rec)
		}
	}
	sort.Slice(evictable, func(i, j int) bool {
		return evictable[i].CreatedAt.Before(evictable[j].CreatedAt)
	})
	for _, rec := range evictable {
		if len(r.runs) < r.maxEntries {
			break
		}
		delete(r.runs, rec.RunID)
	}
}

// get returns a snapshot of the record
func (r *registry) get(runID string) (RunRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// setTerminal transitions the record once. Later calls are ignored so a
// late timeout cannot overwrite a cancellation.
func (r *registry) setTerminal(runID string, status RunStatus, errMsg string, result interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[runID]
	if !ok || rec.Status.IsTerminal() {
		return false
	}
	rec.Status = status
	rec.Error = errMsg
	rec.Result = result
	return true
}

// countRunning returns the number of RUNNING records
func (r *registry) countRunning() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.runs {
		if rec.Status == StatusRunning {
			n++
		}
	}
	return n
}

// list returns record snapshots, newest first
func (r *registry) list(limit, offset int) []RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RunRecord, 0, len(r.runs))
	for _, rec := range r.runs {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return []RunRecord{}
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// size returns the registry entry count
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
