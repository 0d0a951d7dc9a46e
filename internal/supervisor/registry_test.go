package supervisor

import (
	"fmt"
	"testing"
	"time"
)

var registryEpoch = time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)

// testRegistry returns a registry with a controllable clock
func testRegistry(maxEntries int, ttl time.Duration) (*registry, *time.Time) {
	r := newRegistry(maxEntries, ttl)
	clock := new(time.Time)
	*clock = registryEpoch
	r.now = func() time.Time { return *clock }
	return r, clock
}

// insertAt adds a record created at the given instant. A terminal status is
// applied after insertion, the same order the supervisor produces.
func insertAt(r *registry, id string, status RunStatus, at time.Time) {
	r.insert(&RunRecord{RunID: id, Kind: KindFull, Status: StatusRunning, CreatedAt: at})
	if status != StatusRunning {
		r.setTerminal(id, status, "", nil)
	}
}

// TestRegistryTTLSweep fills a three-entry registry with terminal runs,
// then inserts two hours later. The sweep clears everything past the TTL
// before the new record lands.
func TestRegistryTTLSweep(t *testing.T) {
	r, clock := testRegistry(3, time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		insertAt(r, id, StatusCompleted, registryEpoch.Add(time.Duration(i)*time.Minute))
	}
	if r.size() != 3 {
		t.Fatalf("size = %d after three inserts, want 3", r.size())
	}

	*clock = registryEpoch.Add(2 * time.Hour)
	insertAt(r, "d", StatusRunning, *clock)

	if r.size() != 1 {
		t.Fatalf("size = %d after TTL sweep, want 1", r.size())
	}
	if _, ok := r.get("d"); !ok {
		t.Error("new record missing after sweep")
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := r.get(id); ok {
			t.Errorf("record %s survived past its TTL", id)
		}
	}
}

// TestRegistryCapacityEvictsOldestTerminal keeps every record inside the
// TTL so eviction falls through to the capacity bound, which removes the
// oldest terminal entries first
func TestRegistryCapacityEvictsOldestTerminal(t *testing.T) {
	r, clock := testRegistry(3, 24*time.Hour)

	insertAt(r, "old", StatusCompleted, registryEpoch)
	insertAt(r, "mid", StatusFailed, registryEpoch.Add(time.Minute))
	insertAt(r, "new", StatusCompleted, registryEpoch.Add(2*time.Minute))

	*clock = registryEpoch.Add(3 * time.Minute)
	insertAt(r, "next", StatusRunning, *clock)

	if r.size() != 3 {
		t.Fatalf("size = %d, want 3 at capacity", r.size())
	}
	if _, ok := r.get("old"); ok {
		t.Error("oldest terminal record should have been evicted")
	}
	for _, id := range []string{"mid", "new", "next"} {
		if _, ok := r.get(id); !ok {
			t.Errorf("record %s missing, want it kept", id)
		}
	}
}

// TestRegistryNeverEvictsRunning overfills a registry with RUNNING records.
// Capacity may be exceeded but live work is never dropped.
func TestRegistryNeverEvictsRunning(t *testing.T) {
	r, clock := testRegistry(2, time.Hour)

	insertAt(r, "run-1", StatusRunning, registryEpoch)
	insertAt(r, "run-2", StatusRunning, registryEpoch.Add(time.Minute))

	*clock = registryEpoch.Add(2 * time.Minute)
	insertAt(r, "run-3", StatusRunning, *clock)

	if r.size() != 3 {
		t.Fatalf("size = %d, want 3: RUNNING records are never evicted", r.size())
	}
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if _, ok := r.get(id); !ok {
			t.Errorf("running record %s was evicted", id)
		}
	}

	// Once they finish, the next insert trims back to capacity
	r.setTerminal("run-1", StatusCompleted, "", nil)
	r.setTerminal("run-2", StatusCancelled, "", nil)
	*clock = registryEpoch.Add(3 * time.Minute)
	insertAt(r, "run-4", StatusRunning, *clock)

	if r.size() != 2 {
		t.Errorf("size = %d after terminal records became evictable, want 2", r.size())
	}
	if _, ok := r.get("run-1"); ok {
		t.Error("oldest terminal record should have been evicted first")
	}
}

// TestSetTerminalOnce verifies the first terminal transition wins and later
// ones are ignored, so a late timeout cannot overwrite a cancellation
func TestSetTerminalOnce(t *testing.T) {
	r, _ := testRegistry(10, time.Hour)
	insertAt(r, "run", StatusRunning, registryEpoch)

	if !r.setTerminal("run", StatusCancelled, "", nil) {
		t.Fatal("first terminal transition rejected")
	}
	if r.setTerminal("run", StatusTimeout, "deadline exceeded", nil) {
		t.Error("second terminal transition accepted, want ignored")
	}

	rec, _ := r.get("run")
	if rec.Status != StatusCancelled {
		t.Errorf("status = %s, want CANCELLED preserved", rec.Status)
	}
	if rec.Error != "" {
		t.Errorf("error = %q, want empty from the first transition", rec.Error)
	}

	if r.setTerminal("missing", StatusFailed, "x", nil) {
		t.Error("terminal transition on unknown id accepted")
	}
}

func TestRegistryGetReturnsSnapshot(t *testing.T) {
	r, _ := testRegistry(10, time.Hour)
	insertAt(r, "run", StatusRunning, registryEpoch)

	snap, ok := r.get("run")
	if !ok {
		t.Fatal("get failed")
	}
	snap.Status = StatusFailed

	rec, _ := r.get("run")
	if rec.Status != StatusRunning {
		t.Error("mutating a snapshot leaked into the registry")
	}
}

func TestRegistryListNewestFirstWithPaging(t *testing.T) {
	r, _ := testRegistry(10, time.Hour)
	for i := 0; i < 5; i++ {
		insertAt(r, fmt.Sprintf("run-%d", i), StatusCompleted, registryEpoch.Add(time.Duration(i)*time.Minute))
	}

	page := r.list(2, 0)
	if len(page) != 2 || page[0].RunID != "run-4" || page[1].RunID != "run-3" {
		t.Errorf("first page = %v, want [run-4 run-3]", runIDs(page))
	}

	page = r.list(2, 2)
	if len(page) != 2 || page[0].RunID != "run-2" || page[1].RunID != "run-1" {
		t.Errorf("second page = %v, want [run-2 run-1]", runIDs(page))
	}

	if page = r.list(10, 99); len(page) != 0 {
		t.Errorf("offset past the end returned %d records, want 0", len(page))
	}

	if page = r.list(0, 0); len(page) != 5 {
		t.Errorf("unlimited list returned %d records, want 5", len(page))
	}
}

func TestRegistryCountRunning(t *testing.T) {
	r, _ := testRegistry(10, time.Hour)
	insertAt(r, "a", StatusRunning, registryEpoch)
	insertAt(r, "b", StatusRunning, registryEpoch.Add(time.Minute))
	insertAt(r, "c", StatusCompleted, registryEpoch.Add(2*time.Minute))

	if got := r.countRunning(); got != 2 {
		t.Errorf("countRunning = %d, want 2", got)
	}
	r.setTerminal("a", StatusFailed, "boom", nil)
	if got := r.countRunning(); got != 1 {
		t.Errorf("countRunning = %d after one finished, want 1", got)
	}
}

func runIDs(recs []RunRecord) []string {
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.RunID
	}
	return ids
}
