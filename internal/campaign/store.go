package campaign

import (
	"sync"
)

// Store is the indexed campaign collection: a primary map keyed by id, a
// state index, and an insertion-ordered id list. All three are mutated
// as a unit under one lock. Reads return snapshots so callers never hold
// references into the indexed structures.
type Store struct {
	mu             sync.RWMutex
	campaignsByID  map[string]*Campaign
	campaignsState map[string]map[string]struct{}
	activeOrder    []string // campaign ids in insertion order
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		campaignsByID:  make(map[string]*Campaign),
		campaignsState: make(map[string]map[string]struct{}),
	}
}

// Add inserts a new campaign into all three indexes
func (s *Store) Add(c *Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaignsByID[c.ID] = c
	s.indexState(c.ID, c.State)
	s.activeOrder = append(s.activeOrder, c.ID)
}

// UpdateState moves a campaign between state index buckets. The primary map
// entry is mutated in place so the three indexes never disagree.
func (s *Store) UpdateState(id, newState string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaignsByID[id]
	if !ok {
		return false
	}
	s.unindexState(id, c.State)
	c.State = newState
	s.indexState(id, newState)
	return true
}

// Mutate applies fn to the campaign under the store lock, then re-indexes
// if fn changed the state
func (s *Store) Mutate(id string, fn func(*Campaign)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaignsByID[id]
	if !ok {
		return false
	}
	before := c.State
	fn(c)
	if c.State != before {
		s.unindexState(id, before)
		s.indexState(id, c.State)
	}
	return true
}

// Get returns a shallow copy of the campaign, or nil
func (s *Store) Get(id string) *Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaignsByID[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Remove deletes a campaign from all indexes
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaignsByID[id]
	if !ok {
		return false
	}
	s.unindexState(id, c.State)
	delete(s.campaignsByID, id)
	for i, aid := range s.activeOrder {
		if aid == id {
			s.activeOrder = append(s.activeOrder[:i], s.activeOrder[i+1:]...)
			break
		}
	}
	return true
}

// ActiveCampaigns returns snapshots of ACTIVE campaigns in insertion order,
// filtering through the state index
func (s *Store) ActiveCampaigns() []*Campaign {
	return s.inOrderByState(StateActive)
}

// InState returns snapshots of campaigns in the given state, insertion ordered
func (s *Store) InState(state string) []*Campaign {
	return s.inOrderByState(state)
}

func (s *Store) inOrderByState(state string) []*Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.campaignsState[state]
	out := make([]*Campaign, 0, len(ids))
	for _, id := range s.activeOrder {
		if _, ok := ids[id]; !ok {
			continue
		}
		cp := *s.campaignsByID[id]
		out = append(out, &cp)
	}
	return out
}

// All returns snapshots of every campaign in insertion order
func (s *Store) All() []*Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Campaign, 0, len(s.campaignsByID))
	for _, id := range s.activeOrder {
		if c, ok := s.campaignsByID[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// ForSymbol returns snapshots of campaigns on one symbol in insertion order
func (s *Store) ForSymbol(symbol string) []*Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Campaign
	for _, id := range s.activeOrder {
		if c, ok := s.campaignsByID[id]; ok && c.Symbol == symbol {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// Len returns the number of stored campaigns
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.campaignsByID)
}

// RebuildIndexes reconstructs the state index and insertion order from the
// primary map. Recovery path for any detected divergence; insertion order
// falls back to start-time order.
func (s *Store) RebuildIndexes() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.campaignsState = make(map[string]map[string]struct{})
	order := make([]string, 0, len(s.campaignsByID))
	for id, c := range s.campaignsByID {
		s.indexState(id, c.State)
		order = append(order, id)
	}
	// Stable order by start time, then id
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			a, b := s.campaignsByID[order[j-1]], s.campaignsByID[order[j]]
			if a.StartTime.Before(b.StartTime) ||
				(a.StartTime.Equal(b.StartTime) && a.ID < b.ID) {
				break
			}
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
	s.activeOrder = order
}

// CheckIndexes verifies the primary map and state index are in bijection.
// Returns false when they have diverged and a rebuild is needed.
func (s *Store) CheckIndexes() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexed := 0
	for state, ids := range s.campaignsState {
		indexed += len(ids)
		for id := range ids {
			c, ok := s.campaignsByID[id]
			if !ok || c.State != state {
				return false
			}
		}
	}
	return indexed == len(s.campaignsByID)
}

func (s *Store) indexState(id, state string) {
	bucket, ok := s.campaignsState[state]
	if !ok {
		bucket = make(map[string]struct{})
		s.campaignsState[state] = bucket
	}
	bucket[id] = struct{}{}
}

func (s *Store) unindexState(id, state string) {
	if bucket, ok := s.campaignsState[state]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(s.campaignsState, state)
		}
	}
}
