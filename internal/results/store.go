package results

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// view is the immutable state readers load with one atomic read.
type view struct {
	current *Snapshot
	byCycle map[int]*Snapshot
}

// Store holds the live result sets. Readers never block and never see a
// partially applied publish: every publish builds a new view and swaps the
// pointer in a single atomic store.
type Store struct {
	state atomic.Pointer[view]
	swaps atomic.Int64
	// writeMu serializes publishers so two swaps cannot lose each other's cycles.
	writeMu sync.Mutex
	hub     *Hub
}

// NewStore creates an empty store. hub may be nil.
func NewStore(hub *Hub) *Store {
	s := &Store{hub: hub}
	s.state.Store(&view{byCycle: map[int]*Snapshot{}})
	return s
}

// Current returns the most recently completed result set, or nil.
func (s *Store) Current() *Snapshot {
	return s.state.Load().current
}

// ForCycle returns the live result set for one cycle, or nil.
func (s *Store) ForCycle(cycle int) *Snapshot {
	return s.state.Load().byCycle[cycle]
}

// Cycles lists cycles with a live result set, ascending.
func (s *Store) Cycles() []int {
	v := s.state.Load()
	out := make([]int, 0, len(v.byCycle))
	for cycle := range v.byCycle {
		out = append(out, cycle)
	}
	sort.Ints(out)
	return out
}

// Swaps counts publishes that changed the store.
func (s *Store) Swaps() int64 {
	return s.swaps.Load()
}

// Publish installs snap as its cycle's live result set and broadcasts an
// event. Republishing the live run, or a run older than the live one for the
// same cycle, is ignored and reports false.
func (s *Store) Publish(snap *Snapshot) bool {
	if snap == nil {
		return false
	}
	s.writeMu.Lock()
	old := s.state.Load()
	if existing := old.byCycle[snap.CycleYear]; existing != nil {
		if existing.RunID == snap.RunID || snap.CompletedAt.Before(existing.CompletedAt) {
			s.writeMu.Unlock()
			return false
		}
	}
	next := &view{byCycle: make(map[int]*Snapshot, len(old.byCycle)+1), current: old.current}
	for cycle, existing := range old.byCycle {
		next.byCycle[cycle] = existing
	}
	next.byCycle[snap.CycleYear] = snap
	if next.current == nil || !snap.CompletedAt.Before(next.current.CompletedAt) {
		next.current = snap
	}
	s.state.Store(next)
	s.swaps.Add(1)
	s.writeMu.Unlock()

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:        EventResultPublished,
			RunID:       snap.RunID,
			CycleYear:   snap.CycleYear,
			PublishedAt: time.Now().UTC(),
		})
	}
	return true
}
