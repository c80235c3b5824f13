package store

import (
	"sync"

	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// NewestCap bounds how many of the most recent calls carry the pulse
// decoration on the map.
const NewestCap = 3

// Record is one tracked call plus the marker state derived from it. The
// marker never outlives its call; both live and die together here.
type Record struct {
	Call    core.Call
	Visible bool
	Pulse   bool
}

// Listener receives store mutations so the map surface can mirror them.
// All callbacks are invoked with the store lock held; implementations must
// not call back into the store.
type Listener interface {
	CallAdded(Record)
	CallUpdated(Record)
	CallRemoved(id int64)
	VisibilityChanged(id int64, visible bool)
	PulseChanged(id int64, pulse bool)
}

// Stats is the debounced summary recomputed after mutation bursts.
type Stats struct {
	Total      int
	Visible    int
	Categories map[string]int
}

// Store is the authoritative client-side map of call id to record. It is
// the single mutable shared resource of the sync engine: every mutation
// (insert, remove, purge, undo, full reload) funnels through its lock so
// none can interleave mid-update.
type Store struct {
	mu       sync.RWMutex
	records  map[int64]*Record
	order    []int64 // insertion order, most recent last; pruned on removal
	listener Listener

	// statsCh coalesces recompute requests from a mutation burst into a
	// single pass at the end.
	statsCh chan struct{}
	done    chan struct{}
	onStats func(Stats)
}

// New creates an empty store. onStats may be nil; listener may be nil.
func New(listener Listener, onStats func(Stats)) *Store {
	s := &Store{
		records:  make(map[int64]*Record),
		listener: listener,
		statsCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		onStats:  onStats,
	}
	registerMetrics(s)
	go s.statsLoop()
	return s
}

// Close stops the stats goroutine.
func (s *Store) Close() {
	close(s.done)
}

// Upsert inserts a call. It is a no-op for an id already present: the first
// write wins when the same call arrives via both push and REST. Invalid
// calls are rejected and never inserted.
func (s *Store) Upsert(call core.Call) (bool, error) {
	if err := call.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[call.ID]; exists {
		return false, nil
	}

	rec := &Record{Call: call}
	s.records[call.ID] = rec
	s.pushNewest(call.ID)

	if s.listener != nil {
		s.listener.CallAdded(*rec)
	}
	s.scheduleStats()
	return true, nil
}

// Update replaces a call's payload in place, preserving marker state. Used
// by the reconciler when a pending transcription resolves and by manual
// location corrections.
func (s *Store) Update(call core.Call) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[call.ID]
	if !ok {
		return false
	}
	rec.Call = call
	if s.listener != nil {
		s.listener.CallUpdated(*rec)
	}
	s.scheduleStats()
	return true
}

// Remove deletes a call and its marker. Returns the removed record.
func (s *Store) Remove(id int64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id int64) (Record, bool) {
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	delete(s.records, id)
	s.dropNewest(id)

	if s.listener != nil {
		s.listener.CallRemoved(id)
	}
	s.scheduleStats()
	return *rec, true
}

// Clear removes every record.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) clearLocked() {
	if s.listener != nil {
		for id := range s.records {
			s.listener.CallRemoved(id)
		}
	}
	s.records = make(map[int64]*Record)
	s.order = s.order[:0]
	s.scheduleStats()
}

// Get returns the record for a call id.
func (s *Store) Get(id int64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ForEach calls fn with a copy of every record. Iteration order is
// unspecified.
func (s *Store) ForEach(fn func(Record)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		fn(*rec)
	}
}

// Len returns the number of tracked calls.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// VisibleCount returns how many markers are currently rendered.
func (s *Store) VisibleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.records {
		if rec.Visible {
			count++
		}
	}
	return count
}

// SetVisible flips a marker's rendered state. Returns true when the state
// actually changed.
func (s *Store) SetVisible(id int64, visible bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Visible == visible {
		return false
	}
	rec.Visible = visible
	if s.listener != nil {
		s.listener.VisibilityChanged(id, visible)
	}
	s.scheduleStats()
	return true
}

// Newest returns the ids of the most recently inserted calls still tracked,
// oldest first, at most NewestCap of them.
func (s *Store) Newest() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.order) - NewestCap
	if start < 0 {
		start = 0
	}
	out := make([]int64, len(s.order)-start)
	copy(out, s.order[start:])
	return out
}

// RemoveMatching deletes every call the criteria selects and returns their
// full payloads, all under one lock so a concurrent reload cannot observe a
// half-purged store.
func (s *Store) RemoveMatching(criteria core.PurgeCriteria) []core.Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []core.Call
	for id, rec := range s.records {
		if criteria.Matches(rec.Call) {
			removed = append(removed, rec.Call)
			_, _ = s.removeLocked(id)
		}
	}
	return removed
}

// RestoreAll re-inserts previously removed calls, skipping ids that
// reappeared in the meantime. Used by purge undo.
func (s *Store) RestoreAll(calls []core.Call) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, call := range calls {
		if _, exists := s.records[call.ID]; exists {
			continue
		}
		rec := &Record{Call: call}
		s.records[call.ID] = rec
		if s.listener != nil {
			s.listener.CallAdded(*rec)
		}
		restored++
	}
	s.scheduleStats()
	return restored
}

// ReplaceAll atomically rebuilds the store from a fresh REST snapshot.
// Invalid calls in the snapshot are skipped.
func (s *Store) ReplaceAll(calls []core.Call) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	inserted := 0
	for _, call := range calls {
		if call.Validate() != nil {
			continue
		}
		if _, exists := s.records[call.ID]; exists {
			continue
		}
		rec := &Record{Call: call}
		s.records[call.ID] = rec
		s.pushNewest(call.ID)
		if s.listener != nil {
			s.listener.CallAdded(*rec)
		}
		inserted++
	}
	s.scheduleStats()
	return inserted
}

// pushNewest records an insertion. The id that falls out of the newest-set
// loses its decoration before the new one gains it.
func (s *Store) pushNewest(id int64) {
	if len(s.order) >= NewestCap {
		s.setPulseLocked(s.order[len(s.order)-NewestCap], false)
	}
	s.order = append(s.order, id)
	s.setPulseLocked(id, true)
}

// dropNewest prunes a removed id from the insertion order. When the id was
// part of the newest-set, the next most recent surviving id takes its place
// so the set stays at NewestCap while enough calls remain.
func (s *Store) dropNewest(id int64) {
	idx := -1
	for i, n := range s.order {
		if n == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	wasNewest := idx >= len(s.order)-NewestCap
	s.order = append(s.order[:idx], s.order[idx+1:]...)
	if wasNewest && len(s.order) >= NewestCap {
		s.setPulseLocked(s.order[len(s.order)-NewestCap], true)
	}
}

func (s *Store) setPulseLocked(id int64, pulse bool) {
	rec, ok := s.records[id]
	if !ok || rec.Pulse == pulse {
		return
	}
	rec.Pulse = pulse
	if s.listener != nil {
		s.listener.PulseChanged(id, pulse)
	}
}

// ClearPulse removes the pulse decoration from a call, e.g. when the
// sweeper hides it.
func (s *Store) ClearPulse(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || !rec.Pulse {
		return
	}
	rec.Pulse = false
	if s.listener != nil {
		s.listener.PulseChanged(id, false)
	}
}

// scheduleStats coalesces recompute requests; callers hold the lock.
func (s *Store) scheduleStats() {
	select {
	case s.statsCh <- struct{}{}:
	default:
	}
}

func (s *Store) statsLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.statsCh:
			s.RecomputeStats()
		}
	}
}

// RecomputeStats recomputes category and visibility counts and delivers
// them to the stats callback. Exposed so tests and the monitor can force a
// synchronous pass.
func (s *Store) RecomputeStats() Stats {
	s.mu.RLock()
	stats := Stats{
		Total:      len(s.records),
		Categories: make(map[string]int),
	}
	for _, rec := range s.records {
		stats.Categories[rec.Call.NormalizedCategory()]++
		if rec.Visible {
			stats.Visible++
		}
	}
	s.mu.RUnlock()

	if s.onStats != nil {
		s.onStats(stats)
	}
	return stats
}
