package purge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/poisonednumber/scanner-map-client/internal/store"
	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// ErrNothingToPurge is returned when the estimate comes back zero; the
// backend is never asked to delete an empty set.
var ErrNothingToPurge = errors.New("no calls match the purge criteria")

// ErrNoUndo is returned when Undo runs without a prior purge to revert.
var ErrNoUndo = errors.New("no purge to undo")

// BackendAPI is the slice of the REST client the manager needs.
type BackendAPI interface {
	PurgeCount(ctx context.Context, criteria core.PurgeCriteria) (int, error)
	Purge(ctx context.Context, criteria core.PurgeCriteria) (int, error)
	CanUndoPurge(ctx context.Context) (bool, error)
	UndoLastPurge(ctx context.Context) error
	CallsWindow(ctx context.Context, hours int) ([]core.Call, error)
}

// Watcher cancels pending-transcription watches for calls leaving the map.
type Watcher interface {
	Cancel(id int64)
}

// SnapshotStore persists the undo snapshot across restarts. Optional; a
// nil store keeps the snapshot purely in memory.
type SnapshotStore interface {
	SaveSnapshot(snap core.PurgeSnapshot) error
	LoadSnapshot() (core.PurgeSnapshot, bool, error)
	ClearSnapshot() error
}

// Refresher re-evaluates visibility after the call set changes wholesale.
type Refresher interface {
	Apply() int
}

// Manager owns bulk deletion, its single-level undo, and full reloads.
// One mutex serializes all three; a reload landing mid-purge would tear
// the snapshot out from under the undo.
type Manager struct {
	api      BackendAPI
	store    *store.Store
	watcher  Watcher
	snaps    SnapshotStore
	refresh  Refresher
	logger   *slog.Logger
	estimate singleflight.Group

	mu chan struct{} // acquired by Execute, Undo and Reload

	snapMu   sync.Mutex // guards snapshot; CanUndo reads it without mu
	snapshot *core.PurgeSnapshot
}

// NewManager creates the purge manager. watcher, snaps and refresh may be
// nil when the corresponding concern is not wired.
func NewManager(api BackendAPI, st *store.Store, watcher Watcher, snaps SnapshotStore, refresh Refresher, logger *slog.Logger) *Manager {
	m := &Manager{
		api:     api,
		store:   st,
		watcher: watcher,
		snaps:   snaps,
		refresh: refresh,
		logger:  logger,
		mu:      make(chan struct{}, 1),
	}
	m.restoreSnapshot()
	return m
}

// restoreSnapshot loads a persisted undo snapshot from a previous session.
func (m *Manager) restoreSnapshot() {
	if m.snaps == nil {
		return
	}
	snap, ok, err := m.snaps.LoadSnapshot()
	if err != nil {
		m.logger.Warn("loading persisted purge snapshot failed", "error", err)
		return
	}
	if ok {
		m.setSnapshot(&snap)
		m.logger.Info("restored purge snapshot", "calls", len(snap.Calls), "takenAt", snap.TakenAt)
	}
}

func (m *Manager) setSnapshot(snap *core.PurgeSnapshot) {
	m.snapMu.Lock()
	m.snapshot = snap
	m.snapMu.Unlock()
}

func (m *Manager) getSnapshot() *core.PurgeSnapshot {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	return m.snapshot
}

func (m *Manager) lock(ctx context.Context) error {
	select {
	case m.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlock() { <-m.mu }

// Estimate returns how many calls the criteria would delete. Identical
// concurrent estimates collapse into one backend request.
func (m *Manager) Estimate(ctx context.Context, criteria core.PurgeCriteria) (int, error) {
	v, err, _ := m.estimate.Do(criteria.Key(), func() (any, error) {
		return m.api.PurgeCount(ctx, criteria)
	})
	if err != nil {
		return 0, fmt.Errorf("estimating purge: %w", err)
	}
	return v.(int), nil
}

// Execute deletes every call matching the criteria, on the backend and
// locally, and captures the removed set for a single Undo. A zero
// estimate short-circuits with ErrNothingToPurge before any deletion.
func (m *Manager) Execute(ctx context.Context, criteria core.PurgeCriteria) (int, error) {
	if err := m.lock(ctx); err != nil {
		return 0, err
	}
	defer m.unlock()

	count, err := m.Estimate(ctx, criteria)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, ErrNothingToPurge
	}

	deleted, err := m.api.Purge(ctx, criteria)
	if err != nil {
		return 0, fmt.Errorf("executing purge: %w", err)
	}

	removed := m.store.RemoveMatching(criteria)
	for _, call := range removed {
		if m.watcher != nil {
			m.watcher.Cancel(call.ID)
		}
	}

	snap := core.PurgeSnapshot{
		Criteria: criteria,
		Calls:    removed,
		TakenAt:  time.Now(),
	}
	m.setSnapshot(&snap)
	if m.snaps != nil {
		if err := m.snaps.SaveSnapshot(snap); err != nil {
			m.logger.Warn("persisting purge snapshot failed", "error", err)
		}
	}

	m.logger.Info("purge executed", "backendDeleted", deleted, "localRemoved", len(removed))
	if m.refresh != nil {
		m.refresh.Apply()
	}
	return deleted, nil
}

// CanUndo reports whether an undo is possible, consulting the backend and
// the local snapshot.
func (m *Manager) CanUndo(ctx context.Context) bool {
	if m.getSnapshot() == nil {
		return false
	}
	ok, err := m.api.CanUndoPurge(ctx)
	if err != nil {
		m.logger.Warn("undo availability check failed", "error", err)
		return false
	}
	return ok
}

// Undo restores the last purge: the backend reinstates its rows and the
// snapshot's calls go back into the local set. The snapshot is consumed;
// a second Undo returns ErrNoUndo.
func (m *Manager) Undo(ctx context.Context) (int, error) {
	if err := m.lock(ctx); err != nil {
		return 0, err
	}
	defer m.unlock()

	snap := m.getSnapshot()
	if snap == nil {
		return 0, ErrNoUndo
	}
	if err := m.api.UndoLastPurge(ctx); err != nil {
		return 0, fmt.Errorf("undoing purge on backend: %w", err)
	}

	restored := m.store.RestoreAll(snap.Calls)
	m.setSnapshot(nil)
	if m.snaps != nil {
		if err := m.snaps.ClearSnapshot(); err != nil {
			m.logger.Warn("clearing purge snapshot failed", "error", err)
		}
	}

	m.logger.Info("purge undone", "restored", restored)
	if m.refresh != nil {
		m.refresh.Apply()
	}
	return restored, nil
}

// Reload replaces the entire local call set with a fresh window fetch.
// It shares the mutex with Execute and Undo so a reload never interleaves
// with a purge in flight.
func (m *Manager) Reload(ctx context.Context, hours int) (int, error) {
	if err := m.lock(ctx); err != nil {
		return 0, err
	}
	defer m.unlock()

	calls, err := m.api.CallsWindow(ctx, hours)
	if err != nil {
		return 0, fmt.Errorf("reloading call window: %w", err)
	}

	n := m.store.ReplaceAll(calls)
	m.logger.Info("call window reloaded", "hours", hours, "calls", n)
	if m.refresh != nil {
		m.refresh.Apply()
	}
	return n, nil
}
