package purge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poisonednumber/scanner-map-client/internal/store"
	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

type fakeBackend struct {
	mu          sync.Mutex
	count       int
	countErr    error
	purgeErr    error
	undoErr     error
	canUndo     bool
	window      []core.Call
	purgeCalls  int
	undoCalls   int
	windowCalls int
}

func (f *fakeBackend) PurgeCount(ctx context.Context, criteria core.PurgeCriteria) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.countErr
}

func (f *fakeBackend) Purge(ctx context.Context, criteria core.PurgeCriteria) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeCalls++
	if f.purgeErr != nil {
		return 0, f.purgeErr
	}
	f.canUndo = true
	return f.count, nil
}

func (f *fakeBackend) CanUndoPurge(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canUndo, nil
}

func (f *fakeBackend) UndoLastPurge(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.undoCalls++
	if f.undoErr == nil {
		f.canUndo = false
	}
	return f.undoErr
}

func (f *fakeBackend) CallsWindow(ctx context.Context, hours int) ([]core.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowCalls++
	return f.window, nil
}

type fakeWatcher struct {
	mu        sync.Mutex
	cancelled []int64
}

func (f *fakeWatcher) Cancel(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
}

type memSnaps struct {
	snap  *core.PurgeSnapshot
	saves int
}

func (m *memSnaps) SaveSnapshot(snap core.PurgeSnapshot) error {
	m.snap = &snap
	m.saves++
	return nil
}

func (m *memSnaps) LoadSnapshot() (core.PurgeSnapshot, bool, error) {
	if m.snap == nil {
		return core.PurgeSnapshot{}, false, nil
	}
	return *m.snap, true, nil
}

func (m *memSnaps) ClearSnapshot() error {
	m.snap = nil
	return nil
}

type countRefresh struct {
	mu sync.Mutex
	n  int
}

func (c *countRefresh) Apply() int {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return 0
}

func purgeCall(id, tg int64, category string) core.Call {
	return core.Call{
		ID:            id,
		Timestamp:     1700000000 + id,
		TalkgroupID:   tg,
		Category:      category,
		Lat:           29.7,
		Lon:           -95.3,
		Transcription: "copy that",
		AudioPath:     "audio/p.mp3",
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(nil, nil)
	t.Cleanup(st.Close)
	for _, c := range []core.Call{
		purgeCall(1, 100, "FIRE"),
		purgeCall(2, 100, "FIRE"),
		purgeCall(3, 200, "EMS"),
	} {
		_, err := st.Upsert(c)
		require.NoError(t, err)
	}
	return st
}

func TestExecuteThenUndoRoundTrip(t *testing.T) {
	st := seedStore(t)
	backend := &fakeBackend{count: 2}
	watcher := &fakeWatcher{}
	snaps := &memSnaps{}
	refresh := &countRefresh{}
	m := NewManager(backend, st, watcher, snaps, refresh, quietLogger())

	criteria := core.PurgeCriteria{TalkgroupIDs: []int64{100}}
	deleted, err := m.Execute(context.Background(), criteria)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 1, st.Len())
	_, ok := st.Get(3)
	assert.True(t, ok, "non-matching call survives")

	watcher.mu.Lock()
	assert.ElementsMatch(t, []int64{1, 2}, watcher.cancelled)
	watcher.mu.Unlock()

	assert.True(t, m.CanUndo(context.Background()))

	restored, err := m.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
	assert.Equal(t, 3, st.Len())
	assert.Nil(t, snaps.snap, "snapshot consumed by undo")
}

func TestExecuteZeroEstimateShortCircuits(t *testing.T) {
	st := seedStore(t)
	backend := &fakeBackend{count: 0}
	m := NewManager(backend, st, nil, nil, nil, quietLogger())

	_, err := m.Execute(context.Background(), core.PurgeCriteria{})
	require.ErrorIs(t, err, ErrNothingToPurge)
	assert.Equal(t, 0, backend.purgeCalls, "backend purge never invoked")
	assert.Equal(t, 3, st.Len())
}

func TestExecuteBackendFailureLeavesStoreIntact(t *testing.T) {
	st := seedStore(t)
	backend := &fakeBackend{count: 2, purgeErr: errors.New("backend down")}
	m := NewManager(backend, st, nil, nil, nil, quietLogger())

	_, err := m.Execute(context.Background(), core.PurgeCriteria{TalkgroupIDs: []int64{100}})
	require.Error(t, err)
	assert.Equal(t, 3, st.Len())
	assert.False(t, m.CanUndo(context.Background()))
}

func TestUndoWithoutPurge(t *testing.T) {
	st := seedStore(t)
	m := NewManager(&fakeBackend{}, st, nil, nil, nil, quietLogger())

	_, err := m.Undo(context.Background())
	require.ErrorIs(t, err, ErrNoUndo)
}

func TestUndoBackendFailureKeepsSnapshot(t *testing.T) {
	st := seedStore(t)
	backend := &fakeBackend{count: 2, undoErr: errors.New("backend down")}
	snaps := &memSnaps{}
	m := NewManager(backend, st, nil, snaps, nil, quietLogger())

	_, err := m.Execute(context.Background(), core.PurgeCriteria{TalkgroupIDs: []int64{100}})
	require.NoError(t, err)

	_, err = m.Undo(context.Background())
	require.Error(t, err)
	assert.NotNil(t, snaps.snap, "failed undo keeps the snapshot for retry")

	backend.mu.Lock()
	backend.undoErr = nil
	backend.mu.Unlock()
	restored, err := m.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	st := seedStore(t)
	backend := &fakeBackend{count: 2}
	snaps := &memSnaps{}
	m := NewManager(backend, st, nil, snaps, nil, quietLogger())

	_, err := m.Execute(context.Background(), core.PurgeCriteria{TalkgroupIDs: []int64{100}})
	require.NoError(t, err)

	// A fresh manager over the same snapshot store picks the undo back up.
	st2 := seedStore(t)
	st2.RemoveMatching(core.PurgeCriteria{TalkgroupIDs: []int64{100}})
	m2 := NewManager(backend, st2, nil, snaps, nil, quietLogger())
	assert.True(t, m2.CanUndo(context.Background()))

	restored, err := m2.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
	assert.Equal(t, 3, st2.Len())
}

func TestReloadReplacesCallSet(t *testing.T) {
	st := seedStore(t)
	backend := &fakeBackend{window: []core.Call{
		purgeCall(10, 300, "POLICE"),
		purgeCall(11, 300, "POLICE"),
	}}
	refresh := &countRefresh{}
	m := NewManager(backend, st, nil, nil, refresh, quietLogger())

	n, err := m.Reload(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, st.Len())
	_, ok := st.Get(1)
	assert.False(t, ok)

	refresh.mu.Lock()
	assert.Equal(t, 1, refresh.n)
	refresh.mu.Unlock()
}

func TestCanUndoConcurrentWithExecute(t *testing.T) {
	st := seedStore(t)
	backend := &fakeBackend{count: 2}
	m := NewManager(backend, st, nil, nil, nil, quietLogger())

	// CanUndo polls from the UI while purges run; neither side may trip
	// the race detector on the snapshot.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			m.CanUndo(context.Background())
		}
	}()

	_, err := m.Execute(context.Background(), core.PurgeCriteria{TalkgroupIDs: []int64{100}})
	require.NoError(t, err)
	<-done

	assert.True(t, m.CanUndo(context.Background()))
}

func TestEstimateCollapsesDuplicates(t *testing.T) {
	st := seedStore(t)
	backend := &fakeBackend{count: 5}
	m := NewManager(backend, st, nil, nil, nil, quietLogger())

	n, err := m.Estimate(context.Background(), core.PurgeCriteria{Categories: []string{"FIRE"}})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
