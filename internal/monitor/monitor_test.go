package monitor

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poisonednumber/scanner-map-client/internal/store"
	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

type fixedCounter int

func (f fixedCounter) ActiveWatches() int { return int(f) }
func (f fixedCounter) ItemCount() int     { return int(f) }
func (f fixedCounter) PlayingCount() int  { return int(f) }

func monitorLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(devNull{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type devNull struct{}

func (devNull) Write(p []byte) (int, error) { return len(p), nil }

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(nil, nil)
	t.Cleanup(st.Close)
	_, err := st.Upsert(core.Call{
		ID: 1, Timestamp: 1700000000, TalkgroupID: 100, Category: "FIRE",
		Lat: 29.7, Lon: -95.3, Transcription: "working fire", AudioPath: "a.mp3",
	})
	require.NoError(t, err)
	st.SetVisible(1, true)
	return st
}

func TestSnapshot(t *testing.T) {
	s := NewService(Dependencies{
		Store:      seededStore(t),
		Reconciler: fixedCounter(2),
		Feed:       fixedCounter(3),
		Playback:   fixedCounter(1),
		Logger:     monitorLogger(),
	})

	status := s.Snapshot()
	assert.Equal(t, 1, status.Calls)
	assert.Equal(t, 1, status.Visible)
	assert.Equal(t, 1, status.Categories["FIRE"])
	assert.Equal(t, 2, status.ActiveWatches)
	assert.Equal(t, 3, status.FeedItems)
	assert.Equal(t, 1, status.Playing)
}

func TestStartWritesStatusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	s := NewService(Dependencies{
		Store:      seededStore(t),
		Logger:     monitorLogger(),
		StatusPath: path,
		Interval:   10 * time.Millisecond,
	})

	require.NoError(t, s.Start())
	defer s.Stop()
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			return false
		}
		var status Status
		return json.Unmarshal(data, &status) == nil && status.Calls == 1
	}, time.Second, 20*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	s := NewService(Dependencies{
		Store:    seededStore(t),
		Logger:   monitorLogger(),
		Interval: 10 * time.Millisecond,
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	s.Stop()

	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
}
