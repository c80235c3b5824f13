package livefeed

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poisonednumber/scanner-map-client/internal/playback"
	"github.com/poisonednumber/scanner-map-client/internal/reconcile"
	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

const sentinel = core.DefaultPendingSentinel

// fakeRenderer records surface operations.
type fakeRenderer struct {
	mu       sync.Mutex
	rendered []int64
	removed  []int64
	texts    map[int64]string
	marquee  map[int64]bool
	overflow bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{texts: make(map[int64]string), marquee: make(map[int64]bool)}
}

func (r *fakeRenderer) Render(item Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = append(r.rendered, item.CallID)
	r.texts[item.CallID] = item.Text
}

func (r *fakeRenderer) UpdateText(id int64, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts[id] = text
	return r.overflow
}

func (r *fakeRenderer) SetMarquee(id int64, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marquee[id] = enabled
}

func (r *fakeRenderer) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func (r *fakeRenderer) text(id int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.texts[id]
}

func (r *fakeRenderer) renderedIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.rendered...)
}

func (r *fakeRenderer) removedIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.removed...)
}

type stubPlayer struct{}

func (stubPlayer) Play() error       { return nil }
func (stubPlayer) Pause()            {}
func (stubPlayer) Dispose() error    { return nil }
func (stubPlayer) SetVolume(float64) {}

// stubFetcher resolves every detail poll immediately.
type stubFetcher struct {
	text string
}

func (s stubFetcher) CallDetails(ctx context.Context, id int64) (core.Call, error) {
	return core.Call{ID: id, Transcription: s.text, AudioPath: "a.mp3"}, nil
}

func feedCall(id, tg int64, text string) core.Call {
	return core.Call{
		ID:            id,
		Timestamp:     1700000000,
		TalkgroupID:   tg,
		TalkgroupName: "Dispatch",
		Lat:           29.76,
		Lon:           -95.36,
		Transcription: text,
		AudioPath:     "audio/1.mp3",
	}
}

func newTestFeed(t *testing.T, maxItems int, ttl time.Duration, fetchText string) (*Feed, *fakeRenderer, *playback.Coordinator) {
	renderer := newFakeRenderer()
	coordinator := playback.New(func(string) playback.Player { return stubPlayer{} }, nil, 1.0, slog.Default())
	reconciler := reconcile.New(stubFetcher{text: fetchText}, 10*time.Millisecond, 3, sentinel, slog.Default())
	f := New(maxItems, ttl, sentinel, renderer, reconciler, coordinator, slog.Default())
	t.Cleanup(f.Close)
	return f, renderer, coordinator
}

func TestHandleEvent_UnselectedTalkgroupIgnored(t *testing.T) {
	f, renderer, _ := newTestFeed(t, 5, time.Minute, "")
	f.Select(100)

	f.HandleEvent(context.Background(), feedCall(1, 999, "hello"))

	assert.Empty(t, renderer.renderedIDs())
	assert.Empty(t, f.Items())
}

func TestHandleEvent_DuplicateSuppressed(t *testing.T) {
	f, renderer, _ := newTestFeed(t, 5, time.Minute, "")
	f.Select(100)

	f.HandleEvent(context.Background(), feedCall(1, 100, "first"))
	f.HandleEvent(context.Background(), feedCall(1, 100, "again"))

	assert.Len(t, renderer.renderedIDs(), 1)
	require.Len(t, f.Items(), 1)
	assert.Equal(t, "first", f.Items()[0].Text)
}

func TestHandleEvent_OverflowEviction(t *testing.T) {
	f, renderer, _ := newTestFeed(t, 5, time.Minute, "")
	f.Select(100)

	for id := int64(1); id <= 6; id++ {
		f.HandleEvent(context.Background(), feedCall(id, 100, "msg"))
	}

	items := f.Items()
	require.Len(t, items, 5)
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.CallID
	}
	assert.Equal(t, []int64{2, 3, 4, 5, 6}, ids, "oldest item evicted first")
	assert.Contains(t, renderer.removedIDs(), int64(1))
}

func TestHandleEvent_ItemExpiresAfterDisplayDuration(t *testing.T) {
	f, renderer, _ := newTestFeed(t, 5, 30*time.Millisecond, "")
	f.Select(100)

	f.HandleEvent(context.Background(), feedCall(1, 100, "short lived"))
	require.Len(t, f.Items(), 1)

	assert.Eventually(t, func() bool { return len(f.Items()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, renderer.removedIDs(), int64(1))
}

func TestHandleEvent_PendingResolvesInPlace(t *testing.T) {
	f, renderer, coordinator := newTestFeed(t, 5, time.Minute, "unit responding")
	renderer.overflow = true
	f.Select(100)

	f.HandleEvent(context.Background(), feedCall(1, 100, sentinel))
	require.Len(t, f.Items(), 1)
	assert.True(t, f.Items()[0].Pending)

	assert.Eventually(t, func() bool {
		return renderer.text(1) == "unit responding"
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		items := f.Items()
		return len(items) == 1 && !items[0].Pending
	}, time.Second, 5*time.Millisecond)

	renderer.mu.Lock()
	marquee := renderer.marquee[1]
	renderer.mu.Unlock()
	assert.True(t, marquee, "overflowing text enables the auto-scroll")

	// Withheld playback starts once resolved.
	assert.Eventually(t, func() bool {
		return coordinator.PlayingCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandleEvent_ImmediatePlaybackWhenNotPending(t *testing.T) {
	f, _, coordinator := newTestFeed(t, 5, time.Minute, "")
	f.Select(100)

	f.HandleEvent(context.Background(), feedCall(1, 100, "clear text"))
	assert.Equal(t, 1, coordinator.PlayingCount())
}

func TestAudioEnabled_TracksSelection(t *testing.T) {
	f, _, _ := newTestFeed(t, 5, time.Minute, "")
	assert.False(t, f.AudioEnabled())

	f.Select(100)
	assert.True(t, f.AudioEnabled())

	f.Deselect(100)
	assert.False(t, f.AudioEnabled())
}

func TestClose_RemovesEverything(t *testing.T) {
	f, renderer, _ := newTestFeed(t, 5, time.Minute, "")
	f.Select(100)
	f.HandleEvent(context.Background(), feedCall(1, 100, "a"))
	f.HandleEvent(context.Background(), feedCall(2, 100, "b"))

	f.Close()
	assert.Empty(t, f.Items())
	assert.Len(t, renderer.removedIDs(), 2)
}
