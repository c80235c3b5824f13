package livefeed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poisonednumber/scanner-map-client/internal/playback"
	"github.com/poisonednumber/scanner-map-client/internal/reconcile"
	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// PoolID is the playback pool the live feed's audio instances live in.
const PoolID = "livefeed"

// Renderer is the ticker surface the feed draws on. UpdateText reports
// whether the new text overflows its container so the feed can enable the
// horizontal auto-scroll.
type Renderer interface {
	Render(item Item)
	UpdateText(id int64, text string) (overflow bool)
	SetMarquee(id int64, enabled bool)
	Remove(id int64)
}

// Item is one ephemeral feed entry. Items are keyed by call id and are
// independent of the main time-windowed store.
type Item struct {
	CallID        int64
	TalkgroupName string
	Text          string
	Pending       bool
	AddedAt       time.Time
}

type entry struct {
	item  Item
	timer *time.Timer
	watch *reconcile.Handle
}

// Feed is the talkgroup-filtered, TTL-bounded ticker of incoming calls.
type Feed struct {
	mu       sync.Mutex
	selected map[int64]struct{}
	entries  map[int64]*entry
	order    []int64

	maxItems    int
	displayTTL  time.Duration
	sentinel    string
	renderer    Renderer
	reconciler  *reconcile.Reconciler
	coordinator *playback.Coordinator
	logger      *slog.Logger
}

// New creates an empty feed with no talkgroups selected.
func New(maxItems int, displayTTL time.Duration, sentinel string, renderer Renderer,
	reconciler *reconcile.Reconciler, coordinator *playback.Coordinator, logger *slog.Logger) *Feed {
	return &Feed{
		selected:    make(map[int64]struct{}),
		entries:     make(map[int64]*entry),
		maxItems:    maxItems,
		displayTTL:  displayTTL,
		sentinel:    sentinel,
		renderer:    renderer,
		reconciler:  reconciler,
		coordinator: coordinator,
		logger:      logger,
	}
}

// Select adds a talkgroup to the feed.
func (f *Feed) Select(talkgroupID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected[talkgroupID] = struct{}{}
}

// Deselect removes a talkgroup from the feed.
func (f *Feed) Deselect(talkgroupID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.selected, talkgroupID)
}

// AudioEnabled reports whether feed audio is on: selecting any talkgroup
// implicitly enables it, clearing all selections disables it.
func (f *Feed) AudioEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.selected) > 0
}

// Items returns the currently displayed items, oldest first.
func (f *Feed) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Item, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.entries[id].item)
	}
	return out
}

// ItemCount returns how many items are currently displayed.
func (f *Feed) ItemCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

// HandleEvent processes one push event. Events for unselected talkgroups
// are dropped before any rendering work; duplicates are suppressed.
func (f *Feed) HandleEvent(ctx context.Context, call core.Call) {
	f.mu.Lock()

	if _, ok := f.selected[call.TalkgroupID]; !ok {
		f.mu.Unlock()
		return
	}
	if _, dup := f.entries[call.ID]; dup {
		f.mu.Unlock()
		return
	}

	pending := call.TranscriptionPending(f.sentinel)
	e := &entry{
		item: Item{
			CallID:        call.ID,
			TalkgroupName: call.TalkgroupName,
			Text:          call.Transcription,
			Pending:       pending,
			AddedAt:       time.Now(),
		},
	}
	f.entries[call.ID] = e
	f.order = append(f.order, call.ID)

	// Oldest out first when the ticker is full.
	for len(f.order) > f.maxItems {
		f.evictLocked(f.order[0])
	}

	// Every item self-destructs after its display duration.
	id := call.ID
	e.timer = time.AfterFunc(f.displayTTL, func() { f.expire(id) })

	audioEnabled := len(f.selected) > 0
	f.renderer.Render(e.item)
	f.mu.Unlock()

	if pending {
		// Playback is withheld until the transcription resolves.
		h := f.reconciler.Watch(ctx, call, func(resolved core.Call) { f.resolve(resolved) })
		f.mu.Lock()
		if cur, ok := f.entries[id]; ok {
			cur.watch = h
		} else if h != nil {
			h.Stop()
		}
		f.mu.Unlock()
		return
	}

	if audioEnabled {
		f.play(call)
	}
}

// resolve replaces a pending placeholder with the final transcription,
// re-measuring overflow, and starts the withheld playback.
func (f *Feed) resolve(call core.Call) {
	f.mu.Lock()
	e, ok := f.entries[call.ID]
	if !ok {
		f.mu.Unlock()
		return
	}
	e.item.Text = call.Transcription
	e.item.Pending = false

	overflow := f.renderer.UpdateText(call.ID, call.Transcription)
	f.renderer.SetMarquee(call.ID, overflow)

	audioEnabled := len(f.selected) > 0
	f.mu.Unlock()

	if audioEnabled {
		f.play(call)
	}
}

func (f *Feed) play(call core.Call) {
	f.coordinator.CreateInstance(PoolID, call.ID, call.AudioPath, nil)
	if err := f.coordinator.Play(PoolID, call.ID); err != nil {
		f.logger.Warn("feed playback failed", "callId", call.ID, "error", err)
	}
}

// expire removes an item whose display duration elapsed.
func (f *Feed) expire(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictLocked(id)
}

// evictLocked tears down one entry: its timer, its pending watch, its
// audio instance, and its rendered row.
func (f *Feed) evictLocked(id int64) {
	e, ok := f.entries[id]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.watch != nil {
		e.watch.Stop()
	}
	delete(f.entries, id)
	for i, n := range f.order {
		if n == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.renderer.Remove(id)
	f.coordinator.RemoveInstance(PoolID, id)
}

// Close tears down every displayed item.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range append([]int64(nil), f.order...) {
		f.evictLocked(id)
	}
}
