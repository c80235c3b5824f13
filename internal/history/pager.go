package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// API is the slice of the REST client the pager needs.
type API interface {
	TalkgroupCalls(ctx context.Context, talkgroupID int64, limit, offset int) ([]core.Call, error)
	TalkgroupCallsSince(ctx context.Context, talkgroupID, sinceID int64) ([]core.Call, error)
}

// SeekState tracks the find-a-specific-call mode as an explicit state
// machine rather than retry recursion.
type SeekState int

const (
	SeekIdle SeekState = iota
	SeekSearching
	SeekFound
	SeekExhausted
	SeekFailed
)

func (s SeekState) String() string {
	switch s {
	case SeekIdle:
		return "idle"
	case SeekSearching:
		return "searching"
	case SeekFound:
		return "found"
	case SeekExhausted:
		return "exhausted"
	case SeekFailed:
		return "failed"
	}
	return "unknown"
}

// ErrSeekInProgress is returned when scroll-triggered pagination fires
// while a seek is still walking pages; the two must not fetch concurrently.
var ErrSeekInProgress = errors.New("seek in progress")

// ErrSeekNotFound is returned when every page was exhausted without the
// target call appearing.
var ErrSeekNotFound = errors.New("call not found in talkgroup history")

// Pager is the cursor-based infinite-scroll fetcher for one talkgroup's
// call history. Pages are newest-first; scrolling appends older calls, the
// live poller prepends newer ones.
type Pager struct {
	api         API
	talkgroupID int64
	limit       int
	sentinel    string
	logger      *slog.Logger

	mu      sync.Mutex
	calls   []core.Call
	ids     map[int64]struct{}
	offset  int
	hasMore bool
	seek    SeekState
}

// NewPager creates a pager for a talkgroup.
func NewPager(api API, talkgroupID int64, limit int, sentinel string, logger *slog.Logger) *Pager {
	return &Pager{
		api:         api,
		talkgroupID: talkgroupID,
		limit:       limit,
		sentinel:    sentinel,
		logger:      logger,
		ids:         make(map[int64]struct{}),
		hasMore:     true,
	}
}

// Calls returns the loaded history, newest first.
func (p *Pager) Calls() []core.Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// HasMore reports whether another sequential page may exist.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// SeekStatus returns the seek state machine's current state.
func (p *Pager) SeekStatus() SeekState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seek
}

// LoadMore fetches the next sequential page. A short page means the end of
// history. While a seek is running this is suppressed to avoid duplicate
// concurrent fetches.
func (p *Pager) LoadMore(ctx context.Context) ([]core.Call, error) {
	p.mu.Lock()
	if p.seek == SeekSearching {
		p.mu.Unlock()
		return nil, ErrSeekInProgress
	}
	if !p.hasMore {
		p.mu.Unlock()
		return nil, nil
	}
	offset := p.offset
	p.mu.Unlock()

	page, err := p.api.TalkgroupCalls(ctx, p.talkgroupID, p.limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetching history page at offset %d: %w", offset, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	added := p.appendLocked(page)
	p.offset += len(page)
	p.hasMore = len(page) == p.limit
	return added, nil
}

// Seek walks pages from the start until targetID appears. On success the
// state machine lands in SeekFound and the target's index in Calls() is
// returned for the scroll-to. Exhausting history without a hit returns
// ErrSeekNotFound.
func (p *Pager) Seek(ctx context.Context, targetID int64) (int, error) {
	p.mu.Lock()
	if p.seek == SeekSearching {
		p.mu.Unlock()
		return 0, ErrSeekInProgress
	}
	p.seek = SeekSearching
	p.mu.Unlock()

	for {
		p.mu.Lock()
		offset := p.offset
		// Already loaded? The target may have arrived on an earlier page.
		if idx, ok := p.indexOfLocked(targetID); ok {
			p.seek = SeekFound
			p.mu.Unlock()
			return idx, nil
		}
		if !p.hasMore {
			p.seek = SeekExhausted
			p.mu.Unlock()
			return 0, ErrSeekNotFound
		}
		p.mu.Unlock()

		page, err := p.api.TalkgroupCalls(ctx, p.talkgroupID, p.limit, offset)
		if err != nil {
			p.mu.Lock()
			p.seek = SeekFailed
			p.mu.Unlock()
			return 0, fmt.Errorf("seek page fetch at offset %d: %w", offset, err)
		}

		p.mu.Lock()
		p.appendLocked(page)
		p.offset += len(page)
		p.hasMore = len(page) == p.limit
		p.mu.Unlock()
	}
}

// appendLocked adds page results that are not already present, keeping
// newest-first order, and returns the ones actually added.
func (p *Pager) appendLocked(page []core.Call) []core.Call {
	var added []core.Call
	for _, call := range page {
		if _, dup := p.ids[call.ID]; dup {
			continue
		}
		p.ids[call.ID] = struct{}{}
		p.calls = append(p.calls, call)
		added = append(added, call)
	}
	return added
}

func (p *Pager) indexOfLocked(id int64) (int, bool) {
	for i, call := range p.calls {
		if call.ID == id {
			return i, true
		}
	}
	return 0, false
}

// newestIDLocked returns the largest loaded call id, or 0 when empty.
func (p *Pager) newestIDLocked() int64 {
	var newest int64
	for _, call := range p.calls {
		if call.ID > newest {
			newest = call.ID
		}
	}
	return newest
}

// PollHandle stops a live-append poller; the owning view calls Stop on
// close so no timer outlives it.
type PollHandle struct {
	stop chan struct{}
	once sync.Once
}

// Stop halts the poller.
func (h *PollHandle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// StartLivePoll keeps the open view current: on each tick it asks for
// calls newer than the newest id shown, prepends the ones not already
// present, and hands the newest resolved (non-pending) addition to
// autoPlay when the view wants audio. autoPlay may be nil.
func (p *Pager) StartLivePoll(ctx context.Context, interval time.Duration, autoPlay func(core.Call)) *PollHandle {
	h := &PollHandle{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-ticker.C:
				p.pollOnce(ctx, autoPlay)
			}
		}
	}()
	return h
}

func (p *Pager) pollOnce(ctx context.Context, autoPlay func(core.Call)) {
	p.mu.Lock()
	sinceID := p.newestIDLocked()
	p.mu.Unlock()
	if sinceID == 0 {
		return
	}

	fresh, err := p.api.TalkgroupCallsSince(ctx, p.talkgroupID, sinceID)
	if err != nil {
		p.logger.Debug("live-append poll failed", "talkgroupId", p.talkgroupID, "error", err)
		return
	}
	if len(fresh) == 0 {
		return
	}

	// Newest first before prepending.
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID > fresh[j].ID })

	p.mu.Lock()
	var added []core.Call
	for i := len(fresh) - 1; i >= 0; i-- {
		call := fresh[i]
		if _, dup := p.ids[call.ID]; dup {
			continue
		}
		p.ids[call.ID] = struct{}{}
		p.calls = append([]core.Call{call}, p.calls...)
		added = append(added, call)
	}
	p.mu.Unlock()

	if autoPlay == nil {
		return
	}
	// Newest resolved addition plays; pending ones wait for the reconciler.
	for i := len(added) - 1; i >= 0; i-- {
		if !added[i].TranscriptionPending(p.sentinel) {
			autoPlay(added[i])
			return
		}
	}
}
