package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// Status is the lifecycle state of one pending-transcription watch.
type Status int

const (
	// StatusPending means the backend has not finished transcribing yet.
	StatusPending Status = iota
	// StatusResolved means the transcription arrived and was applied.
	StatusResolved
	// StatusAbandoned means the attempt cap was reached; the sentinel stays.
	StatusAbandoned
	// StatusDiscarded means the owning record or view went away first.
	StatusDiscarded
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusAbandoned:
		return "abandoned"
	case StatusDiscarded:
		return "discarded"
	}
	return "unknown"
}

// DetailFetcher fetches the current backend state of a call. *api.Client
// satisfies this.
type DetailFetcher interface {
	CallDetails(ctx context.Context, id int64) (core.Call, error)
}

// Reconciler upgrades "transcription pending" placeholders by polling the
// backend on a fixed interval, bounded by a maximum attempt count. Each
// watch is an independent cancellable task.
type Reconciler struct {
	fetcher     DetailFetcher
	interval    time.Duration
	maxAttempts int
	sentinel    string
	logger      *slog.Logger

	mu      sync.Mutex
	watches map[int64]*Handle
}

// New creates a reconciler.
func New(fetcher DetailFetcher, interval time.Duration, maxAttempts int, sentinel string, logger *slog.Logger) *Reconciler {
	r := &Reconciler{
		fetcher:     fetcher,
		interval:    interval,
		maxAttempts: maxAttempts,
		sentinel:    sentinel,
		logger:      logger,
		watches:     make(map[int64]*Handle),
	}
	registerMetrics(r)
	return r
}

// Handle is a cancellable watch over one call's pending transcription.
type Handle struct {
	callID int64

	mu     sync.Mutex
	status Status

	cancel context.CancelFunc
	done   chan struct{}
}

// Status returns the watch's current state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is closed once the watch reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop discards the watch. Safe to call from any state; a watch that
// already resolved keeps its resolved status.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.status == StatusPending {
		h.status = StatusDiscarded
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *Handle) finish(s Status) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusPending {
		return false
	}
	h.status = s
	return true
}

// Watch starts polling for a call whose transcription is still the pending
// sentinel. onResolved receives the upgraded call exactly once. Returns nil
// when the call is not actually pending.
func (r *Reconciler) Watch(ctx context.Context, call core.Call, onResolved func(core.Call)) *Handle {
	if !call.TranscriptionPending(r.sentinel) {
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		callID: call.ID,
		status: StatusPending,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	// A newer watch for the same call replaces the old one.
	if prev, ok := r.watches[call.ID]; ok {
		prev.Stop()
	}
	r.watches[call.ID] = h
	r.mu.Unlock()

	go r.run(watchCtx, h, onResolved)
	return h
}

// Cancel discards the watch for a call id, if one is running. Called when
// the owning record leaves the store or its view closes.
func (r *Reconciler) Cancel(id int64) {
	r.mu.Lock()
	h, ok := r.watches[id]
	r.mu.Unlock()
	if ok {
		h.Stop()
	}
}

// CancelAll discards every running watch.
func (r *Reconciler) CancelAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.watches))
	for _, h := range r.watches {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}

// ActiveWatches returns how many polls are currently in flight.
func (r *Reconciler) ActiveWatches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches)
}

func (r *Reconciler) run(ctx context.Context, h *Handle, onResolved func(core.Call)) {
	defer close(h.done)
	defer func() {
		r.mu.Lock()
		if r.watches[h.callID] == h {
			delete(r.watches, h.callID)
		}
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			h.finish(StatusDiscarded)
			return
		case <-ticker.C:
			attempts++
			pollCount.Add(ctx, 1)

			call, err := r.fetcher.CallDetails(ctx, h.callID)
			if err != nil {
				// Transient network failure counts against the cap like a
				// still-pending answer.
				r.logger.Debug("detail poll failed", "callId", h.callID, "attempt", attempts, "error", err)
			} else if !call.TranscriptionPending(r.sentinel) {
				if h.finish(StatusResolved) {
					resolvedCount.Add(ctx, 1)
					onResolved(call)
				}
				return
			}

			if attempts >= r.maxAttempts {
				if h.finish(StatusAbandoned) {
					abandonedCount.Add(ctx, 1)
					r.logger.Info("transcription still pending after max attempts, abandoning",
						"callId", h.callID, "attempts", attempts)
				}
				return
			}
		}
	}
}
