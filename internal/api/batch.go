package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/poisonednumber/scanner-map-client/internal/queue"
	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// DetailBatcher collects call-detail lookups and flushes them in bounded
// batches on a fixed interval. A reload that inserts hundreds of calls with
// pending transcriptions enqueues them all here instead of firing hundreds
// of simultaneous requests.
type DetailBatcher struct {
	client    *Client
	pending   *queue.Queue[int64]
	interval  time.Duration
	batchSize int
	onDetail  func(core.Call)
	logger    *slog.Logger
	stop      chan struct{}
}

// NewDetailBatcher creates a batcher that delivers each fetched call to
// onDetail.
func NewDetailBatcher(client *Client, interval time.Duration, batchSize int, onDetail func(core.Call), logger *slog.Logger) *DetailBatcher {
	return &DetailBatcher{
		client:    client,
		pending:   queue.New[int64](),
		interval:  interval,
		batchSize: batchSize,
		onDetail:  onDetail,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Enqueue schedules a detail fetch for a call id.
func (b *DetailBatcher) Enqueue(id int64) {
	b.pending.Push(id)
}

// Pending returns the number of ids waiting for a flush.
func (b *DetailBatcher) Pending() int {
	return b.pending.Len()
}

// Start runs the flush loop until ctx is cancelled or Stop is called.
func (b *DetailBatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			case <-ticker.C:
				b.flush(ctx)
			}
		}
	}()
}

// Stop halts the flush loop. Queued ids are dropped.
func (b *DetailBatcher) Stop() {
	close(b.stop)
}

func (b *DetailBatcher) flush(ctx context.Context) {
	ids := b.pending.DrainUpTo(b.batchSize)
	for _, id := range ids {
		call, err := b.client.CallDetails(ctx, id)
		if err != nil {
			b.logger.Warn("detail fetch failed", "callId", id, "error", err)
			continue
		}
		b.onDetail(call)
	}
}
