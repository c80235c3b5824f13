package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Ticker is the expiry pass the sweeper drives; the filter engine
// implements it.
type Ticker interface {
	SweepTick() int
}

// Sweeper hides calls that age out of the rolling time window. It runs one
// pass per interval; each pass is idempotent, so an extra tick is harmless.
type Sweeper struct {
	engine   Ticker
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// New creates a sweeper. The one-minute production interval comes from
// config.
func New(engine Ticker, interval time.Duration, logger *slog.Logger) *Sweeper {
	s := &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	return s
}

// Start launches the sweep loop until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if hidden := s.engine.SweepTick(); hidden > 0 {
					s.logger.Debug("sweep hid aged-out calls", "count", hidden)
				}
			}
		}
	}()
}

// Stop halts the sweep loop. Safe to call once.
func (s *Sweeper) Stop() {
	close(s.stop)
}
