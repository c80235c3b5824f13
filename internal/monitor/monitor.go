package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/poisonednumber/scanner-map-client/internal/influx"
	"github.com/poisonednumber/scanner-map-client/internal/store"
)

// WatchCounter reports how many pending-transcription watches are active.
type WatchCounter interface {
	ActiveWatches() int
}

// FeedCounter reports how many items the live feed currently shows.
type FeedCounter interface {
	ItemCount() int
}

// PlaybackCounter reports how many audio instances are playing.
type PlaybackCounter interface {
	PlayingCount() int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Store      *store.Store
	Reconciler WatchCounter
	Feed       FeedCounter
	Playback   PlaybackCounter
	Influx     *influx.Manager
	Logger     *slog.Logger
	StatusPath string
	Interval   time.Duration
}

// Status is the periodic snapshot written to the status file.
type Status struct {
	Time          time.Time      `json:"time"`
	Calls         int            `json:"calls"`
	Visible       int            `json:"visible"`
	Categories    map[string]int `json:"categories"`
	ActiveWatches int            `json:"activeWatches"`
	FeedItems     int            `json:"feedItems"`
	Playing       int            `json:"playing"`
}

// Service periodically snapshots the sync engine's state, writes it to a
// status file, and ships it to InfluxDB.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot gathers the current engine status.
func (s *Service) Snapshot() Status {
	stats := s.deps.Store.RecomputeStats()
	status := Status{
		Time:       time.Now(),
		Calls:      stats.Total,
		Visible:    stats.Visible,
		Categories: stats.Categories,
	}
	if s.deps.Reconciler != nil {
		status.ActiveWatches = s.deps.Reconciler.ActiveWatches()
	}
	if s.deps.Feed != nil {
		status.FeedItems = s.deps.Feed.ItemCount()
	}
	if s.deps.Playback != nil {
		status.Playing = s.deps.Playback.PlayingCount()
	}
	return status
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("starting status monitor")

		var statusFile *os.File
		if s.deps.StatusPath != "" {
			var err error
			statusFile, err = os.Create(s.deps.StatusPath)
			if err != nil {
				logger.Error("error creating status file", "error", err)
			} else {
				defer statusFile.Close()
			}
		}

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				status := s.Snapshot()

				if statusFile != nil {
					data, err := json.MarshalIndent(status, "", "  ")
					if err == nil {
						statusFile.Truncate(0)
						statusFile.Seek(0, 0)
						statusFile.Write(append(data, '\n'))
					}
				}

				if s.deps.Influx != nil {
					ctx := context.Background()
					if err := s.deps.Influx.WritePoint(ctx, influx.BucketSyncStats,
						influx.StoreStatsPoint(store.Stats{
							Total:      status.Calls,
							Visible:    status.Visible,
							Categories: status.Categories,
						}, status.Time)); err != nil {
						logger.Debug("shipping store stats failed", "error", err)
					}
					if err := s.deps.Influx.WritePoint(ctx, influx.BucketClientStats,
						influx.EnginePoint(status.ActiveWatches, status.FeedItems, status.Playing, status.Time)); err != nil {
						logger.Debug("shipping engine stats failed", "error", err)
					}
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
