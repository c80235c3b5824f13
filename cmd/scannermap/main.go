package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/poisonednumber/scanner-map-client/internal/api"
	"github.com/poisonednumber/scanner-map-client/internal/config"
	"github.com/poisonednumber/scanner-map-client/internal/dispatcher"
	"github.com/poisonednumber/scanner-map-client/internal/filter"
	"github.com/poisonednumber/scanner-map-client/internal/geo"
	"github.com/poisonednumber/scanner-map-client/internal/history"
	"github.com/poisonednumber/scanner-map-client/internal/influx"
	"github.com/poisonednumber/scanner-map-client/internal/livefeed"
	"github.com/poisonednumber/scanner-map-client/internal/logging"
	"github.com/poisonednumber/scanner-map-client/internal/mapview"
	"github.com/poisonednumber/scanner-map-client/internal/monitor"
	intOtel "github.com/poisonednumber/scanner-map-client/internal/otel"
	"github.com/poisonednumber/scanner-map-client/internal/persist"
	"github.com/poisonednumber/scanner-map-client/internal/playback"
	"github.com/poisonednumber/scanner-map-client/internal/purge"
	"github.com/poisonednumber/scanner-map-client/internal/reconcile"
	"github.com/poisonednumber/scanner-map-client/internal/store"
	"github.com/poisonednumber/scanner-map-client/internal/stream"
	"github.com/poisonednumber/scanner-map-client/internal/sweep"
	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"
)

// nullPlayer stands in for a real audio sink on headless runs. It keeps
// the playback state machine honest without producing sound.
type nullPlayer struct {
	logger   *slog.Logger
	audioRef string
}

func (p *nullPlayer) Play() error {
	p.logger.Debug("playback started", "audio", p.audioRef)
	return nil
}

func (p *nullPlayer) Pause() {
	p.logger.Debug("playback paused", "audio", p.audioRef)
}

func (p *nullPlayer) Dispose() error { return nil }

func (p *nullPlayer) SetVolume(v float64) {}

type nullGain struct{}

func (nullGain) SetGain(v float64) {}

// logRenderer is the headless live-feed surface.
type logRenderer struct {
	logger *slog.Logger
}

func (r *logRenderer) Render(item livefeed.Item) {
	r.logger.Info("feed item", "callId", item.CallID, "talkgroup", item.TalkgroupName, "text", item.Text, "pending", item.Pending)
}

func (r *logRenderer) UpdateText(id int64, text string) bool {
	r.logger.Info("feed item resolved", "callId", id, "text", text)
	return false
}

func (r *logRenderer) SetMarquee(id int64, enabled bool) {}

func (r *logRenderer) Remove(id int64) {
	r.logger.Debug("feed item removed", "callId", id)
}

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.ConfigFileName)
	flag.Parse()

	if err := config.Load(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "config not loaded, using defaults: %v\n", err)
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create logs dir: %v\n", err)
		os.Exit(1)
	}

	sessionStart := time.Now()
	logFile, err := os.Create(logging.SessionLogPath(logsDir, sessionStart))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot create session log: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	// OTel log pipeline, bridged into slog when enabled.
	var otelLogFile *os.File
	if config.GetBool("otel.enabled") {
		otelLogFile, err = os.Create(filepath.Join(logsDir, "otel.log"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot create otel log: %v\n", err)
			os.Exit(1)
		}
		defer otelLogFile.Close()
	}
	otelProvider, err := intOtel.New(intOtel.Config{
		Enabled:        config.GetBool("otel.enabled"),
		ServiceName:    "scanner-map-client",
		ServiceVersion: Version,
		BatchTimeout:   5 * time.Second,
		LogWriter:      writerOrNil(otelLogFile),
		Endpoint:       config.GetString("otel.endpoint"),
		Insecure:       config.GetBool("otel.insecure"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "otel init failed: %v\n", err)
		os.Exit(1)
	}

	var gelfWriter io.Writer
	if config.GetBool("graylog.enabled") {
		w, gerr := gelf.NewWriter(config.GetString("graylog.address"))
		if gerr != nil {
			fmt.Fprintf(os.Stderr, "graylog writer failed, continuing without: %v\n", gerr)
		} else {
			gelfWriter = w
		}
	}

	logManager := logging.NewManager()
	logManager.Setup(logFile, gelfWriter, config.GetString("logLevel"), otelProvider.LoggerProvider())
	logger := logManager.Logger()
	logger.Info("scanner map client starting", "version", Version, "buildDate", BuildDate)

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Local cache for warm starts and persisted purge undo.
	var persistMgr *persist.Manager
	if config.GetBool("persist.enabled") {
		persistMgr = persist.NewManager(zlog)
		if err := persistMgr.Connect(); err != nil {
			logger.Warn("local cache unavailable, running memory-only", "error", err)
		}
	}

	var influxMgr *influx.Manager
	if config.GetBool("influx.enabled") {
		influxMgr = influx.NewManager(zlog, filepath.Join(logsDir, "influx-backup.gz"))
		if err := influxMgr.Connect(); err != nil {
			logger.Warn("influx unavailable", "error", err)
			influxMgr = nil
		}
	}

	client := api.New(
		config.GetString("api.serverUrl"),
		config.GetString("api.apiKey"),
		config.GetDuration("api.cacheTTL"),
	)
	if err := client.Healthcheck(ctx); err != nil {
		logger.Warn("backend healthcheck failed, continuing anyway", "error", err)
	}

	surface := mapview.NewLogSurface(logger)
	st := store.New(mapview.NewAdapter(surface, logger), nil)
	defer st.Close()

	rangeHours := config.GetInt("calls.rangeHours")
	engine := filter.New(st, rangeHours, logger)

	sentinel := config.GetString("calls.pendingSentinel")
	reconciler := reconcile.New(
		client,
		config.GetDuration("reconcile.interval"),
		config.GetInt("reconcile.maxAttempts"),
		sentinel,
		logger,
	)
	defer reconciler.CancelAll()

	// Resolved details land back in the store and get re-filtered.
	batcher := api.NewDetailBatcher(
		client,
		config.GetDuration("api.batchInterval"),
		config.GetInt("api.batchSize"),
		func(call core.Call) {
			if st.Update(call) {
				st.SetVisible(call.ID, engine.IsVisible(call))
			}
		},
		logger,
	)
	batcher.Start(ctx)
	defer batcher.Stop()

	audioCtx := playback.NewAudioContext(func() playback.GainStage { return nullGain{} })
	coordinator := playback.New(
		func(audioRef string) playback.Player {
			return &nullPlayer{logger: logger, audioRef: audioRef}
		},
		audioCtx,
		config.GetFloat("playback.volume"),
		logger,
	)

	feed := livefeed.New(
		config.GetInt("livefeed.maxItems"),
		config.GetDuration("livefeed.displayDuration"),
		sentinel,
		&logRenderer{logger: logger},
		reconciler,
		coordinator,
		logger,
	)
	defer feed.Close()
	for _, tg := range viper.GetIntSlice("livefeed.talkgroups") {
		feed.Select(int64(tg))
	}

	// Followed talkgroups run a headless history view: one page of backlog
	// up front, then live-append polling with auto-play of resolved calls.
	historyPlay := func(call core.Call) {
		coordinator.CreateInstance("history", call.ID, call.AudioPath, nil)
		if err := coordinator.Play("history", call.ID); err != nil {
			logger.Debug("history auto-play failed", "callId", call.ID, "error", err)
		}
	}
	for _, tg := range viper.GetIntSlice("history.talkgroups") {
		pager := history.NewPager(client, int64(tg), config.GetInt("history.pageSize"), sentinel, logger)
		if _, err := pager.LoadMore(ctx); err != nil {
			logger.Warn("history backlog fetch failed", "talkgroupId", tg, "error", err)
		}
		handle := pager.StartLivePoll(ctx, config.GetDuration("history.pollInterval"), historyPlay)
		defer handle.Stop()
	}

	var snaps purge.SnapshotStore
	if persistMgr != nil {
		snaps = persistMgr
	}
	purgeMgr := purge.NewManager(client, st, reconciler, snaps, engine, logger)

	// Warm start from the local cache, then reconcile against the backend.
	if persistMgr != nil && persistMgr.IsValid {
		cutoff := time.Now().Add(-time.Duration(rangeHours) * time.Hour).Unix()
		cached, err := persistMgr.LoadCalls(cutoff)
		if err != nil {
			logger.Warn("warm start failed", "error", err)
		} else if len(cached) > 0 {
			for _, call := range cached {
				_, _ = st.Upsert(call)
			}
			engine.Apply()
			logger.Info("warm start complete", "calls", len(cached))
		}
	}

	watchCall := func(call core.Call) {
		if h := reconciler.Watch(ctx, call, func(resolved core.Call) {
			if st.Update(resolved) {
				st.SetVisible(resolved.ID, engine.IsVisible(resolved))
			}
		}); h != nil {
			logger.Debug("watching pending transcription", "callId", call.ID)
		}
	}

	reload := func() {
		n, err := purgeMgr.Reload(ctx, rangeHours)
		if err != nil {
			logger.Error("call window reload failed", "error", err)
			return
		}
		logger.Info("call window loaded", "calls", n)
		if persistMgr != nil && persistMgr.IsValid {
			var all []core.Call
			st.ForEach(func(rec store.Record) { all = append(all, rec.Call) })
			if err := persistMgr.ReplaceCalls(all); err != nil {
				logger.Warn("cache refresh failed", "error", err)
			}
		}
		st.ForEach(func(rec store.Record) {
			if rec.Call.TranscriptionPending(sentinel) {
				// One immediate batched check catches calls that resolved
				// while we were away; the watch covers the rest.
				batcher.Enqueue(rec.Call.ID)
				watchCall(rec.Call)
			}
		})
	}
	reload()

	disp, err := dispatcher.New(logging.NewZerologAdapter(zlog))
	if err != nil {
		logger.Error("dispatcher init failed", "error", err)
		os.Exit(1)
	}

	// Calls geocoded outside the configured service area never hit the map.
	coverageOn := config.GetBool("coverage.enabled")
	coverage := geo.Bounds{
		MinLat: config.GetFloat("coverage.minLat"),
		MaxLat: config.GetFloat("coverage.maxLat"),
		MinLon: config.GetFloat("coverage.minLon"),
		MaxLon: config.GetFloat("coverage.maxLon"),
	}

	disp.Register(core.EventNewCall, func(e dispatcher.Event) (any, error) {
		if coverageOn && !coverage.Contains(e.Call.Lat, e.Call.Lon) {
			logger.Debug("call outside coverage area", "callId", e.Call.ID, "lat", e.Call.Lat, "lon", e.Call.Lon)
			return "outside coverage", nil
		}
		inserted, err := st.Upsert(e.Call)
		if err != nil {
			return nil, err
		}
		if !inserted {
			return "duplicate", nil
		}
		st.SetVisible(e.Call.ID, engine.IsVisible(e.Call))
		if persistMgr != nil && persistMgr.IsValid {
			if err := persistMgr.SaveCalls([]core.Call{e.Call}); err != nil {
				logger.Warn("caching call failed", "callId", e.Call.ID, "error", err)
			}
		}
		if e.Call.TranscriptionPending(sentinel) {
			watchCall(e.Call)
		}
		return "inserted", nil
	}, dispatcher.Buffered(1024), dispatcher.Logged())

	disp.Register(core.EventLiveFeedUpdate, func(e dispatcher.Event) (any, error) {
		feed.HandleEvent(ctx, e.Call)
		return nil, nil
	}, dispatcher.Buffered(256))

	consumer := stream.NewConsumer(
		stream.Config{
			URL:    config.GetString("stream.url"),
			APIKey: config.GetString("stream.secret"),
		},
		func(msg core.PushMessage) {
			if _, err := disp.Dispatch(dispatcher.Event{Name: msg.Event, Call: msg.Call, ReceivedAt: time.Now()}); err != nil {
				logger.Debug("push event not handled", "event", msg.Event, "error", err)
			}
		},
		// A reconnect means an unknown gap; the REST window is authoritative.
		reload,
		logger,
	)
	if err := consumer.Start(); err != nil {
		logger.Warn("push stream unavailable, REST-only mode", "error", err)
	}
	defer consumer.Close()

	sweeper := sweep.New(engine, config.GetDuration("calls.sweepInterval"), logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	mon := monitor.NewService(monitor.Dependencies{
		Store:      st,
		Reconciler: reconciler,
		Feed:       feed,
		Playback:   coordinator,
		Influx:     influxMgr,
		Logger:     logger,
		StatusPath: filepath.Join(logsDir, "status.json"),
		Interval:   config.GetDuration("monitor.interval"),
	})
	if err := mon.Start(); err != nil {
		logger.Warn("monitor failed to start", "error", err)
	}
	defer mon.Stop()

	logger.Info("scanner map client ready")
	<-ctx.Done()
	logger.Info("shutting down")

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := logManager.Flush(flushCtx); err != nil {
		logger.Warn("log flush failed", "error", err)
	}
	if err := otelProvider.Shutdown(flushCtx); err != nil {
		logger.Warn("otel shutdown failed", "error", err)
	}
	if persistMgr != nil {
		_ = persistMgr.Close()
	}
}

func writerOrNil(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}
