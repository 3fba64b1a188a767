// Command watch follows live log sources, runs every extracted query
// execution through the analyzers, and serves findings over an HTTP API
// with a WebSocket live feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"query-watcher/pkg/controller"
	"query-watcher/pkg/explain"
	"query-watcher/pkg/findinglog"
	"query-watcher/pkg/monitor"
	"query-watcher/pkg/report"
	"query-watcher/pkg/source"
	"query-watcher/pkg/store"
)

type options struct {
	addr       string
	dbPath     string
	filePath   string
	docker     bool
	containers string
	label      string
	threshold  int
	slowMS     float64
	keyed      bool
}

// sourceDescription names the followed sources for the run record.
func (o options) sourceDescription() string {
	parts := []string{}
	if o.filePath != "" {
		parts = append(parts, "file:"+o.filePath)
	}
	if o.containers != "" {
		parts = append(parts, "docker:"+o.containers)
	} else if o.docker {
		parts = append(parts, "docker:all")
	}
	if len(parts) == 0 {
		return "api"
	}
	return strings.Join(parts, ",")
}

type App struct {
	opts      options
	monitor   *monitor.Monitor
	findings  *findinglog.Store
	collector *report.Collector
	feed      *monitor.ChannelSink
	registry  *prometheus.Registry
	store     *store.Store
	planner   *explain.Planner
	docker    *source.DockerSource
	runID     int64

	events chan source.Event
	ctx    context.Context
	cancel context.CancelFunc

	activeStreams map[string]bool
	streamsMutex  sync.Mutex

	shutdownOnce sync.Once
}

func NewApp(opts options) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := monitor.DefaultConfig()
	cfg.Keyed = opts.keyed
	if opts.threshold > 0 {
		cfg.NPlusOneThreshold = opts.threshold
	}
	if opts.slowMS > 0 {
		cfg.SlowQueryMS = opts.slowMS
	}

	app := &App{
		opts:          opts,
		findings:      findinglog.New(0, 0),
		collector:     report.NewCollector(),
		feed:          monitor.NewChannelSink(256),
		registry:      prometheus.NewRegistry(),
		events:        make(chan source.Event, 1000),
		ctx:           ctx,
		cancel:        cancel,
		activeStreams: make(map[string]bool),
	}

	app.monitor = monitor.New(cfg,
		&monitor.LogSink{},
		app.findings,
		app.feed,
		app.collector,
		monitor.NewMetricsSink(app.registry),
	)

	if opts.dbPath != "" {
		db, err := store.NewStore(opts.dbPath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
		app.store = db

		runID, err := db.CreateRun(&store.Run{
			Label:     opts.label,
			Source:    opts.sourceDescription(),
			StartedAt: time.Now(),
		})
		if err != nil {
			cancel()
			return nil, err
		}
		app.runID = runID
		app.monitor.AddSink(db.Recorder(runID, slog.Default()))
		slog.Info("archiving run", "runId", runID, "db", opts.dbPath)
	}

	if planner, err := explain.Open(""); err != nil {
		slog.Warn("database connection not available (EXPLAIN feature disabled)", "error", err)
	} else {
		slog.Info("database connection established for EXPLAIN queries")
		app.planner = planner
	}

	if opts.docker || opts.containers != "" {
		docker, err := source.NewDockerSource()
		if err != nil {
			cancel()
			return nil, err
		}
		app.docker = docker
	}

	return app, nil
}

// processEvents drains the source channel into the monitor.
func (a *App) processEvents() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-a.events:
			if ev.CacheHit != nil {
				a.monitor.ObserveCache(*ev.CacheHit)
			}
			if ev.Record != nil {
				a.monitor.Observe(*ev.Record)
			}
		}
	}
}

func (a *App) runFileSource() {
	src := &source.FileSource{Path: a.opts.filePath, Follow: true}
	if err := src.Run(a.ctx, a.events); err != nil && a.ctx.Err() == nil {
		slog.Error("file source stopped", "path", a.opts.filePath, "error", err)
	}
}

// selectContainers filters the running containers down to the requested
// names; with no -container flag every container is followed.
func (a *App) selectContainers(containers []source.Container) []source.Container {
	if a.opts.containers == "" {
		return containers
	}

	names := strings.Split(a.opts.containers, ",")
	selected := make([]source.Container, 0, len(names))
	for _, c := range containers {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if c.Name == name || strings.HasPrefix(c.ID, name) {
				selected = append(selected, c)
				break
			}
		}
	}
	return selected
}

// streamContainer attaches to a container's logs unless a stream is
// already active for it.
func (a *App) streamContainer(c source.Container) {
	a.streamsMutex.Lock()
	if a.activeStreams[c.ID] {
		a.streamsMutex.Unlock()
		return
	}
	a.activeStreams[c.ID] = true
	a.streamsMutex.Unlock()

	slog.Info("following container logs", "container", c.Name, "image", c.Image)

	go func() {
		err := a.docker.Stream(a.ctx, c.ID, c.Name, a.events)
		if err != nil && a.ctx.Err() == nil {
			slog.Error("container stream ended", "container", c.Name, "error", err)
		}

		a.streamsMutex.Lock()
		delete(a.activeStreams, c.ID)
		a.streamsMutex.Unlock()
	}()
}

func (a *App) startDockerStreams() error {
	containers, err := a.docker.ListContainers(a.ctx)
	if err != nil {
		return err
	}

	selected := a.selectContainers(containers)
	if len(selected) == 0 {
		slog.Warn("no matching containers running, waiting for them to start")
	}
	for _, c := range selected {
		a.streamContainer(c)
	}
	return nil
}

// watchContainers attaches to containers that start after us. Streams
// that died (container restarts) are picked up again here too.
func (a *App) watchContainers() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			containers, err := a.docker.ListContainers(a.ctx)
			if err != nil {
				slog.Error("failed to list containers", "error", err)
				continue
			}
			for _, c := range a.selectContainers(containers) {
				a.streamContainer(c)
			}
		}
	}
}

func (a *App) shutdown() {
	a.shutdownOnce.Do(func() {
		a.cancel()

		if a.store != nil && a.runID != 0 {
			totalQueries, totalDuration := a.collector.Totals()
			if err := a.store.SaveQueryStats(a.runID, a.collector.Stats()); err != nil {
				slog.Error("failed to save query stats", "error", err)
			}
			if err := a.store.FinishRun(a.runID, totalQueries, totalDuration); err != nil {
				slog.Error("failed to finish run", "error", err)
			} else {
				slog.Info("run archived", "runId", a.runID, "totalQueries", totalQueries)
			}
		}
	})
}

func (a *App) Run() error {
	go a.processEvents()

	ctrl := controller.New(controller.Options{
		Monitor:  a.monitor,
		Findings: a.findings,
		Stats:    a.collector,
		Store:    a.store,
		Planner:  a.planner,
		RunID:    a.runID,
		Registry: a.registry,
	})
	go ctrl.RunLiveFeed(a.ctx, a.feed.C)

	if a.opts.filePath != "" {
		go a.runFileSource()
	}
	if a.docker != nil {
		if err := a.startDockerStreams(); err != nil {
			return err
		}
		go a.watchContainers()
	}

	server := &http.Server{
		Addr:    a.opts.addr,
		Handler: ctrl.SetupRouter(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		slog.Info("server starting", "address", "http://localhost"+a.opts.addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		slog.Error("server error, shutting down", "error", err)
		a.shutdown()
		return err
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		a.shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
			return err
		}

		slog.Info("server shutdown complete")
		return nil
	}
}

func main() {
	addr := flag.String("addr", ":9000", "HTTP listen address")
	dbPath := flag.String("db", "", "SQLite path for archiving the run (empty disables persistence)")
	filePath := flag.String("file", "", "log file to follow, - for stdin")
	docker := flag.Bool("docker", false, "follow all running containers")
	containerNames := flag.String("container", "", "comma-separated container names to follow")
	label := flag.String("label", "", "label for the archived run")
	threshold := flag.Int("nplusone-threshold", 0, "repetitions that raise a finding (0 = default)")
	slowMS := flag.Float64("slow-ms", 0, "slow-query threshold in milliseconds (0 = default)")
	keyed := flag.Bool("keyed", true, "track repetitions per request ID, for interleaved sources")
	flag.Parse()

	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevel,
	})))

	app, err := NewApp(options{
		addr:       *addr,
		dbPath:     *dbPath,
		filePath:   *filePath,
		docker:     *docker,
		containers: *containerNames,
		label:      *label,
		threshold:  *threshold,
		slowMS:     *slowMS,
		keyed:      *keyed,
	})
	if err != nil {
		slog.Error("failed to start watcher", "error", err)
		os.Exit(1)
	}

	defer func() {
		slog.Info("shutting down, cleaning up resources")
		app.shutdown()

		if app.planner != nil {
			app.planner.Close()
		}
		if app.store != nil {
			app.store.Close()
		}
		if app.docker != nil {
			app.docker.Close()
		}
		slog.Info("cleanup complete")
	}()

	if err := app.Run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}
