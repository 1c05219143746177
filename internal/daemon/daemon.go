// Package daemon runs the release processor as a long-lived service:
// scheduled repository syncs, config-file watching, and a metrics/health
// HTTP endpoint.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/fhirops/igrelease/internal/config"
	"github.com/fhirops/igrelease/internal/logfields"
	"github.com/fhirops/igrelease/internal/metrics"
	"github.com/fhirops/igrelease/internal/reposet"
)

// Daemon owns the scheduled sync loop and the HTTP endpoint.
type Daemon struct {
	cfg        *config.Config
	configPath string
	repos      *reposet.Manager
	registry   *prom.Registry
	scheduler  gocron.Scheduler
	onReload   func(*config.Config)
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithReloadHandler is invoked with the freshly loaded config after the
// watched config file changes.
func WithReloadHandler(f func(*config.Config)) Option {
	return func(d *Daemon) { d.onReload = f }
}

// New builds a daemon around the repository set.
func New(cfg *config.Config, configPath string, repos *reposet.Manager, registry *prom.Registry, opts ...Option) (*Daemon, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		repos:      repos,
		registry:   registry,
		scheduler:  s,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run blocks until the context is canceled, serving HTTP and running
// scheduled syncs.
func (d *Daemon) Run(ctx context.Context) error {
	interval := d.cfg.Daemon.SyncIntervalDuration()
	_, err := d.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(d.syncAll, ctx),
		gocron.WithName("repo-sync"),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	d.scheduler.Start()
	defer func() {
		if err := d.scheduler.Shutdown(); err != nil {
			slog.Warn("Scheduler shutdown failed", logfields.Error(err))
		}
	}()

	// One immediate sync so the daemon is useful before the first tick.
	go d.syncAll(ctx)

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		d.watchConfig(ctx)
	}()

	srv := &http.Server{
		Addr:              d.cfg.Daemon.ListenAddr,
		Handler:           d.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Daemon listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown failed", logfields.Error(err))
	}
	<-watcherDone
	return nil
}

// Routes returns the daemon's HTTP handler.
func (d *Daemon) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(d.registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/repos", d.handleRepos)
	return mux
}

// handleRepos reports the sync state of every configured repository.
func (d *Daemon) handleRepos(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, name := range d.repos.Names() {
		state, ok := d.repos.Get(name)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s synced=%t ref=%s\n", name, state.Synced, state.CurrentRef)
	}
}

func (d *Daemon) syncAll(ctx context.Context) {
	slog.Info("Scheduled repository sync starting")
	results := d.repos.SyncAll(ctx, d.cfg.Sync.TimeoutPerRepoDuration(), nil)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	slog.Info("Scheduled repository sync finished",
		slog.Int("repositories", len(results)),
		slog.Int("failed", failed))
}

// watchConfig reloads configuration when the watched file changes. Editors
// replace files on save, so the parent directory is watched and events
// filtered by name.
func (d *Daemon) watchConfig(ctx context.Context) {
	if d.configPath == "" {
		<-ctx.Done()
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("Config watcher unavailable", logfields.Error(err))
		<-ctx.Done()
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(d.configPath)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("Config watch failed", logfields.Path(dir), logfields.Error(err))
		<-ctx.Done()
		return
	}

	var debounce *time.Timer
	target := filepath.Clean(d.configPath)
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors fire several events per save; collapse them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, d.reloadConfig)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", logfields.Error(err))
		}
	}
}

func (d *Daemon) reloadConfig() {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		slog.Warn("Config reload failed, keeping previous configuration",
			logfields.Path(d.configPath), logfields.Error(err))
		return
	}
	d.cfg = cfg
	slog.Info("Configuration reloaded", logfields.Path(d.configPath))
	if d.onReload != nil {
		d.onReload(cfg)
	}
}
