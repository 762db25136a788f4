package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	badgerstore "github.com/nicktill/ridership/pkg/cache/badger"
	"github.com/nicktill/ridership/pkg/config"
	"github.com/nicktill/ridership/pkg/explorer"
	"github.com/nicktill/ridership/pkg/export"
	"github.com/nicktill/ridership/pkg/monitor"
)

// App holds the wired components behind the HTTP server.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Service  *explorer.Service
	Export   *export.Handler
	Registry *prometheus.Registry
	Metrics  *monitor.Metrics

	// Store and GC are nil unless cache.persist is set
	Store *badgerstore.Store
	GC    *monitor.GCMonitor
}

// Setup builds the explorer service, metrics registry and optional
// persistent forecast store from cfg, and registers the configured sources.
func Setup(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitor.NewMetrics(reg)

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics,
	}

	opts := explorer.OptionsFromConfig(cfg)
	opts.Observer = metrics
	opts.Logger = logger

	if cfg.Cache.Persist {
		store, err := InitializeStore(cfg.Cache)
		if err != nil {
			return nil, err
		}
		app.Store = store
		app.GC = &monitor.GCMonitor{}
		opts.ForecastBacking = store
		monitor.NewDiskMonitor(cfg.Cache.PersistPath).Register(reg)
		logger.Info("forecast cache persisted", "path", cfg.Cache.PersistPath)
	}

	app.Service = explorer.New(opts)
	if err := app.Service.RegisterFiles(cfg.SourcePaths()); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to register sources: %w", err)
	}
	for _, src := range app.Service.Sources() {
		logger.Info("source registered", "source", src.Name, "id", src.ID, "format", src.Format, "default", src.Default)
	}

	app.Export = export.NewHandler(app.Service, config.MaxImportBytes, logger)
	return app, nil
}

// InitializeStore opens the BadgerDB forecast store, creating its directory.
func InitializeStore(cfg config.CacheConfig) (*badgerstore.Store, error) {
	if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	store, err := badgerstore.New(badgerstore.Config{
		Path:        cfg.PersistPath,
		MaxMemoryMB: cfg.PersistMaxMemory,
		TTL:         cfg.PersistTTL,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Close releases the persistent store, if any.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
