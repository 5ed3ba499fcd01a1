package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lazythumb/internal/codec"
	"lazythumb/internal/config"
	"lazythumb/internal/database"
	"lazythumb/internal/filesystem"
	"lazythumb/internal/handlers"
	"lazythumb/internal/item"
	"lazythumb/internal/logging"
	"lazythumb/internal/memory"
	"lazythumb/internal/metrics"
	"lazythumb/internal/middleware"
	"lazythumb/internal/notify"
	"lazythumb/internal/provider"
	"lazythumb/internal/thumbcache"
	"lazythumb/internal/thumbnail"
	"lazythumb/internal/warmup"

	"github.com/gorilla/mux"
)

func main() {
	startTime := time.Now()

	memResult := memory.ConfigureFromEnv()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}

	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"root":  cfg.RootDir,
		"cache": cfg.CacheDir,
		"data":  cfg.DataDir,
	}))
	retry := filesystem.DefaultRetryConfig()
	metrics.InitializeMetrics()
	metrics.AppInfo.WithLabelValues(config.Version, config.Commit, config.GoVersion).Set(1)

	// Initialize codec
	if cfg.VipsEnabled {
		codec.InitVips()
	}
	config.LogCodecInit(cfg.VipsEnabled, codec.IsVipsAvailable())
	codecOpts := codec.DefaultOptions()
	codecOpts.Retry = retry
	imgCodec := codec.New(codecOpts)

	// Initialize manifest database
	dbStart := time.Now()
	db, err := database.New(context.Background(), cfg.DatabasePath)
	if err != nil {
		logging.Fatal("Failed to initialize database: %v", err)
	}
	config.LogDatabaseInit(cfg.DatabasePath, time.Since(dbStart))

	src, err := newSource(cfg.Provider, db, retry)
	if err != nil {
		logging.Fatal("Provider error: %v", err)
	}

	// Initialize thumbnail cache
	thumbcache.SetDefaultOptions(thumbcache.Options{
		Dir:        cfg.ThumbnailDir,
		MaxEntries: cfg.MemoryCacheEntries,
		MaxBytes:   memory.CacheBudget(cfg.MemoryCacheBytes, memResult),
		Codec:      imgCodec,
		Retry:      retry,
	})
	cache, err := thumbcache.Default()
	if err != nil {
		logging.Fatal("Failed to initialize thumbnail cache: %v", err)
	}

	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.OnPressure(cache.TrimMemory)
	monitor.Start()

	gen, err := thumbnail.New(thumbnail.Options{
		Source:  src,
		Cache:   cache,
		Codec:   imgCodec,
		Quality: codec.ParseQuality(cfg.ThumbnailQuality),
		Memory:  monitor,
		Retry:   retry,
	})
	if err != nil {
		logging.Fatal("Failed to initialize thumbnail generator: %v", err)
	}

	engine := notify.New(src, notify.Options{
		Strategy:        cfg.NotifyStrategy,
		DefaultInterval: cfg.UpdateInterval,
		IncludeHidden:   cfg.IncludeHidden,
		Retry:           retry,
	})

	warmer, err := warmup.New(warmup.Options{
		Generator:     gen,
		Root:          cfg.RootDir,
		Size:          item.Square(cfg.ThumbnailSize),
		Workers:       cfg.WarmupWorkers,
		IncludeHidden: cfg.IncludeHidden,
	})
	if err != nil {
		logging.Fatal("Failed to initialize cache warm-up: %v", err)
	}

	collector := metrics.NewCollector(&statsAdapter{cache: cache, db: db}, time.Minute)
	collector.Start()

	// Initialize handlers
	h, err := handlers.New(handlers.Options{
		Generator:     gen,
		Engine:        engine,
		Codec:         imgCodec,
		Database:      db,
		Warmer:        warmer,
		RootDir:       cfg.RootDir,
		ThumbnailSize: cfg.ThumbnailSize,
		Retry:         retry,
	})
	if err != nil {
		logging.Fatal("Failed to initialize handlers: %v", err)
	}

	router := setupRouter(h)
	config.LogHTTPRoutes(router, cfg.LogHealthChecks)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      wrapHandler(router, cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		metricsSrv = newMetricsServer(cfg.MetricsPort, h)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	if cfg.WarmupOnStart {
		if err := warmer.Start(context.Background()); err != nil {
			logging.Warn("Cache warm-up not started: %v", err)
		}
	}

	go handleShutdown(srv, metricsSrv, shutdownDeps{
		warmer:    warmer,
		engine:    engine,
		collector: collector,
		monitor:   monitor,
		db:        db,
	})

	config.LogServerStarted(config.ServerConfig{
		Port:            cfg.Port,
		MetricsPort:     cfg.MetricsPort,
		MetricsEnabled:  cfg.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("Server error: %v", err)
	}
}

// newSource returns the status source named in the configuration.
func newSource(name string, db *database.Database, retry filesystem.RetryConfig) (provider.Source, error) {
	switch name {
	case config.ProviderManifest:
		return provider.NewManifestSource(db, retry), nil
	case config.ProviderLocal:
		return provider.NewLocalSource(retry), nil
	case config.ProviderXattr:
		return provider.NewXattrSource(retry), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	// Health check and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", h.GetVersion).Methods("GET")

	// Thumbnails and status
	api.HandleFunc("/thumbnail/{path:.*}", h.GetThumbnail).Methods("GET")
	api.HandleFunc("/status/{path:.*}", h.GetStatus).Methods("GET")
	api.HandleFunc("/status/{path:.*}", h.ReportStatus).Methods("PUT")
	api.HandleFunc("/materialize/{path:.*}", h.Materialize).Methods("POST")
	api.HandleFunc("/requests", h.ListRequests).Methods("GET")
	api.HandleFunc("/manifest", h.GetManifestStats).Methods("GET")

	// Event streams
	api.HandleFunc("/events/item/{path:.*}", h.ItemEvents).Methods("GET")
	api.HandleFunc("/events/completion/{path:.*}", h.CompletionEvents).Methods("GET")
	api.HandleFunc("/events/directory/{path:.*}", h.DirectoryEvents).Methods("GET")

	// Cache
	api.HandleFunc("/cache", h.GetCacheStats).Methods("GET")
	api.HandleFunc("/cache", h.ClearCache).Methods("DELETE")
	api.HandleFunc("/cache/item/{path:.*}", h.InvalidateItem).Methods("DELETE")
	api.HandleFunc("/cache/warm", h.GetWarmup).Methods("GET")
	api.HandleFunc("/cache/warm", h.StartWarmup).Methods("POST")

	return r
}

// wrapHandler applies request logging and compression around the router.
func wrapHandler(router http.Handler, cfg *config.Config) http.Handler {
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = cfg.LogHealthChecks
	loggedHandler := middleware.Logger(loggingConfig)(router)

	return middleware.Compression(middleware.DefaultCompressionConfig())(loggedHandler)
}

func newMetricsServer(port string, h *handlers.Handlers) *http.Server {
	m := http.NewServeMux()
	m.Handle("/metrics", h.MetricsHandler())
	m.HandleFunc("/health", h.LivenessCheck)
	return &http.Server{
		Addr:              ":" + port,
		Handler:           m,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// statsAdapter feeds the metrics collector. Live subscriptions are not
// included; the engine keeps SubscriptionsActive current itself.
type statsAdapter struct {
	cache *thumbcache.Cache
	db    *database.Database
}

func (a *statsAdapter) GetStats() metrics.Stats {
	var stats metrics.Stats
	if a.cache != nil {
		if n, err := a.cache.TotalSize(); err == nil {
			stats.DiskCacheBytes = n
		}
		stats.MemoryEntries, stats.MemoryBytes = a.cache.MemoryStats()
	}
	if a.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if counts, err := a.db.CountByState(ctx); err == nil {
			stats.ManifestByState = counts
		} else {
			logging.Debug("manifest counts unavailable: %v", err)
		}
	}
	return stats
}

type shutdownDeps struct {
	warmer    *warmup.Warmer
	engine    *notify.Engine
	collector *metrics.Collector
	monitor   *memory.Monitor
	db        *database.Database
}

func handleShutdown(srv, metricsSrv *http.Server, deps shutdownDeps) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	config.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	config.LogShutdownStep("Stopping cache warm-up")
	deps.warmer.Stop()
	config.LogShutdownStepComplete("Cache warm-up stopped")

	// Event streams only end with their subscriptions.
	config.LogShutdownStep("Closing subscriptions")
	deps.engine.Close()
	config.LogShutdownStepComplete("Subscriptions closed")

	config.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		config.LogShutdownStepComplete("HTTP server stopped")
	}

	if metricsSrv != nil {
		config.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			config.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	deps.collector.Stop()
	deps.monitor.Stop()

	config.LogShutdownStep("Closing database")
	if err := deps.db.Close(); err != nil {
		logging.Warn("Database close error: %v", err)
	} else {
		config.LogShutdownStepComplete("Database closed")
	}

	codec.ShutdownVips()
	config.LogShutdownComplete()
}
