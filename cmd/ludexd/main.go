package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ludexhq/ludex/pkg/api"
	"github.com/ludexhq/ludex/pkg/artwork"
	"github.com/ludexhq/ludex/pkg/catalog"
	"github.com/ludexhq/ludex/pkg/config"
	"github.com/ludexhq/ludex/pkg/downloads"
	"github.com/ludexhq/ludex/pkg/feed"
	"github.com/ludexhq/ludex/pkg/logging"
	"github.com/ludexhq/ludex/pkg/prefs"
	"github.com/ludexhq/ludex/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to YAML config file (optional)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("ludexd %s (%s, built %s)\n", version, commit, buildDate)
		return
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ludexd",
		zap.String("version", version),
		zap.String("bind", cfg.Server.Bind))

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.TraceEnabled {
		tracer, err = telemetry.NewTracerProvider("ludexd", version)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
	}

	store, err := prefs.New(filepath.Join(cfg.Storage.DataDir, "prefs.db"))
	if err != nil {
		return fmt.Errorf("opening prefs store: %w", err)
	}

	lastSearch, err := store.LastSearch(context.Background())
	if err != nil {
		logger.Warn("reading last search failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	artClient := artwork.NewClient(cfg.Artwork.BaseURL, artwork.Options{
		Logger: logger.Named("artwork"),
	})
	preference := artwork.Preference{
		Sources: cfg.Artwork.PreferredSources,
		Hosts:   cfg.Artwork.PreferredHosts,
	}

	cache := catalog.NewCache(
		catalog.NewSearchClient(cfg.Catalog.SearchBase, catalog.ClientOptions{Logger: logger.Named("search")}),
		catalog.NewLegacyClient(cfg.Catalog.LegacyBase, catalog.ClientOptions{Logger: logger.Named("legacy")}),
		artClient,
		catalog.CacheOptions{
			PageSize:   cfg.Catalog.PageSize,
			Preference: preference,
			Logger:     logger.Named("catalog"),
		},
	)
	refresher := catalog.NewRefresher(cache, artClient, catalog.RefresherOptions{
		MaxVisible: cfg.Catalog.MaxVisible,
		Debounce:   cfg.Catalog.RefreshDebounce,
		Preference: preference,
		Logger:     logger.Named("refresh"),
	})

	feedClient := feed.NewClient(cfg.API.BaseURL, cfg.API.Token, feed.ClientOptions{
		Logger: logger.Named("feed"),
	})
	var push feed.PushStream
	if p, err := feed.NewPush(cfg.API.BaseURL, cfg.API.Token, feed.PushOptions{
		Logger: logger.Named("push"),
	}); err != nil {
		logger.Warn("push channel unavailable, continuing with poll only", zap.Error(err))
	} else {
		push = p
	}

	synchronizer := feed.NewSynchronizer(feedClient, push, feed.Options{
		FetchLimit:   cfg.Comments.FetchLimit,
		WindowSize:   cfg.Comments.WindowSize,
		PollInterval: cfg.Comments.PollInterval,
		Logger:       logger.Named("comments"),
	})

	loadCtx, loadCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := synchronizer.LoadInitial(loadCtx); err != nil {
		logger.Warn("initial comment load failed", zap.Error(err))
	}
	loadCancel()
	synchronizer.Start()

	engine := downloads.NewHTTPEngine(cfg.Downloads.EngineBase, downloads.EngineOptions{
		Logger: logger.Named("engine"),
	})

	server := api.NewServer(api.ServerConfig{
		Bind:           cfg.Server.Bind,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Feed:           synchronizer,
		Catalog:        cache,
		Visible:        refresher,
		Downloads:      downloads.NewManager(engine, logger.Named("downloads")),
		Prefs:          store,
		LastSearch:     lastSearch,
		Logger:         logger.Named("api"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	runErr := g.Wait()

	// Teardown in dependency order: the API stopped with the group; then the
	// feed loops, the refresh timer, and finally the durable store.
	if err := synchronizer.Close(); err != nil {
		logger.Warn("closing comment synchronizer", zap.Error(err))
	}
	refresher.Close()
	if err := store.Close(); err != nil {
		logger.Warn("closing prefs store", zap.Error(err))
	}
	if tracer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flushing tracer", zap.Error(err))
		}
		shutdownCancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("ludexd stopped")
	return nil
}
