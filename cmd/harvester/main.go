// Package main wires together the harvester service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/govbrnews/harvester/internal/api"
	"github.com/govbrnews/harvester/internal/archive"
	"github.com/govbrnews/harvester/internal/config"
	"github.com/govbrnews/harvester/internal/harvest"
	"github.com/govbrnews/harvester/internal/logging"
	"github.com/govbrnews/harvester/internal/metrics"
	"github.com/govbrnews/harvester/internal/notify"
	"github.com/govbrnews/harvester/internal/scraper"
	"github.com/govbrnews/harvester/internal/source"
	"github.com/govbrnews/harvester/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("harvester exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	table, err := source.LoadTable(cfg.Sources.Path)
	if err != nil {
		return fmt.Errorf("load source table: %w", err)
	}
	logger.Info("source table loaded", zap.Int("sources", table.Len()))

	store, err := postgres.NewNewsStore(ctx, postgres.NewsStoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime(),
	}, logger)
	if err != nil {
		return fmt.Errorf("open news store: %w", err)
	}
	defer store.Close()

	var transport notify.Transport
	if cfg.PubSub.TopicName != "" {
		t, err := notify.NewPubSubTransport(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Warn("pubsub init failed, event publishing disabled", zap.Error(err))
		} else {
			transport = t
			logger.Info("event publisher enabled", zap.String("topic", cfg.PubSub.TopicName))
		}
	} else {
		logger.Info("pubsub topic not set, event publishing disabled")
	}
	notifier := notify.New(transport, logger)

	fetcher := scraper.NewFetcher(scraper.FetcherConfig{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})

	var extractorOpts []scraper.ExtractorOption
	if cfg.Archive.Enabled {
		pageArchive, err := archive.NewGCSArchive(ctx, cfg.Archive.GCSBucket, cfg.Archive.Prefix)
		if err != nil {
			logger.Warn("page archive init failed, archiving disabled", zap.Error(err))
		} else {
			extractorOpts = append(extractorOpts, scraper.WithArchiver(pageArchive))
		}
	}
	extractor := scraper.NewExtractor(fetcher, cfg.Scraper.MaxPages, logger, extractorOpts...)

	coordinator := harvest.NewCoordinator(
		table,
		extractor,
		harvest.NewNormalizer(logger),
		store,
		notifier,
		cfg.Scraper.BulkWorkers,
		logger,
	)

	server := api.NewServer(coordinator, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("harvester stopped")
	return nil
}
