package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/catalog-feed/internal/adapter/catalogapi"
	"github.com/couchcryptid/catalog-feed/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/catalog-feed/internal/adapter/kafka"
	"github.com/couchcryptid/catalog-feed/internal/adapter/mapbox"
	"github.com/couchcryptid/catalog-feed/internal/config"
	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/feed"
	"github.com/couchcryptid/catalog-feed/internal/geo"
	"github.com/couchcryptid/catalog-feed/internal/nearby"
	"github.com/couchcryptid/catalog-feed/internal/observability"
	"github.com/couchcryptid/catalog-feed/internal/viewport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	// Geocoding is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		cached, err := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		if err != nil {
			logger.Error("failed to create geocoder", "error", err)
			os.Exit(1)
		}
		geocoder = cached
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	catalog := catalogapi.NewClient(cfg.CatalogAPIURL, cfg.CatalogAPITimeout, cfg.CatalogPageSize,
		cfg.CatalogRateLimit, logger, metrics)

	cache, err := feed.NewCache(cfg.FeedCacheSize, clockwork.NewRealClock(), metrics)
	if err != nil {
		logger.Error("failed to create feed cache", "error", err)
		os.Exit(1)
	}

	var loaderOpts []feed.LoaderOption
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		loaderOpts = append(loaderOpts, feed.WithPublisher(writer))
		logger.Info("load events enabled", "topic", cfg.KafkaEventsTopic, "brokers", cfg.KafkaBrokers)
	}
	loader := feed.NewLoader(cache, logger, metrics, loaderOpts...)
	svc := feed.NewService(loader, catalog, logger)

	sessions, err := nearby.NewSessions(cfg.NearbyMaxSessions, nearby.NewSessionFactory(nearby.SessionDeps{
		Loader:   loader,
		Fetcher:  catalog,
		Geocoder: geocoder,
		Logger:   logger,
		Metrics:  metrics,
		GeoOptions: []geo.Option{
			geo.WithTimeout(cfg.GeoTimeout),
			geo.WithHighAccuracy(cfg.GeoHighAccuracy),
		},
		Options: []nearby.Option{nearby.WithMaxRadius(cfg.NearbyMaxRadiusKm)},
	}))
	if err != nil {
		logger.Error("failed to create session store", "error", err)
		os.Exit(1)
	}

	hub := viewport.NewHub()
	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ready:           svc,
		Feed:            svc,
		Sessions:        sessions,
		Sentinel:        viewport.NewSentinel(hub, logger),
		Hub:             hub,
		DefaultRadiusKm: cfg.NearbyDefaultRadiusKm,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Readiness flips once the unfiltered feed has a page.
	go func() {
		if err := svc.Warm(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("feed warm-up error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	sessions.Close()
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
