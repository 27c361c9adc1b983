package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Catalog backend.
	CatalogAPIURL     string
	CatalogAPITimeout time.Duration
	CatalogPageSize   int
	CatalogRateLimit  float64

	FeedCacheSize int

	// Device location and nearby search.
	GeoTimeout            time.Duration
	GeoHighAccuracy       bool
	NearbyDefaultRadiusKm float64
	NearbyMaxRadiusKm     float64
	NearbyMaxSessions     int

	// Load event analytics.
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaEventsTopic string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	catalogTimeout, err := parsePositiveDuration("CATALOG_API_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	geoTimeout, err := parsePositiveDuration("GEO_TIMEOUT", "8s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	pageSize, err := parseInt("CATALOG_PAGE_SIZE", 20)
	if err != nil {
		return nil, err
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, fmt.Errorf("invalid CATALOG_PAGE_SIZE %d: must be between 1 and 100", pageSize)
	}

	cacheSize, err := parseInt("FEED_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	if cacheSize < 1 {
		return nil, fmt.Errorf("invalid FEED_CACHE_SIZE %d: must be positive", cacheSize)
	}

	rateLimit, err := parseFloat("CATALOG_RATE_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	if rateLimit <= 0 {
		return nil, errors.New("invalid CATALOG_RATE_LIMIT: must be positive")
	}

	defaultRadius, err := parseFloat("NEARBY_DEFAULT_RADIUS_KM", 10)
	if err != nil {
		return nil, err
	}
	maxRadius, err := parseFloat("NEARBY_MAX_RADIUS_KM", 100)
	if err != nil {
		return nil, err
	}
	if defaultRadius <= 0 || maxRadius <= 0 || defaultRadius > maxRadius {
		return nil, errors.New("invalid NEARBY_DEFAULT_RADIUS_KM: must be positive and not exceed NEARBY_MAX_RADIUS_KM")
	}

	maxSessions, err := parseInt("NEARBY_MAX_SESSIONS", 1024)
	if err != nil {
		return nil, err
	}
	if maxSessions < 1 {
		return nil, fmt.Errorf("invalid NEARBY_MAX_SESSIONS %d: must be positive", maxSessions)
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CatalogAPIURL:     sharedcfg.EnvOrDefault("CATALOG_API_URL", "http://localhost:8081"),
		CatalogAPITimeout: catalogTimeout,
		CatalogPageSize:   pageSize,
		CatalogRateLimit:  rateLimit,

		FeedCacheSize: cacheSize,

		GeoTimeout:            geoTimeout,
		GeoHighAccuracy:       sharedcfg.EnvOrDefault("GEO_HIGH_ACCURACY", "true") != "false",
		NearbyDefaultRadiusKm: defaultRadius,
		NearbyMaxRadiusKm:     maxRadius,
		NearbyMaxSessions:     maxSessions,

		KafkaEnabled:     sharedcfg.EnvOrDefault("KAFKA_ENABLED", "false") == "true",
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaEventsTopic: sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "catalog-feed-events"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	if u, err := url.Parse(cfg.CatalogAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid CATALOG_API_URL %q", cfg.CatalogAPIURL)
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaEventsTopic == "" {
			return nil, errors.New("KAFKA_EVENTS_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
