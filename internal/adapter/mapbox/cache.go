package mapbox

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache. Concurrent
// lookups of the same key share one upstream call.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lru.Cache[string, domain.GeocodingResult]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) (*CachedGeocoder, error) {
	cache, err := lru.New[string, domain.GeocodingResult](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create geocode cache: %w", err)
	}
	return &CachedGeocoder{inner: inner, cache: cache, metrics: metrics}, nil
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	key := "fwd:" + strings.ToLower(strings.TrimSpace(query))
	return c.lookup(ctx, "forward", key, func(ctx context.Context) (domain.GeocodingResult, error) {
		return c.inner.ForwardGeocode(ctx, query)
	})
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (domain.GeocodingResult, error) {
	key := fmt.Sprintf("rev:%.6f,%.6f", lat, lng)
	return c.lookup(ctx, "reverse", key, func(ctx context.Context) (domain.GeocodingResult, error) {
		return c.inner.ReverseGeocode(ctx, lat, lng)
	})
}

func (c *CachedGeocoder) lookup(ctx context.Context, method, key string, fetch func(context.Context) (domain.GeocodingResult, error)) (domain.GeocodingResult, error) {
	if result, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues(method, "hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues(method, "miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		result, err := fetch(ctx)
		if err != nil {
			return result, err
		}
		// Only cache non-empty results so transient "not found" responses can be retried.
		if result.FormattedAddress != "" {
			c.cache.Add(key, result)
		}
		return result, nil
	})
	if err != nil {
		return domain.GeocodingResult{}, err
	}
	return v.(domain.GeocodingResult), nil
}

// Len returns the number of cached results.
func (c *CachedGeocoder) Len() int { return c.cache.Len() }
