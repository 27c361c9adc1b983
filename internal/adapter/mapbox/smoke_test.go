//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		observability.NewMetricsForTesting())
}

func TestSmoke_ForwardGeocode(t *testing.T) {
	c := smokeClient(t)

	result, err := c.ForwardGeocode(context.Background(), "Austin, TX")
	require.NoError(t, err)

	assert.InDelta(t, 30.27, result.Lat, 0.1, "lat should be near Austin")
	assert.InDelta(t, -97.74, result.Lng, 0.1, "lng should be near Austin")
	assert.Contains(t, result.FormattedAddress, "Austin")
	assert.Equal(t, "Austin", result.PlaceName)
	assert.Greater(t, result.Confidence, 0.5)
}

func TestSmoke_ReverseGeocode(t *testing.T) {
	c := smokeClient(t)

	// Downtown Austin, TX
	result, err := c.ReverseGeocode(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)

	assert.NotEmpty(t, result.FormattedAddress)
	assert.NotEmpty(t, result.PlaceName)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestSmoke_ResolvePlace(t *testing.T) {
	c := smokeClient(t)

	coords, err := domain.ResolvePlace(context.Background(), "78701", c)
	require.NoError(t, err)
	assert.InDelta(t, 30.27, coords.Lat, 0.2)
	assert.InDelta(t, -97.74, coords.Lng, 0.2)
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	c := smokeClient(t)
	cached, err := NewCachedGeocoder(c, 10, observability.NewMetricsForTesting())
	require.NoError(t, err)

	// First call: cache miss → real API call.
	r1, err := cached.ForwardGeocode(context.Background(), "Dallas, TX")
	require.NoError(t, err)
	assert.Contains(t, r1.FormattedAddress, "Dallas")

	// Second call: cache hit → no API call.
	r2, err := cached.ForwardGeocode(context.Background(), "Dallas, TX")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}
