package mapbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/catalog-feed/internal/domain"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	forwardCalls atomic.Int32
	reverseCalls atomic.Int32
	result       domain.GeocodingResult
	err          error
	gate         chan struct{} // when set, calls wait for it to close
}

func (m *countingGeocoder) ForwardGeocode(_ context.Context, _ string) (domain.GeocodingResult, error) {
	m.forwardCalls.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	return m.result, m.err
}

func (m *countingGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	m.reverseCalls.Add(1)
	return m.result, m.err
}

func newTestCached(t *testing.T, inner domain.Geocoder, size int) *CachedGeocoder {
	t.Helper()
	cached, err := NewCachedGeocoder(inner, size, testMetrics())
	require.NoError(t, err)
	return cached
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_ForwardCacheHit(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{Lat: 30.0, Lng: -97.0, PlaceName: "Austin", FormattedAddress: "Austin, TX"},
	}
	cached := newTestCached(t, inner, 10)

	r1, err := cached.ForwardGeocode(context.Background(), "Austin, TX")
	require.NoError(t, err)
	assert.Equal(t, "Austin", r1.PlaceName)

	r2, err := cached.ForwardGeocode(context.Background(), "  austin, tx")
	require.NoError(t, err)
	assert.Equal(t, "Austin", r2.PlaceName)

	assert.Equal(t, int32(1), inner.forwardCalls.Load(), "should only call inner once")
	assert.InDelta(t, 1.0, testutil.ToFloat64(cached.metrics.GeocodeCache.WithLabelValues("forward", "hit")), 1e-9)
}

func TestCachedGeocoder_ReverseCacheHit(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{FormattedAddress: "Austin, TX"},
	}
	cached := newTestCached(t, inner, 10)

	_, err := cached.ReverseGeocode(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)

	_, err = cached.ReverseGeocode(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.reverseCalls.Load(), "should only call inner once")
}

func TestCachedGeocoder_DifferentKeysMiss(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{PlaceName: "Place", FormattedAddress: "Place, TX"},
	}
	cached := newTestCached(t, inner, 10)

	_, _ = cached.ForwardGeocode(context.Background(), "Austin, TX")
	_, _ = cached.ForwardGeocode(context.Background(), "Dallas, TX")

	assert.Equal(t, int32(2), inner.forwardCalls.Load())
}

func TestCachedGeocoder_EmptyAndErrorsNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := newTestCached(t, inner, 10)

	_, _ = cached.ForwardGeocode(context.Background(), "Nowhere")
	_, _ = cached.ForwardGeocode(context.Background(), "Nowhere")
	assert.Equal(t, int32(2), inner.forwardCalls.Load())

	inner.err = errors.New("upstream down")
	_, err := cached.ReverseGeocode(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, 0, cached.Len())
}

func TestCachedGeocoder_Eviction(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "X"}}
	cached := newTestCached(t, inner, 2)

	_, _ = cached.ForwardGeocode(context.Background(), "a")
	_, _ = cached.ForwardGeocode(context.Background(), "b")
	_, _ = cached.ForwardGeocode(context.Background(), "c") // evicts "a"
	assert.Equal(t, 2, cached.Len())

	_, _ = cached.ForwardGeocode(context.Background(), "a")
	assert.Equal(t, int32(4), inner.forwardCalls.Load(), "a should have been evicted")
}

func TestCachedGeocoder_ConcurrentLookupsShareCall(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{FormattedAddress: "Austin, TX"},
		gate:   make(chan struct{}),
	}
	cached := newTestCached(t, inner, 10)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := cached.ForwardGeocode(context.Background(), "Austin, TX")
			assert.NoError(t, err)
			assert.Equal(t, "Austin, TX", r.FormattedAddress)
		}()
	}

	require.Eventually(t, func() bool { return inner.forwardCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the other lookups join the flight
	close(inner.gate)
	wg.Wait()

	assert.Equal(t, int32(1), inner.forwardCalls.Load())
}

func TestNewCachedGeocoder_InvalidSize(t *testing.T) {
	_, err := NewCachedGeocoder(&countingGeocoder{}, 0, testMetrics())
	require.Error(t, err)
}
