package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock geocoder ---

type mockGeocoder struct {
	forwardResult GeocodingResult
	forwardErr    error
	reverseResult GeocodingResult
	reverseErr    error
	forwardCalls  int
	reverseCalls  int
}

func (m *mockGeocoder) ForwardGeocode(_ context.Context, _ string) (GeocodingResult, error) {
	m.forwardCalls++
	return m.forwardResult, m.forwardErr
}

func (m *mockGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (GeocodingResult, error) {
	m.reverseCalls++
	return m.reverseResult, m.reverseErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestDescribeLocation_NilGeocoder(t *testing.T) {
	name := DescribeLocation(context.Background(), Coordinates{Lat: 30.27, Lng: -97.74}, nil, discardLogger())
	assert.Empty(t, name)
}

func TestDescribeLocation_PlaceName(t *testing.T) {
	geo := &mockGeocoder{
		reverseResult: GeocodingResult{PlaceName: "Austin", FormattedAddress: "Austin, Texas, United States"},
	}

	name := DescribeLocation(context.Background(), Coordinates{Lat: 30.27, Lng: -97.74}, geo, discardLogger())

	assert.Equal(t, "Austin", name)
	assert.Equal(t, 1, geo.reverseCalls)
	assert.Equal(t, 0, geo.forwardCalls)
}

func TestDescribeLocation_FallsBackToAddress(t *testing.T) {
	geo := &mockGeocoder{
		reverseResult: GeocodingResult{FormattedAddress: "Travis County, Texas"},
	}

	name := DescribeLocation(context.Background(), Coordinates{Lat: 30.27, Lng: -97.74}, geo, discardLogger())
	assert.Equal(t, "Travis County, Texas", name)
}

func TestDescribeLocation_ErrorDegrades(t *testing.T) {
	geo := &mockGeocoder{reverseErr: errors.New("api down")}

	name := DescribeLocation(context.Background(), Coordinates{Lat: 30.27, Lng: -97.74}, geo, discardLogger())
	assert.Empty(t, name)
	assert.Equal(t, 1, geo.reverseCalls)
}

func TestResolvePlace(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		geo := &mockGeocoder{forwardResult: GeocodingResult{Lat: 30.2672, Lng: -97.7431, PlaceName: "Austin"}}

		c, err := ResolvePlace(context.Background(), "Austin, TX", geo)
		require.NoError(t, err)
		assert.Equal(t, Coordinates{Lat: 30.2672, Lng: -97.7431}, c)
	})

	t.Run("not found", func(t *testing.T) {
		geo := &mockGeocoder{}

		_, err := ResolvePlace(context.Background(), "Nowhere", geo)
		require.ErrorIs(t, err, ErrLocationUnavailable)

		var le *LocationError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, ReasonUnavailable, le.Reason)
	})

	t.Run("geocoder error", func(t *testing.T) {
		geo := &mockGeocoder{forwardErr: errors.New("timeout")}

		_, err := ResolvePlace(context.Background(), "Austin", geo)
		require.ErrorIs(t, err, ErrLocationUnavailable)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("no geocoder", func(t *testing.T) {
		_, err := ResolvePlace(context.Background(), "Austin", nil)

		var le *LocationError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, ReasonUnsupported, le.Reason)
	})
}
