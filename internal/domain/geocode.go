package domain

import (
	"context"
	"log/slog"
)

// DescribeLocation reverse-geocodes coordinates into a display name such as
// "Austin". If geocoder is nil or the lookup fails, it returns "" so callers
// can render coordinates instead (graceful degradation).
func DescribeLocation(ctx context.Context, c Coordinates, geocoder Geocoder, logger *slog.Logger) string {
	if geocoder == nil {
		return ""
	}

	result, err := geocoder.ReverseGeocode(ctx, c.Lat, c.Lng)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", c.Lat,
			"lng", c.Lng,
			"error", err,
		)
		return ""
	}
	if result.PlaceName != "" {
		return result.PlaceName
	}
	return result.FormattedAddress
}

// ResolvePlace forward-geocodes a typed place name into coordinates.
// An empty result is reported as a location error.
func ResolvePlace(ctx context.Context, query string, geocoder Geocoder) (Coordinates, error) {
	if geocoder == nil {
		return Coordinates{}, &LocationError{Reason: ReasonUnsupported}
	}
	result, err := geocoder.ForwardGeocode(ctx, query)
	if err != nil {
		return Coordinates{}, &LocationError{Reason: ReasonUnavailable, Err: err}
	}
	if result.Lat == 0 && result.Lng == 0 {
		return Coordinates{}, &LocationError{Reason: ReasonUnavailable}
	}
	return Coordinates{Lat: result.Lat, Lng: result.Lng}, nil
}
