package domain

import (
	"context"
	"math"
	"time"
)

const earthRadiusKm = 6371.0088

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Coordinates) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// GeoStatus is the phase of a location request cycle.
type GeoStatus int

const (
	GeoIdle GeoStatus = iota
	GeoRequesting
	GeoReady
	GeoError
)

func (s GeoStatus) String() string {
	switch s {
	case GeoIdle:
		return "idle"
	case GeoRequesting:
		return "requesting"
	case GeoReady:
		return "ready"
	case GeoError:
		return "error"
	default:
		return "unknown"
	}
}

// GeoState is the state of a location provider. Coords is only meaningful
// when Status is GeoReady; Reason and Err only when Status is GeoError.
type GeoState struct {
	Status GeoStatus
	Coords Coordinates
	Reason LocationReason
	Err    error
}

// Terminal reports whether the current request cycle has finished.
func (s GeoState) Terminal() bool {
	return s.Status == GeoReady || s.Status == GeoError
}

// LocateOptions configures a single location acquisition.
type LocateOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
}

// Locator acquires the device position once per call. Failures should be
// reported as *LocationError so the reason is preserved.
type Locator interface {
	Locate(ctx context.Context, opts LocateOptions) (Coordinates, error)
}
