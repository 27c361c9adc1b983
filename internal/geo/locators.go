package geo

import (
	"context"
	"sync"

	"github.com/couchcryptid/catalog-feed/internal/domain"
)

// FixedLocator reports coordinates supplied by the client.
type FixedLocator struct {
	Coords domain.Coordinates
}

// Locate returns the fixed coordinates unless ctx is already done.
func (l FixedLocator) Locate(ctx context.Context, _ domain.LocateOptions) (domain.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return domain.Coordinates{}, &domain.LocationError{Reason: domain.ReasonUnavailable, Err: err}
	}
	return l.Coords, nil
}

// PlaceLocator resolves a typed place name through a geocoder.
type PlaceLocator struct {
	Query    string
	Geocoder domain.Geocoder
}

// Locate forward-geocodes the place name.
func (l PlaceLocator) Locate(ctx context.Context, _ domain.LocateOptions) (domain.Coordinates, error) {
	return domain.ResolvePlace(ctx, l.Query, l.Geocoder)
}

// UnsupportedLocator fails every request. It stands in when the client
// offers no way to locate it.
type UnsupportedLocator struct{}

// Locate always reports ReasonUnsupported.
func (UnsupportedLocator) Locate(context.Context, domain.LocateOptions) (domain.Coordinates, error) {
	return domain.Coordinates{}, &domain.LocationError{Reason: domain.ReasonUnsupported}
}

// ClientLocator locates a remote client from whatever it last reported:
// coordinates, a place name, or nothing. It is safe for concurrent use.
type ClientLocator struct {
	geocoder domain.Geocoder

	mu     sync.Mutex
	coords *domain.Coordinates
	place  string
}

// NewClientLocator creates a locator that resolves place names with
// geocoder, which may be nil.
func NewClientLocator(geocoder domain.Geocoder) *ClientLocator {
	return &ClientLocator{geocoder: geocoder}
}

// SetCoordinates records a position reported by the client.
func (l *ClientLocator) SetCoordinates(c domain.Coordinates) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.coords = &c
	l.place = ""
}

// SetPlace records a place name typed by the client.
func (l *ClientLocator) SetPlace(query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.coords = nil
	l.place = query
}

// Locate resolves the last report.
func (l *ClientLocator) Locate(ctx context.Context, opts domain.LocateOptions) (domain.Coordinates, error) {
	l.mu.Lock()
	coords, place := l.coords, l.place
	l.mu.Unlock()

	switch {
	case coords != nil:
		return FixedLocator{Coords: *coords}.Locate(ctx, opts)
	case place != "":
		return PlaceLocator{Query: place, Geocoder: l.geocoder}.Locate(ctx, opts)
	default:
		return UnsupportedLocator{}.Locate(ctx, opts)
	}
}
