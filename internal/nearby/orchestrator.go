// Package nearby runs distance-sorted feeds scoped to the caller's location.
package nearby

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/feed"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

// ErrNoSearch is returned by More before any successful Search.
var ErrNoSearch = errors.New("no nearby search in progress")

// DefaultMaxRadiusKm bounds the search radius unless overridden.
const DefaultMaxRadiusKm = 100

// LocationSource is the part of geo.Provider the orchestrator needs.
type LocationSource interface {
	Request(ctx context.Context)
	State() domain.GeoState
	Await(ctx context.Context) (domain.GeoState, error)
}

// LocationUnavailableError reports that a nearby search could not run
// because no location was acquired. It matches domain.ErrLocationUnavailable.
type LocationUnavailableError struct {
	Reason domain.LocationReason
	Err    error
}

func (e *LocationUnavailableError) Error() string {
	return fmt.Sprintf("location unavailable: %s", e.Reason)
}

func (e *LocationUnavailableError) Unwrap() error { return e.Err }

func (e *LocationUnavailableError) Is(target error) bool {
	return target == domain.ErrLocationUnavailable
}

// Result is the state of a nearby feed after a Search or More call.
type Result struct {
	Key       domain.QueryKey
	Outcome   domain.LoadOutcome
	Entry     domain.FeedEntry
	Coords    domain.Coordinates
	RadiusKm  float64
	PlaceName string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGeocoder names the search origin in results.
func WithGeocoder(g domain.Geocoder) Option { return func(o *Orchestrator) { o.geocoder = g } }

// WithScope keeps the orchestrator's feeds apart from those of other
// scopes sharing the same cache, typically one scope per client session.
func WithScope(scope string) Option { return func(o *Orchestrator) { o.scope = scope } }

// WithMaxRadius sets the largest accepted radius.
func WithMaxRadius(km float64) Option { return func(o *Orchestrator) { o.maxRadiusKm = km } }

type search struct {
	key      domain.QueryKey
	filter   domain.FilterConfig
	coords   domain.Coordinates
	radiusKm float64
	place    string
}

// Orchestrator composes a location source with the shared feed loader.
type Orchestrator struct {
	location    LocationSource
	loader      *feed.Loader
	fetcher     domain.PageFetcher
	geocoder    domain.Geocoder
	maxRadiusKm float64
	scope       string
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu      sync.Mutex
	current *search
}

// New creates an Orchestrator.
func New(location LocationSource, loader *feed.Loader, fetcher domain.PageFetcher, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		location:    location,
		loader:      loader,
		fetcher:     fetcher,
		maxRadiusKm: DefaultMaxRadiusKm,
		logger:      logger,
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Relocate asks for fresh coordinates. The next Search waits for them.
func (o *Orchestrator) Relocate(ctx context.Context) {
	o.location.Request(ctx)
}

// Search starts a nearby feed of radiusKm around the current location,
// narrowed by extra. It waits for the location, requesting it when none
// was acquired yet or the last attempt failed. Without a location it
// returns a *LocationUnavailableError and does not call the backend.
func (o *Orchestrator) Search(ctx context.Context, radiusKm float64, extra domain.FilterConfig) (Result, error) {
	if !(radiusKm > 0 && radiusKm <= o.maxRadiusKm) {
		return Result{}, domain.NewValidationError(domain.FilterRadiusKm,
			fmt.Sprintf("must be greater than 0 and at most %g", o.maxRadiusKm))
	}
	if err := extra.Validate(); err != nil {
		return Result{}, err
	}

	if st := o.location.State(); st.Status == domain.GeoIdle || st.Status == domain.GeoError {
		o.location.Request(ctx)
	}
	st, err := o.location.Await(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("await location: %w", err)
	}
	if st.Status != domain.GeoReady {
		o.metrics.NearbySearches.WithLabelValues("location_unavailable").Inc()
		return Result{}, &LocationUnavailableError{Reason: st.Reason, Err: st.Err}
	}

	filter := extra.WithLocation(st.Coords, radiusKm)
	next := &search{
		key:      nearbyKey(o.scope, filter),
		filter:   filter,
		coords:   st.Coords,
		radiusKm: radiusKm,
		place:    domain.DescribeLocation(ctx, st.Coords, o.geocoder, o.logger),
	}

	o.mu.Lock()
	prev := o.current
	o.current = next
	o.mu.Unlock()

	cache := o.loader.Cache()
	if prev != nil && prev.key != next.key {
		cache.Delete(prev.key)
	}
	cache.Reset(next.key, feed.WithOrdering(sortByDistance))

	o.logger.Info("nearby search",
		"query_key", next.key,
		"radius_km", radiusKm,
		"lat", st.Coords.Lat,
		"lng", st.Coords.Lng,
	)
	return o.load(ctx, next)
}

// More loads the next page of the current nearby feed.
func (o *Orchestrator) More(ctx context.Context) (Result, error) {
	o.mu.Lock()
	cur := o.current
	o.mu.Unlock()

	if cur == nil {
		return Result{}, ErrNoSearch
	}
	return o.load(ctx, cur)
}

// Snapshot returns the cached state of the current nearby feed.
func (o *Orchestrator) Snapshot() (Result, bool) {
	o.mu.Lock()
	cur := o.current
	o.mu.Unlock()

	if cur == nil {
		return Result{}, false
	}
	entry, ok := o.loader.Cache().Get(cur.key)
	if !ok {
		return Result{}, false
	}
	return cur.result(domain.OutcomeLoaded, entry), true
}

func (o *Orchestrator) load(ctx context.Context, s *search) (Result, error) {
	res, err := o.loader.LoadNext(ctx, s.key, func(ctx context.Context, page int) (domain.Page, error) {
		return o.fetcher.FetchPage(ctx, s.filter, page)
	}, feed.WithOrdering(sortByDistance))
	if err != nil {
		o.metrics.NearbySearches.WithLabelValues("failed").Inc()
		return s.result(res.Outcome, res.Entry), err
	}
	o.metrics.NearbySearches.WithLabelValues(string(res.Outcome)).Inc()

	entry := res.Entry
	if res.Outcome == domain.OutcomeSkipped || res.Outcome == domain.OutcomeStale {
		entry, _ = o.loader.Cache().Get(s.key)
	}
	return s.result(res.Outcome, entry), nil
}

// nearbyKey namespaces the cache key of a geo filter so that ordinary feeds
// and other scopes never touch it.
func nearbyKey(scope string, filter domain.FilterConfig) domain.QueryKey {
	return domain.QueryKey("nearby:" + scope + ":" + string(filter.Key()))
}

func (s *search) result(outcome domain.LoadOutcome, entry domain.FeedEntry) Result {
	return Result{
		Key:       s.key,
		Outcome:   outcome,
		Entry:     entry,
		Coords:    s.coords,
		RadiusKm:  s.radiusKm,
		PlaceName: s.place,
	}
}

// sortByDistance orders items by ascending distance. Ties keep arrival
// order and items without a distance go last.
func sortByDistance(items []domain.ListingPreview) {
	slices.SortStableFunc(items, func(a, b domain.ListingPreview) int {
		switch {
		case a.Distance == nil && b.Distance == nil:
			return 0
		case a.Distance == nil:
			return 1
		case b.Distance == nil:
			return -1
		}
		return cmp.Compare(*a.Distance, *b.Distance)
	})
}
