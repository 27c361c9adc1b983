package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/feed"
	"github.com/couchcryptid/catalog-feed/internal/nearby"
	"github.com/couchcryptid/catalog-feed/internal/viewport"
)

const (
	paramMarker  = "marker"
	paramNear    = "near"
	paramVisible = "visible"
)

type feedResponse struct {
	QueryKey domain.QueryKey    `json:"query_key"`
	Outcome  domain.LoadOutcome `json:"outcome,omitempty"`
	domain.FeedEntry
}

type nearbyResponse struct {
	QueryKey  domain.QueryKey    `json:"query_key"`
	Outcome   domain.LoadOutcome `json:"outcome,omitempty"`
	Coords    domain.Coordinates `json:"coords"`
	RadiusKm  float64            `json:"radius_km"`
	PlaceName string             `json:"place_name,omitempty"`
	domain.FeedEntry
}

type watchResponse struct {
	Marker   string          `json:"marker"`
	QueryKey domain.QueryKey `json:"query_key"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

func newFeedResponse(key domain.QueryKey, res feed.Result) feedResponse {
	return feedResponse{QueryKey: key, Outcome: res.Outcome, FeedEntry: res.Entry}
}

func newNearbyResponse(res nearby.Result) nearbyResponse {
	return nearbyResponse{
		QueryKey:  res.Key,
		Outcome:   res.Outcome,
		Coords:    res.Coords,
		RadiusKm:  res.RadiusKm,
		PlaceName: res.PlaceName,
		FeedEntry: res.Entry,
	}
}

// handleFeed returns the cached feed for the query filters, loading its
// first page when nothing is cached yet.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	filter, err := domain.FilterFromValues(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entry, ok := s.deps.Feed.Snapshot(filter); ok && entry.Page > 0 {
		sharedobs.WriteJSON(w, http.StatusOK, feedResponse{QueryKey: filter.Key(), FeedEntry: entry})
		return
	}
	s.serveLoad(w, r, filter, s.deps.Feed.More)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	filter, err := domain.FilterFromValues(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveLoad(w, r, filter, s.deps.Feed.Refresh)
}

func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	filter, err := domain.FilterFromValues(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveLoad(w, r, filter, s.deps.Feed.More)
}

func (s *Server) serveLoad(w http.ResponseWriter, r *http.Request, filter domain.FilterConfig,
	load func(context.Context, domain.FilterConfig) (feed.Result, error),
) {
	res, err := load(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, newFeedResponse(filter.Key(), res))
}

// handleWatch loads further pages of a feed in the background whenever the
// client reports the marker as visible.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	marker := values.Get(paramMarker)
	values.Del(paramMarker)
	if marker == "" {
		s.writeError(w, domain.NewValidationError(paramMarker, "is required"))
		return
	}
	filter, err := domain.FilterFromValues(values)
	if err == nil {
		err = filter.Validate()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.mu.Lock()
	if _, ok := s.watches[marker]; ok || s.deps.Sentinel.Watching(marker) {
		s.mu.Unlock()
		s.writeError(w, viewport.ErrAlreadyWatching)
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	wt := &watch{cancel: cancel}
	s.watches[marker] = wt
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runWatch(ctx, marker, wt, filter)

	sharedobs.WriteJSON(w, http.StatusAccepted, watchResponse{Marker: marker, QueryKey: filter.Key()})
}

func (s *Server) runWatch(ctx context.Context, marker string, wt *watch, filter domain.FilterConfig) {
	defer s.wg.Done()
	defer s.stopWatch(marker, wt)

	err := s.deps.Sentinel.Watch(ctx, marker, func(ctx context.Context) (bool, error) {
		_, err := s.deps.Feed.More(ctx, filter)
		return s.deps.Feed.HasMore(filter), err
	})
	if err != nil {
		s.logger.Warn("feed watch stopped", "marker", marker, "query_key", filter.Key(), "error", err)
		return
	}
	s.logger.Debug("feed watch finished", "marker", marker, "query_key", filter.Key())
}

// stopWatch cancels wt and forgets it if it is still the watch of marker.
func (s *Server) stopWatch(marker string, wt *watch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wt.cancel()
	if s.watches[marker] != wt {
		return false
	}
	delete(s.watches, marker)
	return true
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	marker := chi.URLParam(r, paramMarker)

	s.mu.Lock()
	wt, ok := s.watches[marker]
	s.mu.Unlock()

	if !ok || !s.stopWatch(marker, wt) {
		sharedobs.WriteJSON(w, http.StatusNotFound, errorResponse{Error: "no watch for marker"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	marker := chi.URLParam(r, paramMarker)
	visible, err := strconv.ParseBool(r.URL.Query().Get(paramVisible))
	if err != nil {
		s.writeError(w, domain.NewValidationError(paramVisible, "must be a boolean"))
		return
	}
	if !s.deps.Hub.Notify(marker, visible) {
		sharedobs.WriteJSON(w, http.StatusNotFound, errorResponse{Error: "marker not observed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) *nearby.Session {
	sess := s.deps.Sessions.Get(r.Header.Get(SessionHeader))
	w.Header().Set(SessionHeader, sess.ID)
	return sess
}

func (s *Server) handleNearbySnapshot(w http.ResponseWriter, r *http.Request) {
	res, ok := s.session(w, r).Orchestrator.Snapshot()
	if !ok {
		s.writeError(w, nearby.ErrNoSearch)
		return
	}
	res.Outcome = ""
	sharedobs.WriteJSON(w, http.StatusOK, newNearbyResponse(res))
}

// handleNearbySearch starts a nearby feed. Reported coordinates (lat and
// lng) or a place name (near) replace the session's location; otherwise
// the last known location is reused.
func (s *Server) handleNearbySearch(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	values := r.URL.Query()

	radius := s.deps.DefaultRadiusKm
	if values.Has(domain.FilterRadiusKm) {
		parsed, err := domain.FilterFromValues(url.Values{domain.FilterRadiusKm: values[domain.FilterRadiusKm]})
		if err != nil {
			s.writeError(w, err)
			return
		}
		if parsed.RadiusKm != nil {
			radius = *parsed.RadiusKm
		}
	}

	relocate, err := s.reportLocation(sess, values)
	if err != nil {
		s.writeError(w, err)
		return
	}
	for _, name := range []string{domain.FilterLat, domain.FilterLng, domain.FilterRadiusKm, paramNear} {
		values.Del(name)
	}
	extra, err := domain.FilterFromValues(values)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if relocate {
		sess.Orchestrator.Relocate(r.Context())
	}
	res, err := sess.Orchestrator.Search(r.Context(), radius, extra)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, newNearbyResponse(res))
}

func (s *Server) reportLocation(sess *nearby.Session, values url.Values) (bool, error) {
	if values.Has(domain.FilterLat) || values.Has(domain.FilterLng) {
		point, err := domain.FilterFromValues(url.Values{
			domain.FilterLat: values[domain.FilterLat],
			domain.FilterLng: values[domain.FilterLng],
		})
		if err == nil {
			err = point.Validate()
		}
		if err != nil {
			return false, err
		}
		if point.Lat == nil {
			return false, domain.NewValidationError(domain.FilterLat, "lat and lng must be given together")
		}
		sess.Locator.SetCoordinates(domain.Coordinates{Lat: *point.Lat, Lng: *point.Lng})
		return true, nil
	}
	if near := values.Get(paramNear); near != "" {
		sess.Locator.SetPlace(near)
		return true, nil
	}
	return false, nil
}

func (s *Server) handleNearbyMore(w http.ResponseWriter, r *http.Request) {
	res, err := s.session(w, r).Orchestrator.More(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, newNearbyResponse(res))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		ve  *domain.ValidationError
		lue *nearby.LocationUnavailableError
		fe  *domain.FetchError
	)
	switch {
	case errors.As(err, &ve):
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Message, Field: ve.Field})
	case errors.As(err, &lue):
		sharedobs.WriteJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "location unavailable",
			Reason: string(lue.Reason),
		})
	case errors.Is(err, nearby.ErrNoSearch):
		sharedobs.WriteJSON(w, http.StatusConflict, errorResponse{Error: "no nearby search started"})
	case errors.Is(err, viewport.ErrAlreadyWatching):
		sharedobs.WriteJSON(w, http.StatusConflict, errorResponse{Error: "marker already watched"})
	case errors.As(err, &fe):
		retryable := fe.Retryable()
		sharedobs.WriteJSON(w, http.StatusBadGateway, errorResponse{
			Error:     "catalog unavailable",
			Retryable: &retryable,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request canceled"})
	default:
		s.logger.Error("request failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
