package nearby

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/feed"
	"github.com/couchcryptid/catalog-feed/internal/geo"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

// Session is the nearby-search state of one client: where it says it is,
// its location provider, and its current nearby feed.
type Session struct {
	ID           string
	Locator      *geo.ClientLocator
	Provider     *geo.Provider
	Orchestrator *Orchestrator
}

// SessionFactory builds the session for id.
type SessionFactory func(id string) *Session

// SessionDeps are the collaborators shared by all sessions.
type SessionDeps struct {
	Loader     *feed.Loader
	Fetcher    domain.PageFetcher
	Geocoder   domain.Geocoder // optional
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	GeoOptions []geo.Option
	Options    []Option
}

// NewSessionFactory returns a factory wiring each session to deps.
func NewSessionFactory(deps SessionDeps) SessionFactory {
	return func(id string) *Session {
		logger := deps.Logger.With("session_id", id)
		locator := geo.NewClientLocator(deps.Geocoder)
		provider := geo.NewProvider(locator, logger, deps.Metrics, deps.GeoOptions...)
		opts := append([]Option{WithGeocoder(deps.Geocoder), WithScope(id)}, deps.Options...)
		return &Session{
			ID:           id,
			Locator:      locator,
			Provider:     provider,
			Orchestrator: New(provider, deps.Loader, deps.Fetcher, logger, deps.Metrics, opts...),
		}
	}
}

// Sessions keeps the most recently used sessions. Evicted sessions have
// their location provider closed.
type Sessions struct {
	mu         sync.Mutex
	cache      *lru.Cache[string, *Session]
	newSession SessionFactory
}

// NewSessions creates a session store holding at most size sessions.
func NewSessions(size int, newSession SessionFactory) (*Sessions, error) {
	cache, err := lru.NewWithEvict[string, *Session](size, func(_ string, s *Session) {
		go s.Provider.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	return &Sessions{cache: cache, newSession: newSession}, nil
}

// Get returns the session for id, creating it when unknown. An empty id
// gets a fresh random one.
func (s *Sessions) Get(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.cache.Get(id); ok {
		return sess
	}
	sess := s.newSession(id)
	s.cache.Add(id, sess)
	return sess
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int { return s.cache.Len() }

// Close drops every session.
func (s *Sessions) Close() {
	s.cache.Purge()
}
