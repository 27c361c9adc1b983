package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/catalog-feed/internal/domain"
)

// Warm-up backoff bounds.
const (
	warmInitialBackoff = 200 * time.Millisecond
	warmMaxBackoff     = 10 * time.Second
)

// Service runs ordinary filter feeds against a PageFetcher.
type Service struct {
	loader  *Loader
	fetcher domain.PageFetcher
	logger  *slog.Logger
	ready   atomic.Bool
}

// NewService creates a feed service.
func NewService(loader *Loader, fetcher domain.PageFetcher, logger *slog.Logger) *Service {
	return &Service{loader: loader, fetcher: fetcher, logger: logger}
}

// Loader returns the shared loader.
func (s *Service) Loader() *Loader { return s.loader }

// Fetcher returns the page fetcher.
func (s *Service) Fetcher() domain.PageFetcher { return s.fetcher }

// Refresh starts the feed for filter over: the entry is reset and page 1 loaded.
func (s *Service) Refresh(ctx context.Context, filter domain.FilterConfig) (Result, error) {
	if err := filter.Validate(); err != nil {
		return Result{}, err
	}
	key := filter.Key()
	s.loader.Cache().Reset(key)
	return s.load(ctx, filter, key)
}

// More loads the next page of the feed for filter, starting it if needed.
func (s *Service) More(ctx context.Context, filter domain.FilterConfig) (Result, error) {
	if err := filter.Validate(); err != nil {
		return Result{}, err
	}
	return s.load(ctx, filter, filter.Key())
}

// Snapshot returns the cached state of the feed for filter.
func (s *Service) Snapshot(filter domain.FilterConfig) (domain.FeedEntry, bool) {
	return s.loader.Cache().Get(filter.Key())
}

// HasMore reports whether another page of the feed for filter can be
// loaded.
func (s *Service) HasMore(filter domain.FilterConfig) bool {
	return s.loader.Cache().HasMore(filter.Key())
}

// Warm loads the unfiltered feed, retrying with backoff until a page is
// merged or ctx is done.
func (s *Service) Warm(ctx context.Context) error {
	backoff := warmInitialBackoff
	for {
		_, err := s.Refresh(ctx, domain.FilterConfig{})
		if err == nil {
			return nil
		}
		s.logger.Warn("feed warm-up failed", "error", err, "retry_in", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, warmMaxBackoff)
	}
}

// CheckReadiness reports ready once any feed page has been merged.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no feed page loaded yet")
	}
	return nil
}

func (s *Service) load(ctx context.Context, filter domain.FilterConfig, key domain.QueryKey) (Result, error) {
	res, err := s.loader.LoadNext(ctx, key, func(ctx context.Context, page int) (domain.Page, error) {
		return s.fetcher.FetchPage(ctx, filter, page)
	})
	if err == nil && res.Outcome == domain.OutcomeLoaded {
		s.ready.Store(true)
	}
	return res, err
}
