package feed

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

// FetchFunc fetches one page of a feed. Pages are numbered from 1.
type FetchFunc func(ctx context.Context, page int) (domain.Page, error)

// Result describes the outcome of one LoadNext call.
type Result struct {
	Outcome domain.LoadOutcome
	Entry   domain.FeedEntry // state after the call, when the entry exists
	Page    int              // page requested, zero when no fetch was issued
	Added   int              // items merged after deduplication
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPublisher sends a LoadEvent for every attempted load.
func WithPublisher(p domain.EventPublisher) LoaderOption {
	return func(l *Loader) { l.publisher = p }
}

// WithSessionID tags published events. A random id is used otherwise.
func WithSessionID(id string) LoaderOption {
	return func(l *Loader) { l.sessionID = id }
}

// Loader performs "load next page" operations against a Cache, with at
// most one load in flight per query key.
type Loader struct {
	cache     *Cache
	publisher domain.EventPublisher
	sessionID string
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewLoader creates a Loader over cache.
func NewLoader(cache *Cache, logger *slog.Logger, metrics *observability.Metrics, opts ...LoaderOption) *Loader {
	l := &Loader{
		cache:     cache,
		sessionID: uuid.NewString(),
		clock:     cache.clock,
		logger:    logger,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Cache returns the cache the loader writes to.
func (l *Loader) Cache() *Cache { return l.cache }

// LoadNext fetches and merges the page after the last merged page of key.
// The call is skipped when a load for key is in flight or the feed is
// exhausted. A response that arrives after key was reset or deleted is
// discarded and reported as OutcomeStale with a nil error. Fetch failures
// leave the cached entry unchanged and return a *domain.FetchError.
// opts are applied to the entry before the fetch, so an entry recreated
// after eviction keeps its configuration.
func (l *Loader) LoadNext(ctx context.Context, key domain.QueryKey, fetch FetchFunc, opts ...EntryOption) (Result, error) {
	ticket, outcome := l.cache.beginLoad(key, opts...)
	if outcome != domain.OutcomeLoaded {
		l.metrics.FeedLoads.WithLabelValues(string(outcome)).Inc()
		entry, _ := l.cache.Get(key)
		if outcome == domain.OutcomeExhausted {
			l.publish(ctx, key, Result{Outcome: outcome, Entry: entry}, nil)
		}
		return Result{Outcome: outcome, Entry: entry}, nil
	}

	page, fetchErr := fetch(ctx, ticket.page)
	if fetchErr != nil {
		return l.fail(ctx, key, ticket, fetchErr)
	}

	entry, added, err := l.cache.completeLoad(key, ticket, page)
	switch {
	case isStale(err):
		l.logger.Debug("discarding stale page", "query_key", key, "page", ticket.page)
		res := Result{Outcome: domain.OutcomeStale, Page: ticket.page}
		l.metrics.FeedLoads.WithLabelValues(string(res.Outcome)).Inc()
		l.publish(ctx, key, res, nil)
		return res, nil
	case err != nil:
		// Only an invalid page size can get here; the ticket fixes the sequence.
		l.logger.Error("merge page failed", "query_key", key, "page", ticket.page, "error", err)
		l.metrics.FeedLoads.WithLabelValues(string(domain.OutcomeFailed)).Inc()
		return Result{Outcome: domain.OutcomeFailed, Entry: entry, Page: ticket.page}, err
	}

	res := Result{Outcome: domain.OutcomeLoaded, Entry: entry, Page: ticket.page, Added: added}
	l.metrics.FeedLoads.WithLabelValues(string(res.Outcome)).Inc()
	l.metrics.ItemsMerged.Add(float64(added))
	l.metrics.DuplicatesDropped.Add(float64(len(page.Items) - added))
	l.logger.Debug("page merged",
		"query_key", key,
		"page", ticket.page,
		"added", added,
		"total", len(entry.Items),
		"has_more", entry.HasMore,
	)
	l.publish(ctx, key, res, nil)
	return res, nil
}

func (l *Loader) fail(ctx context.Context, key domain.QueryKey, t loadTicket, cause error) (Result, error) {
	if isStale(l.cache.abortLoad(key, t)) {
		l.logger.Debug("discarding stale failure", "query_key", key, "page", t.page, "error", cause)
		res := Result{Outcome: domain.OutcomeStale, Page: t.page}
		l.metrics.FeedLoads.WithLabelValues(string(res.Outcome)).Inc()
		l.publish(ctx, key, res, nil)
		return res, nil
	}

	fetchErr := domain.AsFetchError(cause)
	l.logger.Warn("page fetch failed",
		"query_key", key,
		"page", t.page,
		"kind", fetchErr.Kind,
		"retryable", fetchErr.Retryable(),
		"error", cause,
	)
	entry, _ := l.cache.Get(key)
	res := Result{Outcome: domain.OutcomeFailed, Entry: entry, Page: t.page}
	l.metrics.FeedLoads.WithLabelValues(string(res.Outcome)).Inc()
	l.publish(ctx, key, res, fetchErr)
	return res, fetchErr
}

func (l *Loader) publish(ctx context.Context, key domain.QueryKey, res Result, cause error) {
	if l.publisher == nil {
		return
	}
	ev := domain.LoadEvent{
		ID:         uuid.NewString(),
		SessionID:  l.sessionID,
		QueryKey:   key,
		Page:       res.Page,
		ItemsAdded: res.Added,
		HasMore:    res.Entry.HasMore,
		Outcome:    res.Outcome,
		OccurredAt: l.clock.Now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	// Publishing is best-effort and must not fail the load.
	if err := l.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		l.metrics.EventPublishErrors.Inc()
		l.logger.Warn("publish load event failed", "query_key", key, "error", err)
		return
	}
	l.metrics.EventsPublished.Inc()
}
