package feed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

// Ordering rearranges a feed's items in place after every merged page.
type Ordering func(items []domain.ListingPreview)

// EntryOption configures a feed entry on Reset.
type EntryOption func(*entry)

// WithOrdering installs an ordering applied after each merge.
func WithOrdering(o Ordering) EntryOption {
	return func(e *entry) { e.order = o }
}

type entry struct {
	items    []domain.ListingPreview
	ids      map[string]struct{}
	page     int
	hasMore  bool
	loadedAt time.Time
	token    domain.LoadToken
	inflight bool
	order    Ordering
}

// Cache holds the incrementally loaded result pages of each query key. At
// most size keys are retained; the least recently used is evicted first.
type Cache struct {
	mu        sync.Mutex
	entries   *simplelru.LRU[domain.QueryKey, *entry]
	nextToken domain.LoadToken
	clock     clockwork.Clock
	metrics   *observability.Metrics
}

// NewCache creates a cache bounded to size query keys.
func NewCache(size int, clock clockwork.Clock, metrics *observability.Metrics) (*Cache, error) {
	entries, err := simplelru.NewLRU[domain.QueryKey, *entry](size, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed cache: %w", err)
	}
	return &Cache{entries: entries, clock: clock, metrics: metrics}, nil
}

// Reset replaces any entry for key with an empty one: no items, page 0 and
// more pages expected. Loads started before the reset become stale.
func (c *Cache) Reset(key domain.QueryKey, opts ...EntryOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(key, opts...)
}

func (c *Cache) resetLocked(key domain.QueryKey, opts ...EntryOption) *entry {
	e := &entry{
		items:   []domain.ListingPreview{},
		ids:     make(map[string]struct{}),
		hasMore: true,
		token:   c.issueToken(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if c.entries.Add(key, e) {
		c.metrics.CacheEvictions.Inc()
	}
	c.metrics.CacheEntries.Set(float64(c.entries.Len()))
	return e
}

func (c *Cache) issueToken() domain.LoadToken {
	c.nextToken++
	return c.nextToken
}

// AppendPage merges one page of items into the entry for key. pageNumber
// must directly follow the last merged page. Items whose id is already
// present are dropped. A page with fewer than pageSize items ends the feed.
func (c *Cache) AppendPage(key domain.QueryKey, items []domain.ListingPreview, pageNumber, pageSize int) (domain.FeedEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		return domain.FeedEntry{}, domain.ErrStaleWrite
	}
	if _, err := c.appendLocked(e, items, pageNumber, pageSize); err != nil {
		return domain.FeedEntry{}, err
	}
	return e.snapshot(), nil
}

func (c *Cache) appendLocked(e *entry, items []domain.ListingPreview, pageNumber, pageSize int) (int, error) {
	if pageNumber != e.page+1 {
		return 0, fmt.Errorf("%w: got page %d after page %d", domain.ErrInvalidPageSequence, pageNumber, e.page)
	}
	if pageSize < 1 {
		return 0, fmt.Errorf("page size %d must be positive", pageSize)
	}

	added := 0
	for _, item := range items {
		if _, dup := e.ids[item.ID]; dup {
			continue
		}
		e.ids[item.ID] = struct{}{}
		e.items = append(e.items, item)
		added++
	}
	if e.order != nil {
		e.order(e.items)
	}

	e.page = pageNumber
	e.hasMore = e.hasMore && len(items) >= pageSize
	e.loadedAt = c.clock.Now()
	return added, nil
}

// Get returns a copy of the entry for key.
func (c *Cache) Get(key domain.QueryKey) (domain.FeedEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		return domain.FeedEntry{}, false
	}
	return e.snapshot(), true
}

// HasMore reports whether more pages may exist for key. A key that was
// never loaded has more pages.
func (c *Cache) HasMore(key domain.QueryKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if !ok {
		return true
	}
	return e.hasMore
}

// Delete drops the entry for key. Loads in flight for it become stale.
func (c *Cache) Delete(key domain.QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Remove(key)
	c.metrics.CacheEntries.Set(float64(c.entries.Len()))
}

// Len returns the number of cached query keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// loadTicket identifies one in-flight load.
type loadTicket struct {
	token domain.LoadToken
	page  int
}

// beginLoad marks key as loading and issues a fresh token for it, creating
// the entry when absent. opts are applied to the entry whether it is new or
// not. It refuses while a load is in flight or once the feed is exhausted.
func (c *Cache) beginLoad(key domain.QueryKey, opts ...EntryOption) (loadTicket, domain.LoadOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		e = c.resetLocked(key)
	}
	for _, opt := range opts {
		opt(e)
	}
	switch {
	case e.inflight:
		return loadTicket{}, domain.OutcomeSkipped
	case !e.hasMore:
		return loadTicket{}, domain.OutcomeExhausted
	}

	e.inflight = true
	e.token = c.issueToken()
	return loadTicket{token: e.token, page: e.page + 1}, domain.OutcomeLoaded
}

// completeLoad merges a fetched page if t is still the entry's current load
// and reports how many items survived deduplication.
func (c *Cache) completeLoad(key domain.QueryKey, t loadTicket, page domain.Page) (domain.FeedEntry, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok || e.token != t.token {
		return domain.FeedEntry{}, 0, domain.ErrStaleResponse
	}
	e.inflight = false
	added, err := c.appendLocked(e, page.Items, t.page, page.PageSize)
	if err != nil {
		return e.snapshot(), 0, err
	}
	return e.snapshot(), added, nil
}

// abortLoad releases the in-flight mark after a failed fetch. It reports
// ErrStaleResponse when the load was already superseded.
func (c *Cache) abortLoad(key domain.QueryKey, t loadTicket) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if !ok || e.token != t.token {
		return domain.ErrStaleResponse
	}
	e.inflight = false
	return nil
}

func (e *entry) snapshot() domain.FeedEntry {
	items := make([]domain.ListingPreview, len(e.items))
	for i, item := range e.items {
		if item.Distance != nil {
			d := *item.Distance
			item.Distance = &d
		}
		items[i] = item
	}
	return domain.FeedEntry{
		Items:    items,
		Page:     e.page,
		HasMore:  e.hasMore,
		LoadedAt: e.loadedAt,
	}
}

// isStale reports whether err marks a superseded load.
func isStale(err error) bool { return errors.Is(err, domain.ErrStaleResponse) }
