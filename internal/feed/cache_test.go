package feed

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

const testKey domain.QueryKey = "category=bikes"

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, size int) (*Cache, *clockwork.FakeClock, *observability.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	metrics := observability.NewMetricsForTesting()
	c, err := NewCache(size, clock, metrics)
	require.NoError(t, err)
	return c, clock, metrics
}

func listings(ids ...string) []domain.ListingPreview {
	out := make([]domain.ListingPreview, len(ids))
	for i, id := range ids {
		out[i] = domain.ListingPreview{ID: id, Title: "listing " + id}
	}
	return out
}

func numbered(prefix string, n int) []domain.ListingPreview {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return listings(ids...)
}

func idsOf(items []domain.ListingPreview) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func TestNewCache_InvalidSize(t *testing.T) {
	_, err := NewCache(0, clockwork.NewFakeClock(), observability.NewMetricsForTesting())
	require.Error(t, err)
}

func TestCache_ResetShape(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	c.Reset(testKey)

	entry, ok := c.Get(testKey)
	require.True(t, ok)
	assert.Equal(t, []domain.ListingPreview{}, entry.Items)
	assert.Equal(t, 0, entry.Page)
	assert.True(t, entry.HasMore)
}

func TestCache_ResetDiscardsPriorItems(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	c.Reset(testKey)
	_, err := c.AppendPage(testKey, listings("a", "b"), 1, 2)
	require.NoError(t, err)

	c.Reset(testKey)
	entry, _ := c.Get(testKey)
	assert.Empty(t, entry.Items)
	assert.Equal(t, 0, entry.Page)
	assert.True(t, entry.HasMore)

	_, err = c.AppendPage(testKey, listings("a"), 1, 2)
	require.NoError(t, err, "ids from before the reset must not count as duplicates")
}

func TestCache_AppendPageDeduplicatesInFirstSeenOrder(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	c.Reset(testKey)

	_, err := c.AppendPage(testKey, listings("a", "b", "c"), 1, 3)
	require.NoError(t, err)
	entry, err := c.AppendPage(testKey, listings("c", "d", "a", "e", "d"), 2, 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, idsOf(entry.Items))
	assert.Equal(t, 2, entry.Page)
}

func TestCache_AppendPageUniqueIDsProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for run := range 50 {
		c, _, _ := newTestCache(t, 8)
		c.Reset(testKey)

		var firstSeen []string
		seen := map[string]bool{}
		pages := 1 + rng.IntN(6)
		for page := 1; page <= pages; page++ {
			ids := make([]string, rng.IntN(10))
			for i := range ids {
				ids[i] = fmt.Sprintf("id-%d", rng.IntN(25))
				if !seen[ids[i]] {
					seen[ids[i]] = true
					firstSeen = append(firstSeen, ids[i])
				}
			}
			_, err := c.AppendPage(testKey, listings(ids...), page, 1)
			require.NoError(t, err, "run %d page %d", run, page)
		}

		entry, _ := c.Get(testKey)
		got := idsOf(entry.Items)
		if firstSeen == nil {
			firstSeen = []string{}
		}
		assert.Equal(t, firstSeen, got, "run %d", run)
	}
}

func TestCache_ShortPageEndsFeed(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	c.Reset(testKey)

	entry, err := c.AppendPage(testKey, numbered("p1", 20), 1, 20)
	require.NoError(t, err)
	assert.True(t, entry.HasMore)

	entry, err = c.AppendPage(testKey, numbered("p2", 7), 2, 20)
	require.NoError(t, err)
	assert.False(t, entry.HasMore)
	assert.Len(t, entry.Items, 27)
	assert.False(t, c.HasMore(testKey))
}

func TestCache_HasMoreStaysFalseUntilReset(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	c.Reset(testKey)

	_, err := c.AppendPage(testKey, numbered("p1", 5), 1, 20)
	require.NoError(t, err)
	require.False(t, c.HasMore(testKey))

	entry, err := c.AppendPage(testKey, numbered("p2", 20), 2, 20)
	require.NoError(t, err)
	assert.False(t, entry.HasMore)

	c.Reset(testKey)
	assert.True(t, c.HasMore(testKey))
}

func TestCache_AppendPageRejectsOutOfOrderPages(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	c.Reset(testKey)

	_, err := c.AppendPage(testKey, listings("a"), 2, 20)
	require.ErrorIs(t, err, domain.ErrInvalidPageSequence)

	_, err = c.AppendPage(testKey, listings("a"), 1, 1)
	require.NoError(t, err)

	_, err = c.AppendPage(testKey, listings("b"), 1, 1)
	require.ErrorIs(t, err, domain.ErrInvalidPageSequence)

	_, err = c.AppendPage(testKey, listings("c"), 3, 1)
	require.ErrorIs(t, err, domain.ErrInvalidPageSequence)

	entry, _ := c.Get(testKey)
	assert.Equal(t, []string{"a"}, idsOf(entry.Items))
	assert.Equal(t, 1, entry.Page)
}

func TestCache_AppendPageWithoutEntry(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	_, err := c.AppendPage(testKey, listings("a"), 1, 20)
	require.ErrorIs(t, err, domain.ErrStaleWrite)
}

func TestCache_AppendPageRejectsZeroPageSize(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	c.Reset(testKey)
	_, err := c.AppendPage(testKey, listings("a"), 1, 0)
	require.Error(t, err)

	entry, _ := c.Get(testKey)
	assert.Empty(t, entry.Items)
}

func TestCache_LoadedAtFollowsClock(t *testing.T) {
	c, clock, _ := newTestCache(t, 8)
	c.Reset(testKey)

	clock.Advance(3 * time.Minute)
	entry, err := c.AppendPage(testKey, listings("a"), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(3*time.Minute), entry.LoadedAt)
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	c.Reset(testKey)
	items := listings("a")
	items[0].Distance = domain.Float(2.5)
	_, err := c.AppendPage(testKey, items, 1, 20)
	require.NoError(t, err)

	entry, _ := c.Get(testKey)
	entry.Items[0].Title = "changed"
	*entry.Items[0].Distance = 99

	again, _ := c.Get(testKey)
	assert.Equal(t, "listing a", again.Items[0].Title)
	assert.InDelta(t, 2.5, *again.Items[0].Distance, 1e-9)
}

func TestCache_WithOrdering(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	reverse := func(items []domain.ListingPreview) {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	c.Reset(testKey, WithOrdering(reverse))

	entry, err := c.AppendPage(testKey, listings("a", "b", "c"), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, idsOf(entry.Items))
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _, metrics := newTestCache(t, 2)
	c.Reset("a=1")
	c.Reset("b=1")
	_, _ = c.Get("a=1")
	c.Reset("c=1")

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("b=1")
	assert.False(t, ok)
	_, ok = c.Get("a=1")
	assert.True(t, ok)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.CacheEvictions), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.CacheEntries), 1e-9)
}

func TestCache_HasMoreAndDelete(t *testing.T) {
	c, _, _ := newTestCache(t, 8)
	assert.True(t, c.HasMore("never-loaded"))

	c.Reset(testKey)
	c.Delete(testKey)
	_, ok := c.Get(testKey)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_TokensChangeOnResetAndLoad(t *testing.T) {
	c, _, _ := newTestCache(t, 8)

	t1, outcome := c.beginLoad(testKey)
	require.Equal(t, domain.OutcomeLoaded, outcome)
	assert.Equal(t, 1, t1.page)

	_, outcome = c.beginLoad(testKey)
	assert.Equal(t, domain.OutcomeSkipped, outcome)

	c.Reset(testKey)
	t2, outcome := c.beginLoad(testKey)
	require.Equal(t, domain.OutcomeLoaded, outcome)
	assert.NotEqual(t, t1.token, t2.token)

	_, _, err := c.completeLoad(testKey, t1, domain.Page{Items: listings("old"), PageSize: 20})
	require.ErrorIs(t, err, domain.ErrStaleResponse)

	entry, _, err := c.completeLoad(testKey, t2, domain.Page{Items: listings("new"), PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, idsOf(entry.Items))
}
