// Command mockcatalog serves a deterministic catalog backend for local runs
// and end-to-end checks of the feed service.
//
// Usage:
//
//	go run ./cmd/mockcatalog -addr :8081 -count 95 -seed 42
package main

import (
	"cmp"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/catalog-feed/internal/domain"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

var categories = []string{"boots", "jackets", "tents", "bikes", "skis"}

// Default center: Austin, TX.
var center = domain.Coordinates{Lat: 30.2672, Lng: -97.7431}

func main() {
	if err := run(); err != nil {
		slog.Error("mockcatalog failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":8081", "listen address")
	count := flag.Int("count", 95, "number of listings to generate")
	seed := flag.Uint64("seed", 42, "random seed for listing generation")
	flag.Parse()

	if *count < 0 {
		return fmt.Errorf("invalid -count %d", *count)
	}

	logger := sharedobs.NewLogger("info", "text")
	c := &catalog{listings: generate(*count, *seed), logger: logger}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           c.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("mock catalog listening", "addr", *addr, "listings", len(c.listings))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// generate builds count listings scattered within about 50 km of center.
func generate(count int, seed uint64) []domain.ListingPreview {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]domain.ListingPreview, count)
	for i := range out {
		cat := categories[r.IntN(len(categories))]
		id := fmt.Sprintf("lst-%04d", i+1)
		out[i] = domain.ListingPreview{
			ID:         id,
			Title:      fmt.Sprintf("%s %s", strings.ToUpper(cat[:1])+cat[1:], id),
			Price:      math.Round(r.Float64()*50000) / 100,
			Currency:   "USD",
			ImageURL:   "https://img.example.com/" + id + ".jpg",
			CategoryID: cat,
			Lat:        center.Lat + (r.Float64()-0.5)*0.9,
			Lng:        center.Lng + (r.Float64()-0.5)*0.9,
		}
	}
	return out
}

type catalog struct {
	listings []domain.ListingPreview
	logger   *slog.Logger
}

func (c *catalog) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/listings", c.handleListings)
	r.Get("/healthz", sharedobs.LivenessHandler())
	return r
}

type listingsResponse struct {
	Items []domain.ListingPreview `json:"items"`
}

func (c *catalog) handleListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := positiveParam(q.Get("page"), 1)
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page"})
		return
	}
	limit, err := positiveParam(q.Get("limit"), defaultLimit)
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}
	limit = min(limit, maxLimit)

	filter, err := domain.FilterFromValues(q)
	if err == nil {
		err = filter.Validate()
	}
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	matched := c.match(filter)
	start := (page - 1) * limit
	items := []domain.ListingPreview{}
	if start < len(matched) {
		items = matched[start:min(start+limit, len(matched))]
	}

	c.logger.Debug("listings served", "query", q.Encode(), "matched", len(matched), "returned", len(items))
	sharedobs.WriteJSON(w, http.StatusOK, listingsResponse{Items: items})
}

func (c *catalog) match(f domain.FilterConfig) []domain.ListingPreview {
	var origin *domain.Coordinates
	if f.Lat != nil && f.Lng != nil {
		origin = &domain.Coordinates{Lat: *f.Lat, Lng: *f.Lng}
	}
	search := strings.ToLower(f.Search)

	out := make([]domain.ListingPreview, 0, len(c.listings))
	for _, l := range c.listings {
		switch {
		case f.CategoryID != "" && l.CategoryID != f.CategoryID:
			continue
		case f.MinPrice != nil && l.Price < *f.MinPrice:
			continue
		case f.MaxPrice != nil && l.Price > *f.MaxPrice:
			continue
		case search != "" && !strings.Contains(strings.ToLower(l.Title), search):
			continue
		}
		if origin != nil {
			d := domain.DistanceKm(*origin, domain.Coordinates{Lat: l.Lat, Lng: l.Lng})
			if f.RadiusKm != nil && d > *f.RadiusKm {
				continue
			}
			l.Distance = domain.Float(math.Round(d*100) / 100)
		}
		out = append(out, l)
	}

	switch {
	case f.Sort == "price_asc":
		slices.SortStableFunc(out, func(a, b domain.ListingPreview) int { return cmp.Compare(a.Price, b.Price) })
	case f.Sort == "price_desc":
		slices.SortStableFunc(out, func(a, b domain.ListingPreview) int { return cmp.Compare(b.Price, a.Price) })
	case origin != nil:
		slices.SortStableFunc(out, func(a, b domain.ListingPreview) int { return cmp.Compare(*a.Distance, *b.Distance) })
	}
	return out
}

func positiveParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid value %q", raw)
	}
	return n, nil
}
