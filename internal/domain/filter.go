package domain

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Recognized filter names, as used in query strings and query keys.
const (
	FilterCategory    = "category"
	FilterSubcategory = "subcategory"
	FilterMinPrice    = "min_price"
	FilterMaxPrice    = "max_price"
	FilterSort        = "sort"
	FilterSearch      = "q"
	FilterSeason      = "season"
	FilterLat         = "lat"
	FilterLng         = "lng"
	FilterRadiusKm    = "radius_km"
)

// emptyKey is the query key of a configuration with no effective filters.
const emptyKey QueryKey = "*"

// coordPrecision rounds coordinates to 6 decimal places before keying.
const coordPrecision = 1e6

// QueryKey identifies the result set of a filter combination.
type QueryKey string

// FilterConfig is the set of filters that scopes a feed. Nil pointers and
// empty strings mean "not filtered".
type FilterConfig struct {
	CategoryID    string
	SubcategoryID string
	MinPrice      *float64
	MaxPrice      *float64
	Sort          string
	Search        string
	Season        string
	Lat           *float64
	Lng           *float64
	RadiusKm      *float64
}

// Float returns a pointer to v, for building FilterConfig literals.
func Float(v float64) *float64 { return &v }

// FilterFromMap parses a flat name/value map of recognized filter names.
func FilterFromMap(m map[string]string) (FilterConfig, error) {
	values := make(url.Values, len(m))
	for k, v := range m {
		values.Set(k, v)
	}
	return FilterFromValues(values)
}

// FilterFromValues parses query-string style values. Unknown names and
// unparsable numbers are validation errors. Paging parameters are ignored.
func FilterFromValues(values url.Values) (FilterConfig, error) {
	var cfg FilterConfig
	for name, vs := range values {
		if len(vs) == 0 {
			continue
		}
		if len(vs) > 1 {
			return FilterConfig{}, NewValidationError(name, "must not be repeated")
		}
		raw := strings.TrimSpace(vs[0])

		var err error
		switch name {
		case FilterCategory:
			cfg.CategoryID = raw
		case FilterSubcategory:
			cfg.SubcategoryID = raw
		case FilterSort:
			cfg.Sort = raw
		case FilterSearch:
			cfg.Search = raw
		case FilterSeason:
			cfg.Season = raw
		case FilterMinPrice:
			cfg.MinPrice, err = parseOptionalFloat(name, raw)
		case FilterMaxPrice:
			cfg.MaxPrice, err = parseOptionalFloat(name, raw)
		case FilterLat:
			cfg.Lat, err = parseOptionalFloat(name, raw)
		case FilterLng:
			cfg.Lng, err = parseOptionalFloat(name, raw)
		case FilterRadiusKm:
			cfg.RadiusKm, err = parseOptionalFloat(name, raw)
		case "page", "limit", "near":
			// Handled by callers.
		default:
			err = NewValidationError(name, "unknown filter")
		}
		if err != nil {
			return FilterConfig{}, err
		}
	}
	return cfg, nil
}

func parseOptionalFloat(name, raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, NewValidationError(name, "must be a number")
	}
	return &v, nil
}

// Validate checks value ranges and combinations.
func (f FilterConfig) Validate() error {
	if f.MinPrice != nil && !(*f.MinPrice >= 0) {
		return NewValidationError(FilterMinPrice, "must not be negative")
	}
	if f.MaxPrice != nil && !(*f.MaxPrice >= 0) {
		return NewValidationError(FilterMaxPrice, "must not be negative")
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return NewValidationError(FilterMinPrice, "must not exceed max_price")
	}
	if (f.Lat == nil) != (f.Lng == nil) {
		return NewValidationError(FilterLat, "lat and lng must be given together")
	}
	if f.Lat != nil && !(*f.Lat >= -90 && *f.Lat <= 90) {
		return NewValidationError(FilterLat, "must be within [-90, 90]")
	}
	if f.Lng != nil && !(*f.Lng >= -180 && *f.Lng <= 180) {
		return NewValidationError(FilterLng, "must be within [-180, 180]")
	}
	if f.RadiusKm != nil && !(*f.RadiusKm > 0 && !math.IsInf(*f.RadiusKm, 1)) {
		return NewValidationError(FilterRadiusKm, "must be positive")
	}
	return nil
}

// WithLocation returns a copy of f scoped to a point and radius.
func (f FilterConfig) WithLocation(c Coordinates, radiusKm float64) FilterConfig {
	f.Lat = Float(c.Lat)
	f.Lng = Float(c.Lng)
	f.RadiusKm = Float(radiusKm)
	return f
}

// Values encodes the effective filters as query parameters.
func (f FilterConfig) Values() url.Values {
	v := url.Values{}
	setString(v, FilterCategory, f.CategoryID)
	setString(v, FilterSubcategory, f.SubcategoryID)
	setString(v, FilterSort, f.Sort)
	setString(v, FilterSearch, f.Search)
	setString(v, FilterSeason, f.Season)
	setFloat(v, FilterMinPrice, f.MinPrice, false)
	setFloat(v, FilterMaxPrice, f.MaxPrice, false)
	setFloat(v, FilterLat, f.Lat, true)
	setFloat(v, FilterLng, f.Lng, true)
	setFloat(v, FilterRadiusKm, f.RadiusKm, false)
	return v
}

// Key is shorthand for BuildKey(f).
func (f FilterConfig) Key() QueryKey { return BuildKey(f) }

// BuildKey derives the query key of a filter configuration. It is a pure
// function: configurations that are equal after normalization produce the
// same key, and any difference in a recognized filter produces a different one.
func BuildKey(f FilterConfig) QueryKey {
	encoded := f.Values().Encode() // sorted by name
	if encoded == "" {
		return emptyKey
	}
	return QueryKey(encoded)
}

func setString(v url.Values, name, s string) {
	if s = strings.TrimSpace(s); s != "" {
		v.Set(name, s)
	}
}

func setFloat(v url.Values, name string, f *float64, coord bool) {
	if f == nil {
		return
	}
	n := *f
	if coord {
		n = math.Round(n*coordPrecision) / coordPrecision
	}
	if n == 0 {
		n = 0 // normalize -0
	}
	v.Set(name, strconv.FormatFloat(n, 'f', -1, 64))
}
