// Package domain models the catalog feed: listing previews, the filter
// configurations that scope a feed, and the ports the feed core consumes.
//
// # Query Keys
//
// Every feed is partitioned by a [QueryKey] derived from a [FilterConfig].
// Keys are built from the recognized filter names only:
//
//	category, subcategory, min_price, max_price, sort, q, season,
//	lat, lng, radius_km
//
// Normalization rules:
//
//	Strings are trimmed; an empty value is the same as an absent one.
//	Numbers are compared by value: "10", "10.0" and "1e1" are one price.
//	Coordinates are rounded to 6 decimal places (about 0.1 m).
//	Pairs are sorted by name, so insertion order never matters.
//
// The empty configuration has the key "*".
//
// # Pagination
//
// The backend pages with 1-based page numbers and does not report a total.
// A page shorter than the requested page size is treated as the last page.
//
// # Geolocation
//
// Device coordinates come from a [Locator], a one-shot acquisition that either
// delivers [Coordinates] or fails with a [LocationError]. Geo feeds add
// lat, lng and radius_km to the filter and are ordered by the distance the
// backend reports on each listing.
package domain
