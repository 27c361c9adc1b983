package domain

import "time"

// ListingPreview is the summary of a catalog listing shown in a feed.
// The feed core only reads ID (deduplication) and Distance (geo ordering).
type ListingPreview struct {
	ID         string   `json:"id"`
	Title      string   `json:"title,omitempty"`
	Price      float64  `json:"price,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	ImageURL   string   `json:"image_url,omitempty"`
	CategoryID string   `json:"category_id,omitempty"`
	Lat        float64  `json:"lat,omitempty"`
	Lng        float64  `json:"lng,omitempty"`
	Distance   *float64 `json:"distance,omitempty"` // km from the search origin, geo feeds only
	Favorite   bool     `json:"favorite,omitempty"`
}

// Page is one page of listings as returned by the backend.
type Page struct {
	Items    []ListingPreview
	PageSize int // requested page size; a shorter page is the last one
}

// FeedEntry is a snapshot of the cached state of one feed.
type FeedEntry struct {
	Items    []ListingPreview `json:"items"`
	Page     int              `json:"page"`
	HasMore  bool             `json:"has_more"`
	LoadedAt time.Time        `json:"loaded_at,omitempty"`
}

// LoadToken marks one load cycle of a feed. A response carrying a token
// that no longer matches its feed entry is stale.
type LoadToken uint64
