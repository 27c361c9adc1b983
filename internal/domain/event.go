package domain

import (
	"context"
	"time"
)

// LoadOutcome is the result class of one feed load attempt.
type LoadOutcome string

const (
	OutcomeLoaded    LoadOutcome = "loaded"
	OutcomeSkipped   LoadOutcome = "skipped"   // a load for the key is already in flight
	OutcomeExhausted LoadOutcome = "exhausted" // the feed has no more pages
	OutcomeStale     LoadOutcome = "stale"     // the response was discarded after a reset
	OutcomeFailed    LoadOutcome = "failed"
)

// LoadEvent records one feed load attempt for analytics.
type LoadEvent struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	QueryKey   QueryKey    `json:"query_key"`
	Page       int         `json:"page"`
	ItemsAdded int         `json:"items_added"`
	HasMore    bool        `json:"has_more"`
	Outcome    LoadOutcome `json:"outcome"`
	Error      string      `json:"error,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// EventPublisher delivers load events to an analytics sink.
type EventPublisher interface {
	Publish(ctx context.Context, events ...LoadEvent) error
}
