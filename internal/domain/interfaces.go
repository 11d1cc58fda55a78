package domain

import "context"

// PricingSource supplies the current pricing registry. Implementations own
// freshness (TTL), network access, and concurrent-fetch deduplication; the
// tracker only ever sees a registry or an error.
type PricingSource interface {
	// Fetch returns the cached registry when fresh, otherwise refreshes it.
	Fetch(ctx context.Context) (*PricingRegistry, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}
