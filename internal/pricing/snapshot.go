package pricing

import (
	"context"

	"github.com/davidbz/embermeter/internal/domain"
)

// SnapshotStore persists a fetched pricing registry outside the process, so
// that sidecar instances sharing a store can cold-start without each hitting
// the remote listing endpoint. Implementations are best effort: the source
// logs and ignores snapshot failures.
type SnapshotStore interface {
	// Load returns the stored registry, or (nil, nil) when none exists.
	Load(ctx context.Context) (*domain.PricingRegistry, error)

	// Save stores the registry.
	Save(ctx context.Context, registry *domain.PricingRegistry) error
}
