package run

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/davidbz/embermeter/internal/domain"
	"github.com/davidbz/embermeter/internal/observability"
)

// ErrRunNotFound indicates the requested run identifier is unknown.
var ErrRunNotFound = errors.New("run not found")

// Manager owns the budget trackers of in-flight agent runs, keyed by run ID.
// All trackers share one pricing source, so the registry is fetched at most
// once per TTL window regardless of how many runs are active.
type Manager struct {
	mu       sync.RWMutex
	trackers map[string]*domain.BudgetTracker

	source domain.PricingSource
	events domain.EventPublisher
}

// NewManager creates a run manager.
func NewManager(source domain.PricingSource, events domain.EventPublisher) *Manager {
	return &Manager{
		trackers: make(map[string]*domain.BudgetTracker),
		source:   source,
		events:   events,
	}
}

// Create starts a new budget run and returns its identifier. The budget must
// be positive; construction errors propagate from the tracker.
func (m *Manager) Create(
	ctx context.Context,
	maxBudgetUSD float64,
	overrides map[string]domain.ModelPricing,
) (string, *domain.BudgetTracker, error) {
	tracker, err := domain.NewBudgetTracker(maxBudgetUSD, domain.TrackerOptions{
		Overrides: overrides,
		Source:    m.source,
		Events:    m.events,
	})
	if err != nil {
		return "", nil, err
	}

	runID := uuid.New().String()

	m.mu.Lock()
	m.trackers[runID] = tracker
	m.mu.Unlock()

	observability.FromContext(ctx).Info("budget run created",
		observability.String("run_id", runID),
		observability.Float64("max_budget_usd", maxBudgetUSD),
		observability.Int("overrides", len(overrides)))

	if m.events != nil {
		m.events.Publish(ctx, "run.created", map[string]interface{}{
			"run_id":         runID,
			"max_budget_usd": maxBudgetUSD,
		})
	}

	return runID, tracker, nil
}

// Get retrieves the tracker for a run.
func (m *Manager) Get(runID string) (*domain.BudgetTracker, error) {
	if runID == "" {
		return nil, ErrRunNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	tracker, exists := m.trackers[runID]
	if !exists {
		return nil, ErrRunNotFound
	}

	return tracker, nil
}

// List returns the identifiers of all active runs.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.trackers))
	for id := range m.trackers {
		ids = append(ids, id)
	}

	return ids
}

// Delete removes a finished run. Deleting an unknown run is a no-op.
func (m *Manager) Delete(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.trackers, runID)
}
