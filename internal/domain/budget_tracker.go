package domain

import (
	"context"
	"math"
	"sync"

	"github.com/davidbz/embermeter/internal/observability"
)

// TrackerOptions configures optional collaborators of a BudgetTracker.
type TrackerOptions struct {
	// Overrides is checked before the remote registry. Keys may be in any
	// case; they are normalized at construction.
	Overrides map[string]ModelPricing

	// Source supplies the remote pricing registry. May be nil, in which case
	// only overrides can price a step.
	Source PricingSource

	// OnUnpricedModel is invoked at most once per distinct model identifier
	// that could not be priced. May be nil.
	OnUnpricedModel func(modelID string)

	// Events receives budget lifecycle events. May be nil.
	Events EventPublisher
}

// BudgetTracker accumulates USD cost across the steps of one agent run and
// reports when a caller-defined ceiling has been reached.
//
// Budget tracking is advisory: a step whose model cannot be priced (unknown
// identifier, registry outage) contributes zero cost and is counted in
// UnpricedSteps rather than aborting the run. The reported total is therefore
// a lower bound on true spend, not a hard cap.
type BudgetTracker struct {
	mu sync.Mutex

	maxBudgetUSD   float64
	totalCostUSD   float64
	stepsCompleted int
	unpricedSteps  int
	exceeded       bool

	overrides map[string]ModelPricing
	source    PricingSource

	// resolved caches successful lookups per identifier so a model seen
	// before skips the tiered search. Unresolved identifiers are not cached:
	// a later registry refresh may start pricing them.
	resolved map[string]ModelPricing

	// warned tracks identifiers already reported as unpriced, so a long run
	// on one unknown model warns once instead of once per step.
	warned map[string]struct{}

	onUnpriced func(modelID string)
	events     EventPublisher
}

// NewBudgetTracker creates a tracker for one agent run. The budget must be
// positive; anything else is a caller programming error and fails
// construction with an InvalidConfigurationError.
func NewBudgetTracker(maxBudgetUSD float64, opts TrackerOptions) (*BudgetTracker, error) {
	if maxBudgetUSD <= 0 || math.IsNaN(maxBudgetUSD) {
		return nil, &InvalidConfigurationError{Reason: "max budget must be a positive USD amount"}
	}

	return &BudgetTracker{
		maxBudgetUSD: maxBudgetUSD,
		overrides:    NormalizeOverrides(opts.Overrides),
		source:       opts.Source,
		resolved:     make(map[string]ModelPricing),
		warned:       make(map[string]struct{}),
		onUnpriced:   opts.OnUnpricedModel,
		events:       opts.Events,
	}, nil
}

// OnStepFinish ingests one completed step. It never fails: pricing-resolution
// problems degrade the step to an unpriced one instead of propagating, so a
// transient pricing outage cannot abort an otherwise healthy run.
func (t *BudgetTracker) OnStepFinish(ctx context.Context, step StepRecord) {
	if step.ModelID == "" {
		t.recordUnpriced(ctx, "")
		return
	}

	pricing, ok := t.resolve(ctx, step.ModelID)
	if !ok {
		t.recordUnpriced(ctx, step.ModelID)
		return
	}

	cost := CostUSD(step.Usage, pricing)

	t.mu.Lock()
	t.totalCostUSD += cost
	t.stepsCompleted++
	justExceeded := !t.exceeded && t.totalCostUSD >= t.maxBudgetUSD
	if justExceeded {
		t.exceeded = true
	}
	total := t.totalCostUSD
	t.mu.Unlock()

	if justExceeded {
		observability.FromContext(ctx).Warn("budget exceeded",
			observability.Float64("total_cost_usd", total),
			observability.Float64("max_budget_usd", t.maxBudgetUSD))
		if t.events != nil {
			t.events.Publish(ctx, "budget.exceeded", map[string]interface{}{
				"total_cost_usd": total,
				"max_budget_usd": t.maxBudgetUSD,
			})
		}
	}
}

// ShouldStop reports whether cumulative cost has reached the budget. Pure and
// side-effect-free, intended to be OR-composed with other loop-termination
// predicates by the host loop.
func (t *BudgetTracker) ShouldStop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.exceeded || t.totalCostUSD >= t.maxBudgetUSD
}

// Status returns a snapshot of the tracker.
func (t *BudgetTracker) Status() BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := t.maxBudgetUSD - t.totalCostUSD
	if remaining < 0 {
		remaining = 0
	}

	return BudgetStatus{
		TotalCostUSD:   t.totalCostUSD,
		MaxBudgetUSD:   t.maxBudgetUSD,
		RemainingUSD:   remaining,
		UsagePercent:   t.totalCostUSD / t.maxBudgetUSD * 100,
		StepsCompleted: t.stepsCompleted,
		UnpricedSteps:  t.unpricedSteps,
		Exceeded:       t.exceeded || t.totalCostUSD >= t.maxBudgetUSD,
	}
}

// resolve maps an identifier to pricing, consulting the per-tracker cache,
// then overrides, then the remote registry. A fetch failure is treated the
// same as an unknown model.
func (t *BudgetTracker) resolve(ctx context.Context, modelID string) (ModelPricing, bool) {
	t.mu.Lock()
	if pricing, ok := t.resolved[modelID]; ok {
		t.mu.Unlock()
		return pricing, true
	}
	overrides := t.overrides
	t.mu.Unlock()

	var registry *PricingRegistry
	if t.source != nil {
		reg, err := t.source.Fetch(ctx)
		if err != nil {
			observability.FromContext(ctx).Warn("pricing registry unavailable",
				observability.String("model", modelID),
				observability.Error(err))
		} else {
			registry = reg
		}
	}

	pricing, ok := ResolvePricing(modelID, overrides, registry)
	if !ok {
		return ModelPricing{}, false
	}

	t.mu.Lock()
	t.resolved[modelID] = pricing
	t.mu.Unlock()

	return pricing, true
}

func (t *BudgetTracker) recordUnpriced(ctx context.Context, modelID string) {
	t.mu.Lock()
	t.stepsCompleted++
	t.unpricedSteps++

	warn := false
	if modelID != "" {
		if _, seen := t.warned[modelID]; !seen {
			t.warned[modelID] = struct{}{}
			warn = true
		}
	}
	t.mu.Unlock()

	if !warn {
		return
	}

	observability.FromContext(ctx).Warn("no pricing found for model, step not counted toward budget",
		observability.String("model", modelID))
	if t.onUnpriced != nil {
		t.onUnpriced(modelID)
	}
	if t.events != nil {
		t.events.Publish(ctx, "model.unpriced", map[string]interface{}{
			"model": modelID,
		})
	}
}
