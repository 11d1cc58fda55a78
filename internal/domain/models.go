package domain

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// ModelPricing holds per-token USD rates for one model. Cache rates are
// optional; when nil the base input rate applies. Immutable once constructed.
type ModelPricing struct {
	InputPerToken      float64  `json:"input_per_token"`
	OutputPerToken     float64  `json:"output_per_token"`
	CacheReadPerToken  *float64 `json:"cache_read_per_token,omitempty"`
	CacheWritePerToken *float64 `json:"cache_write_per_token,omitempty"`
}

// CacheReadRate returns the effective cache-read rate.
func (p ModelPricing) CacheReadRate() float64 {
	if p.CacheReadPerToken != nil {
		return *p.CacheReadPerToken
	}
	return p.InputPerToken
}

// CacheWriteRate returns the effective cache-write rate.
func (p ModelPricing) CacheWriteRate() float64 {
	if p.CacheWritePerToken != nil {
		return *p.CacheWritePerToken
	}
	return p.InputPerToken
}

// PricingRegistry maps lower-cased registry keys (as published by the remote
// source) to pricing records. A registry is built wholesale by the pricing
// source and swapped atomically; the pricing map is never mutated after
// construction, which is what makes the lazy key-variant cache safe to share.
type PricingRegistry struct {
	Pricing   map[string]ModelPricing
	FetchedAt time.Time

	variantMu   sync.Mutex
	keyVariants map[string][]string
}

// NewPricingRegistry creates a registry over an already-validated pricing map.
func NewPricingRegistry(pricing map[string]ModelPricing, fetchedAt time.Time) *PricingRegistry {
	return &PricingRegistry{
		Pricing:     pricing,
		FetchedAt:   fetchedAt,
		keyVariants: make(map[string][]string, len(pricing)),
	}
}

// KeyVariants returns the variant expansion of a registry key, memoized so
// repeated fuzzy lookups do not recompute it.
func (r *PricingRegistry) KeyVariants(key string) []string {
	r.variantMu.Lock()
	defer r.variantMu.Unlock()

	if v, ok := r.keyVariants[key]; ok {
		return v
	}

	v := Variants(key)
	r.keyVariants[key] = v
	return v
}

// CacheBreakdown splits input tokens by prompt-cache participation. The sum
// is expected not to exceed the step's InputTokens; callers are trusted.
type CacheBreakdown struct {
	NoCacheTokens    int64 `json:"no_cache_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
}

// UsageRecord carries the token counts of one completed step.
type UsageRecord struct {
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Breakdown    *CacheBreakdown `json:"breakdown,omitempty"`
}

// usageWire mirrors UsageRecord on the wire. Step reporters send the cache
// split flat alongside the token counts; a nested breakdown object is also
// accepted and wins when both are present.
type usageWire struct {
	InputTokens      int64           `json:"input_tokens"`
	OutputTokens     int64           `json:"output_tokens"`
	Breakdown        *CacheBreakdown `json:"breakdown"`
	NoCacheTokens    *int64          `json:"no_cache_tokens"`
	CacheReadTokens  *int64          `json:"cache_read_tokens"`
	CacheWriteTokens *int64          `json:"cache_write_tokens"`
}

// UnmarshalJSON folds flat cache fields into the breakdown so a reported
// cache split is never silently dropped.
func (u *UsageRecord) UnmarshalJSON(data []byte) error {
	var wire usageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	u.InputTokens = wire.InputTokens
	u.OutputTokens = wire.OutputTokens
	u.Breakdown = wire.Breakdown

	if u.Breakdown == nil &&
		(wire.NoCacheTokens != nil || wire.CacheReadTokens != nil || wire.CacheWriteTokens != nil) {
		breakdown := &CacheBreakdown{}
		if wire.NoCacheTokens != nil {
			breakdown.NoCacheTokens = *wire.NoCacheTokens
		}
		if wire.CacheReadTokens != nil {
			breakdown.CacheReadTokens = *wire.CacheReadTokens
		}
		if wire.CacheWriteTokens != nil {
			breakdown.CacheWriteTokens = *wire.CacheWriteTokens
		}
		u.Breakdown = breakdown
	}

	return nil
}

// StepRecord is what the host loop reports after each model invocation.
// ModelID may be empty when the loop could not attribute the step.
type StepRecord struct {
	ModelID string      `json:"model"`
	Usage   UsageRecord `json:"usage"`
}

// BudgetStatus is a point-in-time snapshot of a tracker.
type BudgetStatus struct {
	TotalCostUSD   float64 `json:"total_cost_usd"`
	MaxBudgetUSD   float64 `json:"max_budget_usd"`
	RemainingUSD   float64 `json:"remaining_usd"`
	UsagePercent   float64 `json:"usage_percent"`
	StepsCompleted int     `json:"steps_completed"`
	UnpricedSteps  int     `json:"unpriced_steps"`
	Exceeded       bool    `json:"exceeded"`
}

// NormalizeOverrides lower-cases override keys so the matcher can treat a
// caller-supplied table the same way it treats the remote registry.
func NormalizeOverrides(overrides map[string]ModelPricing) map[string]ModelPricing {
	if len(overrides) == 0 {
		return nil
	}

	normalized := make(map[string]ModelPricing, len(overrides))
	for key, pricing := range overrides {
		normalized[strings.ToLower(key)] = pricing
	}
	return normalized
}
