package domain

import (
	"sort"
	"strings"
)

// ResolvePricing maps a reported model identifier to a pricing record.
// Caller overrides are searched first; a hit there wins regardless of what
// the registry contains. Both tables use the same tiered strategy:
//
//   - Tier 1: a model variant equals a table key (direct map lookup)
//   - Tier 2: a model variant contains a key variant; longest key variant
//     wins, since longer matches are less likely to be short-string collisions
//   - Tier 3: a key variant contains a model variant; shortest key variant
//     wins (tightest enclosing match)
//
// Overrides must already be normalized (lower-cased keys); registry may be
// nil. Returns false when no tier matches.
func ResolvePricing(modelID string, overrides map[string]ModelPricing, registry *PricingRegistry) (ModelPricing, bool) {
	modelVariants := Variants(modelID)

	if len(overrides) > 0 {
		if pricing, ok := searchTable(modelVariants, overrideTable(overrides)); ok {
			return pricing, true
		}
	}

	if registry != nil {
		if pricing, ok := searchTable(modelVariants, registry); ok {
			return pricing, true
		}
	}

	return ModelPricing{}, false
}

// pricingTable is the matcher's view of a key->pricing mapping. Both the
// remote registry and a caller override table satisfy it.
type pricingTable interface {
	lookup(key string) (ModelPricing, bool)
	keys() []string
	variantsOf(key string) []string
}

func searchTable(modelVariants []string, table pricingTable) (ModelPricing, bool) {
	// Tier 1: exact key hit, O(1) per variant.
	for _, v := range modelVariants {
		if pricing, ok := table.lookup(v); ok {
			return pricing, true
		}
	}

	var (
		containedBest    ModelPricing
		containedLen     = -1
		enclosingBest    ModelPricing
		enclosingLen     = -1
		containedMatched bool
		enclosingMatched bool
	)

	// Sorted scan order plus strict length comparisons makes equal-length
	// ties resolve to the lexicographically first key, so repeated lookups of
	// one identifier always return the same record.
	keys := table.keys()
	sort.Strings(keys)

	for _, key := range keys {
		for _, keyVariant := range table.variantsOf(key) {
			for _, modelVariant := range modelVariants {
				// Tier 2: model variant contains key variant, prefer the
				// longest key variant.
				if containsSubstring(modelVariant, keyVariant) && len(keyVariant) > containedLen {
					pricing, ok := table.lookup(key)
					if ok {
						containedBest = pricing
						containedLen = len(keyVariant)
						containedMatched = true
					}
				}

				// Tier 3: key variant contains model variant, prefer the
				// shortest key variant.
				if containsSubstring(keyVariant, modelVariant) &&
					(enclosingLen < 0 || len(keyVariant) < enclosingLen) {
					pricing, ok := table.lookup(key)
					if ok {
						enclosingBest = pricing
						enclosingLen = len(keyVariant)
						enclosingMatched = true
					}
				}
			}
		}
	}

	if containedMatched {
		return containedBest, true
	}
	if enclosingMatched {
		return enclosingBest, true
	}

	return ModelPricing{}, false
}

func containsSubstring(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, needle)
}

// overrideTable adapts a normalized caller override map to the matcher.
// Override tables are small, so key variants are computed on the fly.
type overrideTable map[string]ModelPricing

func (t overrideTable) lookup(key string) (ModelPricing, bool) {
	pricing, ok := t[key]
	return pricing, ok
}

func (t overrideTable) keys() []string {
	ks := make([]string, 0, len(t))
	for k := range t {
		ks = append(ks, k)
	}
	return ks
}

func (t overrideTable) variantsOf(key string) []string {
	return Variants(key)
}

// PricingRegistry as a pricingTable: exact lookups go straight to the map,
// key variants come from the registry's memoizing cache.

func (r *PricingRegistry) lookup(key string) (ModelPricing, bool) {
	pricing, ok := r.Pricing[key]
	return pricing, ok
}

func (r *PricingRegistry) keys() []string {
	ks := make([]string, 0, len(r.Pricing))
	for k := range r.Pricing {
		ks = append(ks, k)
	}
	return ks
}

func (r *PricingRegistry) variantsOf(key string) []string {
	return r.KeyVariants(key)
}
