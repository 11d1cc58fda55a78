package domain

// CostUSD computes the USD cost of one step from its token usage and a
// resolved pricing record.
//
// When the usage carries a cache breakdown, input cost discriminates between
// uncached, cache-read, and cache-write tokens, with the cache rates
// defaulting to the base input rate when the provider does not publish them.
// Without a breakdown, all input tokens are charged flat. Output tokens are
// always charged at the output rate.
//
// Never negative given validated non-negative pricing and token counts.
func CostUSD(usage UsageRecord, pricing ModelPricing) float64 {
	var inputCost float64
	if bd := usage.Breakdown; bd != nil {
		inputCost = float64(bd.NoCacheTokens)*pricing.InputPerToken +
			float64(bd.CacheReadTokens)*pricing.CacheReadRate() +
			float64(bd.CacheWriteTokens)*pricing.CacheWriteRate()
	} else {
		inputCost = float64(usage.InputTokens) * pricing.InputPerToken
	}

	outputCost := float64(usage.OutputTokens) * pricing.OutputPerToken

	return inputCost + outputCost
}
