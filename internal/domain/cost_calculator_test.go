package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/embermeter/internal/domain"
)

func rate(v float64) *float64 { return &v }

func TestCostUSD(t *testing.T) {
	tests := []struct {
		name     string
		usage    domain.UsageRecord
		pricing  domain.ModelPricing
		expected float64
	}{
		{
			name:  "flat input and output",
			usage: domain.UsageRecord{InputTokens: 1000, OutputTokens: 500},
			pricing: domain.ModelPricing{
				InputPerToken:  0.000003,
				OutputPerToken: 0.000015,
			},
			expected: 0.0105, // 1000*0.000003 + 500*0.000015
		},
		{
			name: "cache breakdown with discounted reads",
			usage: domain.UsageRecord{
				InputTokens:  1000,
				OutputTokens: 0,
				Breakdown: &domain.CacheBreakdown{
					NoCacheTokens:   200,
					CacheReadTokens: 800,
				},
			},
			pricing: domain.ModelPricing{
				InputPerToken:     0.000003,
				OutputPerToken:    0.000015,
				CacheReadPerToken: rate(0.0000003),
			},
			expected: 0.00084, // 200*0.000003 + 800*0.0000003
		},
		{
			name: "cache rates default to input rate when absent",
			usage: domain.UsageRecord{
				InputTokens:  1000,
				OutputTokens: 0,
				Breakdown: &domain.CacheBreakdown{
					NoCacheTokens:    200,
					CacheReadTokens:  500,
					CacheWriteTokens: 300,
				},
			},
			pricing: domain.ModelPricing{
				InputPerToken:  0.000003,
				OutputPerToken: 0.000015,
			},
			expected: 0.003, // all 1000 input tokens at the base rate
		},
		{
			name: "cache write premium",
			usage: domain.UsageRecord{
				InputTokens:  1000,
				OutputTokens: 100,
				Breakdown: &domain.CacheBreakdown{
					NoCacheTokens:    900,
					CacheWriteTokens: 100,
				},
			},
			pricing: domain.ModelPricing{
				InputPerToken:      0.000003,
				OutputPerToken:     0.000015,
				CacheWritePerToken: rate(0.00000375),
			},
			expected: 0.004575, // 900*0.000003 + 100*0.00000375 + 100*0.000015
		},
		{
			name:  "zero tokens",
			usage: domain.UsageRecord{},
			pricing: domain.ModelPricing{
				InputPerToken:  0.000003,
				OutputPerToken: 0.000015,
			},
			expected: 0,
		},
		{
			name: "breakdown overrides flat input tokens",
			usage: domain.UsageRecord{
				InputTokens:  1000,
				OutputTokens: 0,
				Breakdown:    &domain.CacheBreakdown{NoCacheTokens: 100},
			},
			pricing: domain.ModelPricing{
				InputPerToken:  0.000003,
				OutputPerToken: 0.000015,
			},
			// Only the breakdown counts; InputTokens is ignored once a
			// breakdown is present.
			expected: 0.0003,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost := domain.CostUSD(tt.usage, tt.pricing)
			require.InDelta(t, tt.expected, cost, 1e-12)
			require.GreaterOrEqual(t, cost, 0.0)
		})
	}
}
