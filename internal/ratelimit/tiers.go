package ratelimit

import (
	gateway "github.com/llmrouter/gateway/internal"
)

// TierLimits defines the budgets for one pricing tier. Zero means unlimited.
type TierLimits struct {
	RequestsPerMinute int64   `yaml:"requests_per_minute"`
	RequestsPerHour   int64   `yaml:"requests_per_hour"`
	Concurrent        int64   `yaml:"concurrent"`
	DailyTokens       int64   `yaml:"daily_tokens"`
	MonthlyRequests   int64   `yaml:"monthly_requests"`
	CostMultiplier    float64 `yaml:"cost_multiplier"`
}

// DefaultTiers returns the built-in tier table. Deployments may override
// entries via config.
func DefaultTiers() map[gateway.Tier]TierLimits {
	return map[gateway.Tier]TierLimits{
		gateway.TierFree: {
			RequestsPerMinute: 10,
			RequestsPerHour:   100,
			Concurrent:        2,
			DailyTokens:       50_000,
			MonthlyRequests:   2_000,
			CostMultiplier:    1.0,
		},
		gateway.TierBasic: {
			RequestsPerMinute: 60,
			RequestsPerHour:   1_000,
			Concurrent:        5,
			DailyTokens:       500_000,
			MonthlyRequests:   50_000,
			CostMultiplier:    1.0,
		},
		gateway.TierPro: {
			RequestsPerMinute: 300,
			RequestsPerHour:   10_000,
			Concurrent:        20,
			DailyTokens:       5_000_000,
			MonthlyRequests:   500_000,
			CostMultiplier:    0.9,
		},
		gateway.TierEnterprise: {
			RequestsPerMinute: 1_000,
			RequestsPerHour:   50_000,
			Concurrent:        100,
			DailyTokens:       50_000_000,
			MonthlyRequests:   5_000_000,
			CostMultiplier:    0.8,
		},
		gateway.TierAdmin: {
			CostMultiplier: 1.0, // everything else unlimited
		},
	}
}

// OverrideTiers returns the default tier table with the non-zero fields of
// each override applied. A negative override lifts that budget entirely.
func OverrideTiers(overrides map[string]TierLimits) map[gateway.Tier]TierLimits {
	tiers := DefaultTiers()
	for name, o := range overrides {
		tier := gateway.Tier(name)
		t := tiers[tier]
		apply := func(dst *int64, v int64) {
			switch {
			case v < 0:
				*dst = 0
			case v > 0:
				*dst = v
			}
		}
		apply(&t.RequestsPerMinute, o.RequestsPerMinute)
		apply(&t.RequestsPerHour, o.RequestsPerHour)
		apply(&t.Concurrent, o.Concurrent)
		apply(&t.DailyTokens, o.DailyTokens)
		apply(&t.MonthlyRequests, o.MonthlyRequests)
		if o.CostMultiplier > 0 {
			t.CostMultiplier = o.CostMultiplier
		}
		tiers[tier] = t
	}
	return tiers
}

// RequestCost converts a token budget to cost-bucket units.
// One unit per 50 requested output tokens, minimum 1.
func RequestCost(maxTokens int) int64 {
	if maxTokens <= 0 {
		return 1
	}
	return int64((maxTokens + 49) / 50)
}
