// Package tier maps the provider-assigned messaging-limit tier of a sending
// number to the maximum audience slice one broadcast batch may carry.
package tier

// Provider rate classes.
const (
	Tier250       = "TIER_250"
	Tier1K        = "TIER_1K"
	Tier10K       = "TIER_10K"
	Tier100K      = "TIER_100K"
	TierUnlimited = "TIER_UNLIMITED"
)

var batchCaps = map[string]int{
	Tier250:       250,
	Tier1K:        1000,
	Tier10K:       10000,
	Tier100K:      100000,
	TierUnlimited: 250000,
}

// BatchCap returns the per-batch customer cap for a rate class. Unknown
// labels return 0; the planner rejects a zero cap rather than divide by it.
func BatchCap(rateClass string) int {
	return batchCaps[rateClass]
}
