package tier

import "testing"

func TestBatchCap(t *testing.T) {
	tests := []struct {
		rateClass string
		expected  int
	}{
		{Tier250, 250},
		{Tier1K, 1000},
		{Tier10K, 10000},
		{Tier100K, 100000},
		{TierUnlimited, 250000},
		{"TIER_2K", 0},
		{"tier_1k", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.rateClass, func(t *testing.T) {
			if got := BatchCap(tt.rateClass); got != tt.expected {
				t.Errorf("BatchCap(%q) = %d, want %d", tt.rateClass, got, tt.expected)
			}
		})
	}
}
