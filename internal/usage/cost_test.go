package usage

import (
	"math"
	"testing"

	"llmrouter/internal/catalog"
)

func TestCost(t *testing.T) {
	pricing := catalog.Pricing{InputPer1K: 0.0025, OutputPer1K: 0.01}

	cases := []struct {
		name    string
		in, out int
		want    float64
	}{
		{"round numbers", 1000, 1000, 0.0125},
		{"partial thousands", 500, 250, 0.00375},
		{"zero tokens", 0, 0, 0},
		{"input only", 2000, 0, 0.005},
		{"output only", 0, 3000, 0.03},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Cost(pricing, tc.in, tc.out)
			if math.Abs(got-tc.want) > 1e-12 {
				t.Errorf("Cost(%d, %d) = %v, want %v", tc.in, tc.out, got, tc.want)
			}
		})
	}
}

func TestCostZeroPricing(t *testing.T) {
	if got := Cost(catalog.Pricing{}, 100000, 100000); got != 0 {
		t.Errorf("unpriced model cost = %v, want 0", got)
	}
}
