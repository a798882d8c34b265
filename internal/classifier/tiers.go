package classifier

import (
	"fmt"
	"math"
	"strings"
)

// TiePolicy decides which tier a score exactly on a cut point lands in.
type TiePolicy string

const (
	TieLower TiePolicy = "lower"
	TieUpper TiePolicy = "upper"
)

// TierCount is the number of review tiers.
const TierCount = 4

var tierLabels = [TierCount]string{
	"Not for Human Review",
	"Borderline — May Review",
	"Recommended for Review",
	"High Priority for Review",
}

// TierLabel returns the reviewer-facing name of a tier.
func TierLabel(tier int) string {
	if tier < 0 || tier >= TierCount {
		return fmt.Sprintf("Tier %d", tier)
	}
	return tierLabels[tier]
}

// ParseTiePolicy accepts "lower", "upper" or empty (lower).
func ParseTiePolicy(value string) (TiePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(TieLower):
		return TieLower, nil
	case string(TieUpper):
		return TieUpper, nil
	default:
		return "", fmt.Errorf("unknown tie policy %q", value)
	}
}

// TierTable maps ranker scores to tiers 0-3 using three ascending cut points.
type TierTable struct {
	cuts   [TierCount - 1]float64
	policy TiePolicy
}

// NewTierTable validates the cut points and tie policy.
func NewTierTable(cutPoints []float64, policy string) (TierTable, error) {
	var table TierTable
	if len(cutPoints) != TierCount-1 {
		return table, fmt.Errorf("expected %d cut points, got %d", TierCount-1, len(cutPoints))
	}
	for i, c := range cutPoints {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return table, fmt.Errorf("cut point %d is not finite", i)
		}
		if i > 0 && c <= cutPoints[i-1] {
			return table, fmt.Errorf("cut points must be strictly ascending: %v", cutPoints)
		}
		table.cuts[i] = c
	}
	p, err := ParseTiePolicy(policy)
	if err != nil {
		return table, err
	}
	table.policy = p
	return table, nil
}

// CutPoints returns a copy of the cut points.
func (t TierTable) CutPoints() []float64 {
	return append([]float64(nil), t.cuts[:]...)
}

// Policy returns the tie policy.
func (t TierTable) Policy() TiePolicy { return t.policy }

// Assign returns the tier for a ranker score. Under the lower policy a score
// equal to a cut stays below it.
func (t TierTable) Assign(score float64) int {
	tier := 0
	for _, cut := range t.cuts {
		if score > cut || (t.policy == TieUpper && score == cut) {
			tier++
		}
	}
	return tier
}
