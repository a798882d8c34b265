package classifier

// Summary aggregates a run's assignments for the result summary.
type Summary struct {
	Applicants     int            `json:"applicants"`
	PassedGate     int            `json:"passed_gate"`
	ByTier         [TierCount]int `json:"by_tier"`
	ByLabel        map[string]int `json:"by_label"`
	HighConfidence int            `json:"high_confidence"`
	LowConfidence  int            `json:"low_confidence"`
}

// Summarize counts tiers, gate passes and confidence levels.
func Summarize(assignments []Assignment) Summary {
	s := Summary{Applicants: len(assignments), ByLabel: make(map[string]int, TierCount)}
	for tier := 0; tier < TierCount; tier++ {
		s.ByLabel[TierLabel(tier)] = 0
	}
	for _, a := range assignments {
		if a.PassedGate {
			s.PassedGate++
		}
		if a.Tier >= 0 && a.Tier < TierCount {
			s.ByTier[a.Tier]++
		}
		s.ByLabel[a.TierLabel]++
		if a.Confidence == ConfidenceHigh {
			s.HighConfidence++
		} else {
			s.LowConfidence++
		}
	}
	return s
}
