// Package classifier applies the frozen two-stage model to feature vectors.
//
// A Gate estimates p_low, the probability an applicant belongs to the
// low-priority population, and passes applicants whose p_low is below the
// artifact threshold. Only passed applicants reach the Ranker; everyone else
// lands in tier 0. TierTable maps ranker scores onto four review tiers.
package classifier
