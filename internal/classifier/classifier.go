package classifier

import (
	"log/slog"

	"triage/internal/drift"
	"triage/internal/features"
	"triage/internal/logging"
)

// Confidence is derived from rubric availability and drift membership.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// ConfidenceFor is high only when every curated rubric dimension was scored and
// no drift touches the applicant. Degradation markers such as a missing optional
// file do not lower it; they travel on Assignment.Degradations and in the run
// summary instead.
func ConfidenceFor(rubricAvailable, driftAffected bool) Confidence {
	if rubricAvailable && !driftAffected {
		return ConfidenceHigh
	}
	return ConfidenceLow
}

// Assignment is the per-applicant output.
type Assignment struct {
	ApplicantID string     `json:"applicant_id"`
	PLow        float64    `json:"p_low"`
	PassedGate  bool       `json:"passed_gate"`
	Ranked      bool       `json:"ranked"`
	Score       float64    `json:"score"`
	Tier        int        `json:"tier"`
	TierLabel   string     `json:"tier_label"`
	Confidence  Confidence `json:"confidence"`
	// RubricMissing lists curated rubric dimensions that were imputed.
	RubricMissing []string `json:"rubric_missing,omitempty"`
	Degradations  []string `json:"degradations,omitempty"`
}

// Options override tier settings frozen in the artifact.
type Options struct {
	TiePolicy string
	CutPoints []float64
}

// Classifier composes a gate, a ranker and a tier table. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	version string
	gate    Gate
	ranker  Ranker
	tiers   TierTable
}

// New composes explicit parts.
func New(version string, gate Gate, ranker Ranker, tiers TierTable) *Classifier {
	return &Classifier{version: version, gate: gate, ranker: ranker, tiers: tiers}
}

// FromArtifact builds the logistic gate and linear ranker an artifact describes.
// Non-empty options replace the artifact's tie policy and cut points.
func FromArtifact(artifact *Artifact, opts Options) (*Classifier, error) {
	gate, err := NewLogisticGate(artifact.Gate)
	if err != nil {
		return nil, err
	}
	ranker, err := NewLinearRanker(artifact.Ranker)
	if err != nil {
		return nil, err
	}
	cuts := artifact.Tiers.CutPoints
	if len(opts.CutPoints) > 0 {
		cuts = opts.CutPoints
	}
	policy := artifact.Tiers.TiePolicy
	if opts.TiePolicy != "" {
		policy = opts.TiePolicy
	}
	tiers, err := NewTierTable(cuts, policy)
	if err != nil {
		return nil, err
	}
	return New(artifact.Version, gate, ranker, tiers), nil
}

// Version identifies the model artifact.
func (c *Classifier) Version() string { return c.version }

// Tiers exposes the tier table in use.
func (c *Classifier) Tiers() TierTable { return c.tiers }

// Classify scores one vector and assigns its tier. Gated-out applicants land
// in tier 0 without the ranker being consulted. Schema problems are returned as
// ErrModelInference.
func (c *Classifier) Classify(vec features.Vector, driftAffected bool) (Assignment, error) {
	out, err := c.Score(vec, driftAffected)
	if err != nil {
		return Assignment{}, err
	}
	c.AssignTier(&out)
	return out, nil
}

// Score runs the gate and, for gated-in vectors only, the ranker. The tier is
// left for AssignTier.
func (c *Classifier) Score(vec features.Vector, driftAffected bool) (Assignment, error) {
	if err := checkVector(vec); err != nil {
		return Assignment{}, err
	}
	decision, err := c.gate.Evaluate(vec)
	if err != nil {
		return Assignment{}, err
	}
	out := Assignment{
		ApplicantID:  vec.ApplicantID,
		PLow:         decision.PLow,
		PassedGate:   decision.Passed,
		Confidence:   ConfidenceFor(vec.RubricAvailable, driftAffected),
		Degradations: vec.Degradations,
	}
	for i, missing := range vec.RubricMissing {
		if missing && i < len(features.RubricDimensions) {
			out.RubricMissing = append(out.RubricMissing, features.RubricDimensions[i])
		}
	}
	if decision.Passed {
		score, err := c.ranker.Evaluate(vec)
		if err != nil {
			return Assignment{}, err
		}
		out.Ranked = true
		out.Score = score
	}
	return out, nil
}

// AssignTier maps a scored assignment onto the tier table.
func (c *Classifier) AssignTier(a *Assignment) {
	a.Tier = 0
	if a.Ranked {
		a.Tier = c.tiers.Assign(a.Score)
	}
	a.TierLabel = TierLabel(a.Tier)
}

// ScoreBatch scores every vector in order, consulting the drift report for
// per-applicant membership. The first error aborts the batch.
func (c *Classifier) ScoreBatch(logger *slog.Logger, vectors []features.Vector, report drift.Report) ([]Assignment, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	out := make([]Assignment, 0, len(vectors))
	for _, vec := range vectors {
		a, err := c.Score(vec, report.AffectsApplicant(vec))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	summary := Summarize(out)
	logger.Info("classification complete",
		logging.String("model_version", c.version),
		logging.Int("applicants", len(out)),
		logging.Int("passed_gate", summary.PassedGate),
		logging.Int("low_confidence", summary.LowConfidence))
	return out, nil
}

// ClassifyBatch scores every vector and assigns tiers.
func (c *Classifier) ClassifyBatch(logger *slog.Logger, vectors []features.Vector, report drift.Report) ([]Assignment, error) {
	out, err := c.ScoreBatch(logger, vectors, report)
	if err != nil {
		return nil, err
	}
	for i := range out {
		c.AssignTier(&out[i])
	}
	return out, nil
}
