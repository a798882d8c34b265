package classifier

import (
	"fmt"
	"math"

	"triage/internal/features"
	"triage/internal/services"
)

// GateDecision is the stage A outcome for one applicant.
type GateDecision struct {
	PLow   float64
	Passed bool
}

// Gate excludes the low-priority population before ranking.
type Gate interface {
	Evaluate(vec features.Vector) (GateDecision, error)
}

// Ranker scores gated-in applicants on a fixed range.
type Ranker interface {
	Evaluate(vec features.Vector) (float64, error)
}

// LogisticGate computes p_low with a frozen logistic regression.
type LogisticGate struct {
	indices   []int
	coef      []float64
	intercept float64
	threshold float64
}

// NewLogisticGate builds a gate from its artifact spec.
func NewLogisticGate(spec GateSpec) (*LogisticGate, error) {
	if err := spec.validate("gate"); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "gate", err.Error(), nil)
	}
	return &LogisticGate{
		indices:   spec.indices(),
		coef:      append([]float64(nil), spec.Coefficients...),
		intercept: spec.Intercept,
		threshold: spec.Threshold,
	}, nil
}

// Threshold returns the frozen p_low cut.
func (g *LogisticGate) Threshold() float64 { return g.threshold }

// Evaluate passes the applicant when p_low is strictly below the threshold.
func (g *LogisticGate) Evaluate(vec features.Vector) (GateDecision, error) {
	z, err := linear(vec, g.indices, g.coef, g.intercept)
	if err != nil {
		return GateDecision{}, err
	}
	pLow := 1 / (1 + math.Exp(-z))
	return GateDecision{PLow: pLow, Passed: pLow < g.threshold}, nil
}

// LinearRanker is a frozen linear regression clipped to [min, max].
type LinearRanker struct {
	indices   []int
	coef      []float64
	intercept float64
	min, max  float64
}

// NewLinearRanker builds a ranker from its artifact spec.
func NewLinearRanker(spec RankerSpec) (*LinearRanker, error) {
	if err := spec.validate("ranker"); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "ranker", err.Error(), nil)
	}
	if !(spec.Max > spec.Min) {
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "ranker", "max must exceed min", nil)
	}
	return &LinearRanker{
		indices:   spec.indices(),
		coef:      append([]float64(nil), spec.Coefficients...),
		intercept: spec.Intercept,
		min:       spec.Min,
		max:       spec.Max,
	}, nil
}

// Evaluate returns the clipped ranker score.
func (r *LinearRanker) Evaluate(vec features.Vector) (float64, error) {
	score, err := linear(vec, r.indices, r.coef, r.intercept)
	if err != nil {
		return 0, err
	}
	return math.Max(r.min, math.Min(r.max, score)), nil
}

func linear(vec features.Vector, indices []int, coef []float64, intercept float64) (float64, error) {
	if err := checkVector(vec); err != nil {
		return 0, err
	}
	sum := intercept
	for i, idx := range indices {
		sum += coef[i] * vec.Values[idx]
	}
	return sum, nil
}

// checkVector rejects vectors that do not match the schema the models were fit on.
func checkVector(vec features.Vector) error {
	if len(vec.Values) != features.Width() {
		return services.Wrap(services.ErrModelInference, "classifier", "schema",
			fmt.Sprintf("applicant %s has %d features, model expects %d", vec.ApplicantID, len(vec.Values), features.Width()), nil)
	}
	for i, v := range vec.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return services.Wrap(services.ErrModelInference, "classifier", "schema",
				fmt.Sprintf("applicant %s has non-finite %s", vec.ApplicantID, features.Schema()[i]), nil)
		}
	}
	return nil
}
