package drift

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"

	"triage/internal/features"
)

// referenceSample returns n evenly spaced standard normal quantiles.
func referenceSample(n int) []float64 {
	norm := distuv.UnitNormal
	out := make([]float64, n)
	for i := range out {
		out[i] = norm.Quantile((float64(i) + 0.5) / float64(n))
	}
	return out
}

// syntheticBatch builds a stats table over the first nFeatures schema columns
// and a batch where the first nShifted of them move by shiftSD reference SDs.
func syntheticBatch(t *testing.T, nFeatures, nShifted int, shiftSD float64) (TrainingStatistics, []features.Vector) {
	t.Helper()
	const n = 200
	ref := referenceSample(n)
	mean, std := 0.0, 1.0
	names := features.Schema()[:nFeatures]
	stats := TrainingStatistics{Features: make(map[string]FeatureStats, nFeatures)}
	for _, name := range names {
		stats.Features[name] = FeatureStats{Mean: mean, Std: std, Reference: ref}
	}
	vectors := make([]features.Vector, n)
	for i := range vectors {
		values := make([]float64, features.Width())
		for f := range names {
			v := ref[i]
			if f < nShifted {
				v += shiftSD * std
			}
			values[f] = v
		}
		vectors[i] = features.Vector{ApplicantID: "a", Values: values, RubricMissing: make([]bool, len(features.RubricDimensions))}
	}
	return stats, vectors
}

func TestGlobalDriftThreshold(t *testing.T) {
	cases := []struct {
		name    string
		shifted int
		want    bool
	}{
		{"25 percent shifted", 5, true},
		{"15 percent shifted", 3, false},
		{"none shifted", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stats, vectors := syntheticBatch(t, 20, tc.shifted, 3.5)
			report, err := NewDetector(stats, 0.05, 0.20).Evaluate(vectors)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if report.Tested != 20 {
				t.Fatalf("expected 20 tested features, got %d", report.Tested)
			}
			if report.DriftedCount != tc.shifted {
				t.Fatalf("expected %d drifted, got %d (%v)", tc.shifted, report.DriftedCount, report.DriftedFeatures())
			}
			if report.GlobalDrift != tc.want {
				t.Fatalf("global drift = %v, want %v (fraction %.2f)", report.GlobalDrift, tc.want, report.DriftedFraction)
			}
		})
	}
}

func TestMeanShiftInTrainingSDUnits(t *testing.T) {
	stats, vectors := syntheticBatch(t, 2, 1, 3.5)
	report, err := NewDetector(stats, 0, 0).Evaluate(vectors)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Alpha != DefaultAlpha || report.Ceiling != DefaultCeiling {
		t.Fatalf("expected defaults, got alpha=%v ceiling=%v", report.Alpha, report.Ceiling)
	}
	shifted := report.Features[0]
	if math.Abs(shifted.MeanShift-3.5) > 1e-6 {
		t.Fatalf("expected mean shift 3.5 SD, got %v", shifted.MeanShift)
	}
	if shifted.PValue >= 0.05 || shifted.Statistic < 0.8 {
		t.Fatalf("expected strong drift, got D=%v p=%v", shifted.Statistic, shifted.PValue)
	}
	steady := report.Features[1]
	if steady.Drifted || steady.PValue != 1 || math.Abs(steady.MeanShift) > 1e-9 {
		t.Fatalf("expected steady feature, got %+v", steady)
	}
}

func TestKSPValueMonotonic(t *testing.T) {
	prev := 1.0
	for _, d := range []float64{0.01, 0.05, 0.1, 0.2, 0.4} {
		p := ksPValue(d, 500, 500)
		if p > prev {
			t.Fatalf("p-value should decrease with D: D=%v p=%v prev=%v", d, p, prev)
		}
		prev = p
	}
	// Critical value for alpha=0.05 with n=m=500 is about 0.086.
	if p := ksPValue(0.086, 500, 500); math.Abs(p-0.05) > 0.01 {
		t.Fatalf("expected p near 0.05 at the critical value, got %v", p)
	}
}

func TestAffectsApplicant(t *testing.T) {
	rubricDim := features.RubricDimensions[0]
	report := Report{Features: []FeatureDrift{{Feature: rubricDim, Drifted: true}}}

	scored := features.Vector{RubricMissing: make([]bool, len(features.RubricDimensions))}
	if !report.AffectsApplicant(scored) {
		t.Fatal("expected scored applicant to be affected by rubric drift")
	}
	unscored := features.Vector{RubricMissing: make([]bool, len(features.RubricDimensions))}
	unscored.RubricMissing[0] = true
	if report.AffectsApplicant(unscored) {
		t.Fatal("imputed dimension should not tie the applicant to the drifted distribution")
	}

	structural := Report{Features: []FeatureDrift{{Feature: "Exp_Hour_Total", Drifted: true}}}
	if structural.AffectsApplicant(scored) {
		t.Fatal("non-rubric drift without global drift should not affect confidence")
	}
	structural.GlobalDrift = true
	if !structural.AffectsApplicant(scored) {
		t.Fatal("global drift affects every applicant")
	}
}

func TestEvaluateRejectsEmptyAndMalformed(t *testing.T) {
	stats, _ := syntheticBatch(t, 1, 0, 0)
	d := NewDetector(stats, 0.05, 0.2)
	if _, err := d.Evaluate(nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
	if _, err := d.Evaluate([]features.Vector{{Values: []float64{1}}}); err == nil {
		t.Fatal("expected schema error for short vector")
	}
}

func TestStatisticsValidate(t *testing.T) {
	if err := (TrainingStatistics{}).Validate(); err == nil {
		t.Fatal("expected error without references")
	}
	bad := TrainingStatistics{Features: map[string]FeatureStats{"not_a_feature": {Reference: []float64{1}}}}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unknown feature")
	}
	good, _ := syntheticBatch(t, 3, 0, 0)
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
