package classifier

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"triage/internal/drift"
	"triage/internal/features"
	"triage/internal/services"
)

func testArtifact() *Artifact {
	return &Artifact{
		Version: "test-1",
		Gate: GateSpec{
			LinearTerms: LinearTerms{Features: []string{"Exp_Hour_Total"}, Coefficients: []float64{-0.01}},
			Threshold:   0.5,
		},
		Ranker: RankerSpec{
			LinearTerms: LinearTerms{Features: []string{"Exp_Hour_Total"}, Coefficients: []float64{0.05}},
			Min:         0,
			Max:         25,
		},
		Tiers: TierSpec{CutPoints: []float64{6.25, 12.5, 18.75}},
		Training: drift.TrainingStatistics{Features: map[string]drift.FeatureStats{
			"Exp_Hour_Total": {Mean: 100, Std: 50, Median: 100, Reference: []float64{50, 100, 150}},
		}},
	}
}

func vectorWithHours(id string, hours float64) features.Vector {
	values := make([]float64, features.Width())
	idx, _ := features.Index("Exp_Hour_Total")
	values[idx] = hours
	return features.Vector{
		ApplicantID:     id,
		Cycle:           2025,
		Values:          values,
		RubricMissing:   make([]bool, len(features.RubricDimensions)),
		RubricAvailable: true,
	}
}

type stubGate struct{ passed bool }

func (g stubGate) Evaluate(features.Vector) (GateDecision, error) {
	if g.passed {
		return GateDecision{PLow: 0.1, Passed: true}, nil
	}
	return GateDecision{PLow: 0.9}, nil
}

type countingRanker struct {
	calls int
	score float64
}

func (r *countingRanker) Evaluate(features.Vector) (float64, error) {
	r.calls++
	return r.score, nil
}

func TestTierAssignBoundaries(t *testing.T) {
	lower, err := NewTierTable([]float64{6.25, 12.5, 18.75}, "")
	if err != nil {
		t.Fatalf("NewTierTable: %v", err)
	}
	upper, err := NewTierTable([]float64{6.25, 12.5, 18.75}, "upper")
	if err != nil {
		t.Fatalf("NewTierTable: %v", err)
	}
	cases := []struct {
		score      float64
		lower, upp int
	}{
		{0, 0, 0},
		{6.25, 0, 1},
		{6.2501, 1, 1},
		{12.5, 1, 2},
		{18.75, 2, 3},
		{18.76, 3, 3},
		{25, 3, 3},
	}
	for _, tc := range cases {
		if got := lower.Assign(tc.score); got != tc.lower {
			t.Fatalf("lower policy: score %v -> tier %d, want %d", tc.score, got, tc.lower)
		}
		if got := upper.Assign(tc.score); got != tc.upp {
			t.Fatalf("upper policy: score %v -> tier %d, want %d", tc.score, got, tc.upp)
		}
	}
}

func TestNewTierTableRejectsBadInput(t *testing.T) {
	bad := [][]float64{
		{6.25, 12.5},
		{6.25, 6.25, 18.75},
		{18.75, 12.5, 6.25},
		{math.NaN(), 12.5, 18.75},
	}
	for _, cuts := range bad {
		if _, err := NewTierTable(cuts, "lower"); err == nil {
			t.Fatalf("expected error for cut points %v", cuts)
		}
	}
	if _, err := NewTierTable([]float64{1, 2, 3}, "sideways"); err == nil {
		t.Fatal("expected error for unknown tie policy")
	}
}

func TestRankerNeverCalledForGatedOut(t *testing.T) {
	tiers, _ := NewTierTable([]float64{6.25, 12.5, 18.75}, "lower")
	ranker := &countingRanker{score: 20}

	out, err := New("stub", stubGate{passed: false}, ranker, tiers).Classify(vectorWithHours("1", 0), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ranker.calls != 0 {
		t.Fatalf("ranker called %d times for gated-out applicant", ranker.calls)
	}
	if out.PassedGate || out.Ranked || out.Tier != 0 || out.TierLabel != "Not for Human Review" {
		t.Fatalf("unexpected gated-out assignment %+v", out)
	}

	out, err = New("stub", stubGate{passed: true}, ranker, tiers).Classify(vectorWithHours("2", 0), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ranker.calls != 1 || out.Tier != 3 || !out.Ranked {
		t.Fatalf("expected one ranker call and tier 3, got calls=%d %+v", ranker.calls, out)
	}
}

func TestClassifyFromArtifactIsDeterministic(t *testing.T) {
	c, err := FromArtifact(testArtifact(), Options{})
	if err != nil {
		t.Fatalf("FromArtifact: %v", err)
	}
	vec := vectorWithHours("9", 200)
	first, err := c.Classify(vec, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.Classify(vec, false)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("non-deterministic classification: %+v vs %+v", first, again)
		}
	}
	if !first.PassedGate || math.Abs(first.Score-10) > 1e-9 || first.Tier != 1 {
		t.Fatalf("unexpected assignment %+v", first)
	}
	if first.Confidence != ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", first.Confidence)
	}

	clipped, err := c.Classify(vectorWithHours("10", 1000), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if clipped.Score != 25 || clipped.Tier != 3 {
		t.Fatalf("expected clipped score 25 in tier 3, got %+v", clipped)
	}

	gatedOut, err := c.Classify(vectorWithHours("11", 0), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if gatedOut.PassedGate {
		t.Fatalf("p_low equal to threshold must not pass the gate: %+v", gatedOut)
	}
}

func TestClassifyOptionsOverrideArtifact(t *testing.T) {
	c, err := FromArtifact(testArtifact(), Options{TiePolicy: "upper", CutPoints: []float64{5, 10, 15}})
	if err != nil {
		t.Fatalf("FromArtifact: %v", err)
	}
	out, err := c.Classify(vectorWithHours("1", 200), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.Tier != 2 {
		t.Fatalf("score 10 on cut 10 with upper policy should be tier 2, got %d", out.Tier)
	}
}

func TestClassifySchemaMismatchIsFatal(t *testing.T) {
	c, err := FromArtifact(testArtifact(), Options{})
	if err != nil {
		t.Fatalf("FromArtifact: %v", err)
	}
	short := features.Vector{ApplicantID: "x", Values: []float64{1, 2, 3}}
	if _, err := c.Classify(short, false); !errors.Is(err, services.ErrModelInference) {
		t.Fatalf("expected model inference error, got %v", err)
	}
	nan := vectorWithHours("y", 10)
	nan.Values[3] = math.NaN()
	if _, err := c.Classify(nan, false); !errors.Is(err, services.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch for NaN, got %v", err)
	}

	batch := []features.Vector{vectorWithHours("ok", 200), short}
	if _, err := c.ClassifyBatch(nil, batch, drift.Report{}); err == nil {
		t.Fatal("expected batch to fail on malformed vector")
	}
}

func TestConfidenceRules(t *testing.T) {
	if ConfidenceFor(true, false) != ConfidenceHigh {
		t.Fatal("expected high confidence")
	}
	if ConfidenceFor(false, false) != ConfidenceLow || ConfidenceFor(true, true) != ConfidenceLow {
		t.Fatal("expected low confidence")
	}

	c, _ := FromArtifact(testArtifact(), Options{})
	vec := vectorWithHours("1", 200)
	vec.RubricMissing[2] = true
	vec.RubricAvailable = false
	out, err := c.Classify(vec, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.Confidence != ConfidenceLow || !reflect.DeepEqual(out.RubricMissing, []string{features.RubricDimensions[2]}) {
		t.Fatalf("unexpected assignment %+v", out)
	}

	report := drift.Report{GlobalDrift: true}
	batch, err := c.ClassifyBatch(nil, []features.Vector{vectorWithHours("2", 200)}, report)
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if batch[0].Confidence != ConfidenceLow {
		t.Fatal("global drift should lower confidence")
	}

	degraded := vectorWithHours("3", 200)
	degraded.Degradations = []string{features.DegradeMissingFile}
	out, err = c.Classify(degraded, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.Confidence != ConfidenceHigh || !reflect.DeepEqual(out.Degradations, []string{features.DegradeMissingFile}) {
		t.Fatalf("degradations should be reported without lowering confidence, got %+v", out)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Assignment{
		{Tier: 0, TierLabel: TierLabel(0), Confidence: ConfidenceLow},
		{Tier: 2, TierLabel: TierLabel(2), PassedGate: true, Confidence: ConfidenceHigh},
		{Tier: 3, TierLabel: TierLabel(3), PassedGate: true, Confidence: ConfidenceHigh},
	})
	if s.Applicants != 3 || s.PassedGate != 2 || s.HighConfidence != 2 || s.LowConfidence != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.ByTier != [TierCount]int{1, 0, 1, 1} || s.ByLabel["Borderline — May Review"] != 0 {
		t.Fatalf("unexpected distribution %+v", s)
	}
}

func TestLoadArtifactYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	want := testArtifact()

	yamlBytes, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	yamlPath := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(yamlPath, yamlBytes, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadArtifact(yamlPath)
	if err != nil {
		t.Fatalf("LoadArtifact yaml: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("yaml round trip mismatch:\n got %+v\nwant %+v", got, want)
	}

	jsonBytes, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	jsonPath := filepath.Join(dir, "model.json")
	if err := os.WriteFile(jsonPath, jsonBytes, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, err = LoadArtifact(jsonPath); err != nil {
		t.Fatalf("LoadArtifact json: %v", err)
	}
	if got.Gate.Threshold != 0.5 || got.Ranker.Max != 25 || got.Version != "test-1" {
		t.Fatalf("unexpected json artifact %+v", got)
	}

	if _, err := LoadArtifact(filepath.Join(dir, "missing.yaml")); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestArtifactValidateRejectsUnknownFeature(t *testing.T) {
	a := testArtifact()
	a.Ranker.Features = []string{"Shoe_Size"}
	if err := a.Validate(); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	a = testArtifact()
	a.Gate.Coefficients = nil
	if err := a.Validate(); err == nil {
		t.Fatal("expected arity error")
	}
}
