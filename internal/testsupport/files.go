package testsupport

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"triage/internal/classifier"
	"triage/internal/config"
	"triage/internal/drift"
	"triage/internal/features"
)

// SyntheticApplicant is one generated applicant row.
type SyntheticApplicant struct {
	ID            string
	TotalHours    float64
	ResearchHours float64
}

// GatedOut reports whether the synthetic gate rejects the applicant.
func (a SyntheticApplicant) GatedOut() bool { return a.TotalHours == 0 }

// SyntheticCutPoints are the tier cut points used by SyntheticArtifact.
var SyntheticCutPoints = []float64{6.25, 12.5, 18.75}

// SyntheticCohort builds n applicants. Every tenth applicant has no hours and
// is rejected by the synthetic gate; the rest rank exactly at their research
// hours, which cycle through 0, 0.25, ... 24.75 and so land on every cut point.
func SyntheticCohort(n int) []SyntheticApplicant {
	out := make([]SyntheticApplicant, n)
	for i := range out {
		total := 1000.0
		if i%10 == 0 {
			total = 0
		}
		out[i] = SyntheticApplicant{
			ID:            strconv.Itoa(100000 + i),
			TotalHours:    total,
			ResearchHours: float64(i%100) * 0.25,
		}
	}
	return out
}

// ExpectedTiers applies cut points with the lower tie policy to the cohort's
// known ranker scores and counts applicants per tier.
func ExpectedTiers(cohort []SyntheticApplicant, cuts []float64) [classifier.TierCount]int {
	var counts [classifier.TierCount]int
	for _, a := range cohort {
		if a.GatedOut() {
			counts[0]++
			continue
		}
		tier := 0
		for _, cut := range cuts {
			if a.ResearchHours > cut {
				tier++
			}
		}
		counts[tier]++
	}
	return counts
}

// WriteCycle writes the applicants export for cycle under the config's data
// directory and returns that directory.
func WriteCycle(t testing.TB, cfg *config.Config, cycle int, cohort []SyntheticApplicant) string {
	t.Helper()
	dir := cfg.CycleDataDir(cycle)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, "1. Applicants.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rows := [][]string{{features.IDColumn, "Exp_Hour_Total", "Exp_Hour_Research", "Age", features.TargetColumn}}
	for _, a := range cohort {
		rows = append(rows, []string{
			a.ID,
			strconv.FormatFloat(a.TotalHours, 'f', -1, 64),
			strconv.FormatFloat(a.ResearchHours, 'f', -1, 64),
			"24",
			"15",
		})
	}
	if err := w.WriteAll(rows); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return dir
}

// WriteRubricScores writes a scores file giving every applicant a 3 on every
// curated dimension and returns its path.
func WriteRubricScores(t testing.TB, cfg *config.Config, cohort []SyntheticApplicant) string {
	t.Helper()
	scores := make(map[string]features.RubricScores, len(cohort))
	for _, a := range cohort {
		dims := make(features.RubricScores, len(features.RubricDimensions))
		for _, dim := range features.RubricDimensions {
			dims[dim] = 3
		}
		scores[a.ID] = dims
	}
	data, err := json.Marshal(scores)
	if err != nil {
		t.Fatalf("encode rubric scores: %v", err)
	}
	path := filepath.Join(BaseDir(cfg), "rubric_scores.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// SyntheticArtifact returns a model whose gate rejects applicants without
// experience hours and whose ranker scores research hours one to one.
func SyntheticArtifact() *classifier.Artifact {
	reference := make([]float64, 200)
	for i := range reference {
		reference[i] = float64(i%100) * 0.25
	}
	return &classifier.Artifact{
		Version: "synthetic-1",
		Gate: classifier.GateSpec{
			LinearTerms: classifier.LinearTerms{
				Features:     []string{"Exp_Hour_Total"},
				Intercept:    5,
				Coefficients: []float64{-0.01},
			},
			Threshold: 0.5,
		},
		Ranker: classifier.RankerSpec{
			LinearTerms: classifier.LinearTerms{
				Features:     []string{"Exp_Hour_Research"},
				Coefficients: []float64{1},
			},
			Min: 0,
			Max: 25,
		},
		Tiers: classifier.TierSpec{CutPoints: SyntheticCutPoints, TiePolicy: "lower"},
		Training: drift.TrainingStatistics{Features: map[string]drift.FeatureStats{
			"Exp_Hour_Research": {Mean: 12.375, Std: 7.22, Median: 12.375, Reference: reference},
		}},
	}
}

// WriteArtifact writes artifact (or SyntheticArtifact when nil) to the
// config's artifact path.
func WriteArtifact(t testing.TB, cfg *config.Config, artifact *classifier.Artifact) {
	t.Helper()
	if artifact == nil {
		artifact = SyntheticArtifact()
	}
	data, err := artifact.Marshal()
	if err != nil {
		t.Fatalf("encode artifact: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.ArtifactPath), 0o755); err != nil {
		t.Fatalf("mkdir artifact dir: %v", err)
	}
	if err := os.WriteFile(cfg.Paths.ArtifactPath, data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

// CycleFixture writes a cycle, its rubric scores and the synthetic artifact,
// switching the config to the file scorer.
func CycleFixture(t testing.TB, cfg *config.Config, cycle, applicants int) []SyntheticApplicant {
	t.Helper()
	if applicants <= 0 {
		t.Fatalf("cycle %d fixture needs applicants", cycle)
	}
	cohort := SyntheticCohort(applicants)
	WriteCycle(t, cfg, cycle, cohort)
	cfg.Rubric.Mode = "file"
	cfg.Rubric.ScoresPath = WriteRubricScores(t, cfg, cohort)
	WriteArtifact(t, cfg, nil)
	return cohort
}
