package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"triage/internal/drift"
	"triage/internal/features"
	"triage/internal/services"
)

// LinearTerms is an intercept plus one coefficient per named feature.
type LinearTerms struct {
	Features     []string  `yaml:"features" json:"features"`
	Intercept    float64   `yaml:"intercept" json:"intercept"`
	Coefficients []float64 `yaml:"coefficients" json:"coefficients"`
}

// GateSpec is the frozen logistic gate. Threshold is compared against p_low.
type GateSpec struct {
	LinearTerms `yaml:",inline"`
	Threshold   float64 `yaml:"threshold" json:"threshold"`
}

// RankerSpec is the frozen linear ranker and its output range.
type RankerSpec struct {
	LinearTerms `yaml:",inline"`
	Min         float64 `yaml:"min" json:"min"`
	Max         float64 `yaml:"max" json:"max"`
}

// TierSpec holds the versioned cut points mapping ranker scores to tiers.
type TierSpec struct {
	CutPoints []float64 `yaml:"cut_points" json:"cut_points"`
	TiePolicy string    `yaml:"tie_policy,omitempty" json:"tie_policy,omitempty"`
}

// Artifact is the frozen model bundle loaded once per worker process.
type Artifact struct {
	Version  string                   `yaml:"version" json:"version"`
	Gate     GateSpec                 `yaml:"gate" json:"gate"`
	Ranker   RankerSpec               `yaml:"ranker" json:"ranker"`
	Tiers    TierSpec                 `yaml:"tiers" json:"tiers"`
	Training drift.TrainingStatistics `yaml:"training" json:"training"`
}

// LoadArtifact reads a YAML (or JSON) model artifact from disk and validates it.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, "classifier", "load artifact", "model artifact not found at "+path, err)
		}
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "load artifact", "read "+path, err)
	}
	return ParseArtifact(data)
}

// ParseArtifact decodes and validates artifact bytes.
func ParseArtifact(data []byte) (*Artifact, error) {
	var artifact Artifact
	if err := yaml.Unmarshal(data, &artifact); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "parse artifact", "decode", err)
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// Marshal encodes the artifact as YAML.
func (a *Artifact) Marshal() ([]byte, error) {
	return yaml.Marshal(a)
}

// Validate checks the artifact against the feature schema.
func (a *Artifact) Validate() error {
	var problems []string
	if strings.TrimSpace(a.Version) == "" {
		problems = append(problems, "version is required")
	}
	if err := a.Gate.validate("gate"); err != nil {
		problems = append(problems, err.Error())
	}
	if !(a.Gate.Threshold > 0 && a.Gate.Threshold <= 1) {
		problems = append(problems, "gate.threshold must be in (0, 1]")
	}
	if err := a.Ranker.validate("ranker"); err != nil {
		problems = append(problems, err.Error())
	}
	if !(a.Ranker.Max > a.Ranker.Min) {
		problems = append(problems, "ranker.max must exceed ranker.min")
	}
	if _, err := NewTierTable(a.Tiers.CutPoints, a.Tiers.TiePolicy); err != nil {
		problems = append(problems, "tiers: "+err.Error())
	}
	if err := a.Training.Validate(); err != nil {
		problems = append(problems, "training: "+err.Error())
	}
	if len(problems) > 0 {
		return services.Wrap(services.ErrConfiguration, "classifier", "validate artifact", strings.Join(problems, "; "), nil)
	}
	return nil
}

func (t LinearTerms) validate(name string) error {
	if len(t.Features) == 0 {
		return fmt.Errorf("%s.features is empty", name)
	}
	if len(t.Features) != len(t.Coefficients) {
		return fmt.Errorf("%s has %d features but %d coefficients", name, len(t.Features), len(t.Coefficients))
	}
	for _, f := range t.Features {
		if _, ok := features.Index(f); !ok {
			return fmt.Errorf("%s references unknown feature %q", name, f)
		}
	}
	for _, c := range append([]float64{t.Intercept}, t.Coefficients...) {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%s has non-finite coefficients", name)
		}
	}
	return nil
}

// indices maps feature names onto schema positions. Validate must pass first.
func (t LinearTerms) indices() []int {
	out := make([]int, len(t.Features))
	for i, f := range t.Features {
		out[i], _ = features.Index(f)
	}
	return out
}
