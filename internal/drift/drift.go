package drift

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"triage/internal/features"
	"triage/internal/services"
)

const (
	// DefaultAlpha is the per-feature significance threshold.
	DefaultAlpha = 0.05
	// DefaultCeiling is the drifted-feature fraction above which drift is global.
	DefaultCeiling = 0.20
)

// FeatureStats are the frozen training-time statistics for one feature.
type FeatureStats struct {
	Mean      float64   `json:"mean" yaml:"mean"`
	Std       float64   `json:"std" yaml:"std"`
	Median    float64   `json:"median" yaml:"median"`
	Reference []float64 `json:"reference" yaml:"reference"`
}

// TrainingStatistics holds the reference distributions a model was fit against.
type TrainingStatistics struct {
	Features map[string]FeatureStats `json:"features" yaml:"features"`
}

// Medians returns the per-feature training medians used for imputation.
func (s TrainingStatistics) Medians() map[string]float64 {
	out := make(map[string]float64, len(s.Features))
	for name, fs := range s.Features {
		out[name] = fs.Median
	}
	return out
}

// FeatureDrift is the per-feature outcome.
type FeatureDrift struct {
	Feature   string  `json:"feature"`
	Statistic float64 `json:"ks_statistic"`
	PValue    float64 `json:"p_value"`
	MeanShift float64 `json:"mean_shift_sd"`
	Drifted   bool    `json:"drifted"`
}

// Report is produced once per run before classification. It is advisory.
type Report struct {
	Alpha           float64        `json:"alpha"`
	Ceiling         float64        `json:"ceiling"`
	Tested          int            `json:"tested"`
	DriftedCount    int            `json:"drifted_count"`
	DriftedFraction float64        `json:"drifted_fraction"`
	GlobalDrift     bool           `json:"global_drift"`
	Features        []FeatureDrift `json:"features"`
}

// DriftedFeatures lists the names of drifted features in schema order.
func (r Report) DriftedFeatures() []string {
	var out []string
	for _, f := range r.Features {
		if f.Drifted {
			out = append(out, f.Feature)
		}
	}
	return out
}

// AffectsApplicant reports whether vec's confidence must be downgraded: drift
// is global, or a rubric dimension the applicant was actually scored on drifted.
func (r Report) AffectsApplicant(vec features.Vector) bool {
	if r.GlobalDrift {
		return true
	}
	for _, f := range r.Features {
		if !f.Drifted || !features.IsRubricFeature(f.Feature) {
			continue
		}
		for i, dim := range features.RubricDimensions {
			if dim != f.Feature {
				continue
			}
			if i >= len(vec.RubricMissing) || !vec.RubricMissing[i] {
				return true
			}
		}
	}
	return false
}

// Detector compares a batch of vectors against frozen training statistics.
type Detector struct {
	stats   TrainingStatistics
	alpha   float64
	ceiling float64
}

// NewDetector returns a detector; non-positive alpha or ceiling fall back to defaults.
func NewDetector(stats TrainingStatistics, alpha, ceiling float64) *Detector {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	if ceiling <= 0 || ceiling >= 1 {
		ceiling = DefaultCeiling
	}
	return &Detector{stats: stats, alpha: alpha, ceiling: ceiling}
}

// Evaluate runs a two-sample Kolmogorov-Smirnov test per feature that has a
// stored reference distribution.
func (d *Detector) Evaluate(vectors []features.Vector) (Report, error) {
	report := Report{Alpha: d.alpha, Ceiling: d.ceiling}
	if len(vectors) == 0 {
		return report, services.Wrap(services.ErrValidation, "drift", "evaluate", "empty batch", nil)
	}
	width := features.Width()
	for _, vec := range vectors {
		if len(vec.Values) != width {
			return report, services.Wrap(services.ErrSchemaMismatch, "drift", "evaluate",
				fmt.Sprintf("applicant %s has %d values, want %d", vec.ApplicantID, len(vec.Values), width), nil)
		}
	}

	for idx, name := range features.Schema() {
		ref, ok := d.stats.Features[name]
		if !ok || len(ref.Reference) == 0 {
			continue
		}
		current := make([]float64, len(vectors))
		for i, vec := range vectors {
			current[i] = vec.Values[idx]
		}
		result, err := d.compare(name, ref, current)
		if err != nil {
			return report, err
		}
		report.Features = append(report.Features, result)
		report.Tested++
		if result.Drifted {
			report.DriftedCount++
		}
	}
	if report.Tested > 0 {
		report.DriftedFraction = float64(report.DriftedCount) / float64(report.Tested)
	}
	report.GlobalDrift = report.DriftedFraction > d.ceiling
	return report, nil
}

func (d *Detector) compare(name string, ref FeatureStats, current []float64) (FeatureDrift, error) {
	reference := sortedCopy(ref.Reference)
	sample := sortedCopy(current)
	for _, v := range reference {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FeatureDrift{}, services.Wrap(services.ErrConfiguration, "drift", "reference", name+" has non-finite reference values", nil)
		}
	}

	statistic := stat.KolmogorovSmirnov(sample, nil, reference, nil)
	pValue := ksPValue(statistic, len(sample), len(reference))

	mean := stat.Mean(sample, nil)
	shift := 0.0
	if ref.Std > 0 {
		shift = (mean - ref.Mean) / ref.Std
	}
	return FeatureDrift{
		Feature:   name,
		Statistic: statistic,
		PValue:    pValue,
		MeanShift: shift,
		Drifted:   pValue < d.alpha,
	}, nil
}

// ksPValue is the asymptotic two-sided p-value of the two-sample KS statistic.
func ksPValue(statistic float64, n, m int) float64 {
	if n == 0 || m == 0 || statistic <= 0 {
		return 1
	}
	en := math.Sqrt(float64(n) * float64(m) / float64(n+m))
	lambda := (en + 0.12 + 0.11/en) * statistic
	return kolmogorovQ(lambda)
}

// kolmogorovQ evaluates Q_KS(λ) = 2 Σ (-1)^(j-1) exp(-2 j² λ²).
func kolmogorovQ(lambda float64) float64 {
	if lambda < 1e-3 {
		return 1
	}
	const (
		eps1     = 1e-6
		eps2     = 1e-16
		maxTerms = 100
	)
	a2 := -2 * lambda * lambda
	sign := 2.0
	sum := 0.0
	prev := 0.0
	for j := 1; j <= maxTerms; j++ {
		term := sign * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= eps1*prev || math.Abs(term) <= eps2*sum {
			return clamp01(sum)
		}
		sign = -sign
		prev = math.Abs(term)
	}
	return 1
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func sortedCopy(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}

// ErrNoReference is returned by Validate when statistics carry no reference data.
var ErrNoReference = errors.New("training statistics carry no reference distributions")

// Validate checks that the statistics can drive the detector.
func (s TrainingStatistics) Validate() error {
	hasReference := false
	for name, fs := range s.Features {
		if _, ok := features.Index(name); !ok {
			return fmt.Errorf("%w: training statistics name unknown feature %q", services.ErrSchemaMismatch, name)
		}
		if fs.Std < 0 {
			return fmt.Errorf("%w: feature %q has negative std", services.ErrConfiguration, name)
		}
		if len(fs.Reference) > 0 {
			hasReference = true
		}
	}
	if !hasReference {
		return ErrNoReference
	}
	return nil
}
