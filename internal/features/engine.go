package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"triage/internal/services"
)

// RubricScores holds one applicant's externally scored dimensions. Zero means
// the dimension was not scored.
type RubricScores map[string]float64

// Vector is the fixed-schema numeric representation of one applicant.
// Values is aligned to Schema().
type Vector struct {
	ApplicantID string
	Cycle       int
	Values      []float64
	// RubricMissing is aligned to RubricDimensions; true marks an imputed value.
	RubricMissing   []bool
	RubricAvailable bool
	Degradations    []string
}

// Value returns the named feature or false when it is not in the schema.
func (v Vector) Value(name string) (float64, bool) {
	idx, ok := Index(name)
	if !ok || idx >= len(v.Values) {
		return 0, false
	}
	return v.Values[idx], true
}

// Engine turns cleaned records plus rubric scores into vectors. Imputation
// holds per-feature training medians for missing numeric inputs.
type Engine struct {
	Imputation map[string]float64
}

// NewEngine builds an engine with the given numeric imputation values.
func NewEngine(imputation map[string]float64) *Engine {
	return &Engine{Imputation: imputation}
}

// Build produces one vector per record, in record order. It never fails for
// missing inputs; only an internal width mismatch is reported.
func (e *Engine) Build(cycle int, records []Record, rubric map[string]RubricScores, degradations []Degradation) ([]Vector, error) {
	codes := make([]string, 0, len(degradations))
	for _, d := range degradations {
		codes = append(codes, d.Code)
	}
	out := make([]Vector, 0, len(records))
	for _, rec := range records {
		vec := e.vector(cycle, rec, rubric[rec.ID])
		if len(codes) > 0 {
			vec.Degradations = append([]string(nil), codes...)
		}
		if len(vec.Values) != Width() {
			return nil, services.Wrap(services.ErrSchemaMismatch, "features", "build", fmt.Sprintf("applicant %s produced %d values, want %d", rec.ID, len(vec.Values), Width()), nil)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *Engine) vector(cycle int, rec Record, scores RubricScores) Vector {
	values := make([]float64, 0, Width())

	for _, col := range NumericFeatures {
		v, ok := parseNumber(rec.Value(col))
		if !ok {
			v = e.Imputation[col]
		}
		values = append(values, v)
	}

	for _, col := range BinaryFeatures {
		values = append(values, binaryValue(rec, col))
	}

	raw := func(col string) float64 {
		v, _ := parseNumber(rec.Value(col))
		return v
	}
	medVol := raw("Exp_Hour_Volunteer_Med")
	nonMedVol := raw("Exp_Hour_Volunteer_Non_Med")
	totalVol := medVol + nonMedVol
	shadowing := raw("Exp_Hour_Shadowing")
	employMed := raw("Exp_Hour_Employ_Med")
	clinical := shadowing + employMed
	adversity := 0.0
	for _, col := range adversityColumns {
		adversity += raw(col)
	}
	grit := adversity
	for _, col := range gritExtraColumns {
		grit += raw(col)
	}
	diversity := 0.0
	for _, col := range ExperienceFlags {
		diversity += raw(col)
	}
	values = append(values,
		totalVol,
		ratio(nonMedVol, totalVol),
		clinical,
		ratio(employMed, clinical),
		math.Trunc(adversity),
		math.Trunc(grit),
		math.Trunc(diversity),
	)

	for _, col := range ExperienceFlags {
		values = append(values, raw(col))
	}

	missing := make([]bool, len(RubricDimensions))
	available := true
	for i, dim := range RubricDimensions {
		score := scores[dim]
		if score > 0 && !math.IsNaN(score) && !math.IsInf(score, 0) {
			values = append(values, score)
			continue
		}
		missing[i] = true
		available = false
		values = append(values, MissingRubricValue)
	}

	return Vector{
		ApplicantID:     rec.ID,
		Cycle:           cycle,
		Values:          values,
		RubricMissing:   missing,
		RubricAvailable: available,
	}
}

func binaryValue(rec Record, col string) float64 {
	candidates := append(append([]string(nil), binaryAliases[col]...), col)
	for _, candidate := range candidates {
		raw, ok := rec.Fields[candidate]
		if !ok {
			continue
		}
		if v, ok := parseNumber(raw); ok {
			return math.Trunc(v)
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "y") {
			return 1
		}
		return 0
	}
	return 0
}

func parseNumber(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func ratio(num, den float64) float64 {
	if den > 0 {
		return num / den
	}
	return 0
}
