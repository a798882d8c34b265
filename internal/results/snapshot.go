package results

import (
	"time"

	"triage/internal/classifier"
	"triage/internal/drift"
	"triage/internal/features"
)

// Summary is the structured result summary stored on a completed run.
type Summary struct {
	CycleYear      int                    `json:"cycle_year"`
	ModelVersion   string                 `json:"model_version"`
	Applicants     int                    `json:"applicants"`
	Tiers          classifier.Summary     `json:"tiers"`
	TiePolicy      string                 `json:"tie_policy"`
	CutPoints      []float64              `json:"cut_points"`
	RubricBatchID  string                 `json:"rubric_batch_id,omitempty"`
	RubricScored   int                    `json:"rubric_scored"`
	Drift          drift.Report           `json:"drift"`
	DriftAdvisory  bool                   `json:"drift_advisory"`
	Degradations   []features.Degradation `json:"degradations,omitempty"`
	ColumnsDropped int                    `json:"columns_dropped"`
	Output         string                 `json:"output,omitempty"`
}

// Snapshot is an immutable, fully built result set for one completed run.
// Nothing may modify a snapshot after it has been published.
type Snapshot struct {
	RunID       string                  `json:"run_id"`
	CycleYear   int                     `json:"cycle_year"`
	CompletedAt time.Time               `json:"completed_at"`
	Summary     Summary                 `json:"summary"`
	Assignments []classifier.Assignment `json:"assignments"`
}

// Tier returns the assignments in one tier, in stored order.
func (s *Snapshot) Tier(tier int) []classifier.Assignment {
	if s == nil {
		return nil
	}
	var out []classifier.Assignment
	for _, a := range s.Assignments {
		if a.Tier == tier {
			out = append(out, a)
		}
	}
	return out
}

// Applicant finds one applicant's assignment.
func (s *Snapshot) Applicant(id string) (classifier.Assignment, bool) {
	if s == nil {
		return classifier.Assignment{}, false
	}
	for _, a := range s.Assignments {
		if a.ApplicantID == id {
			return a, true
		}
	}
	return classifier.Assignment{}, false
}
