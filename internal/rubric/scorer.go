package rubric

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"triage/internal/features"
	"triage/internal/services"
)

// MaxScore is the top of the rubric scale. Zero means "not scored".
const MaxScore = 4

// Batch statuses reported by scorers.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusExpired    = "expired"
	StatusCancelled  = "cancelled"
)

// Request is the payload for one applicant.
type Request struct {
	ApplicantID string            `json:"applicant_id"`
	Sections    map[string]string `json:"sections"`
}

// PollResult is one poll outcome. Results is only set once Ready is true.
type PollResult struct {
	BatchID string
	Status  string
	Ready   bool
	Detail  string
	Results map[string]features.RubricScores
}

// Terminal reports whether the batch ended without results.
func (p PollResult) Terminal() bool {
	switch p.Status {
	case StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Scorer is the external batch rubric scoring contract.
type Scorer interface {
	Submit(ctx context.Context, cycle int, requests []Request) (string, error)
	Poll(ctx context.Context, batchID string) (PollResult, error)
}

// BuildRequests collects the free-text sections of each record.
func BuildRequests(records []features.Record) []Request {
	columns := append([]string{features.PersonalStatementColumn, features.ExperienceTextColumn}, features.EssayColumns...)
	out := make([]Request, 0, len(records))
	for _, rec := range records {
		sections := make(map[string]string)
		for _, col := range columns {
			if text := strings.TrimSpace(rec.Value(col)); text != "" {
				sections[col] = text
			}
		}
		out = append(out, Request{ApplicantID: rec.ID, Sections: sections})
	}
	return out
}

// ValidateScores rejects results the feature engine cannot consume.
func ValidateScores(results map[string]features.RubricScores) error {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return services.Wrap(services.ErrExternalBatchAPI, "rubric", "validate", "result without applicant id", nil)
		}
		for dim, v := range results[id] {
			if math.IsNaN(v) || v < 0 || v > MaxScore {
				return services.Wrap(services.ErrExternalBatchAPI, "rubric", "validate",
					fmt.Sprintf("applicant %s: %s=%v outside 0-%d", id, dim, v, MaxScore), nil)
			}
		}
	}
	return nil
}

// Disabled scores nothing; every rubric dimension ends up missing.
type Disabled struct{}

func (Disabled) Submit(context.Context, int, []Request) (string, error) { return "disabled", nil }

func (Disabled) Poll(_ context.Context, batchID string) (PollResult, error) {
	return PollResult{BatchID: batchID, Status: StatusCompleted, Ready: true, Results: map[string]features.RubricScores{}}, nil
}

// FileScorer serves precomputed scores from a JSON file keyed by applicant id:
//
//	{"12345": {"motivation_depth": 3, "adversity_resilience": 0}}
type FileScorer struct {
	Path string
}

func (f FileScorer) Submit(ctx context.Context, _ int, _ []Request) (string, error) {
	if _, err := os.Stat(f.Path); err != nil {
		return "", services.Wrap(services.ErrExternalBatchAPI, "rubric", "submit", "scores file unavailable", err)
	}
	return "file:" + f.Path, ctx.Err()
}

func (f FileScorer) Poll(_ context.Context, batchID string) (PollResult, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return PollResult{}, services.Wrap(services.ErrExternalBatchAPI, "rubric", "poll", "read scores file", err)
	}
	var results map[string]features.RubricScores
	if err := json.Unmarshal(data, &results); err != nil {
		return PollResult{}, services.Wrap(services.ErrExternalBatchAPI, "rubric", "poll", "decode scores file", err)
	}
	return PollResult{BatchID: batchID, Status: StatusCompleted, Ready: true, Results: results}, nil
}
