package rubric

import (
	"fmt"
	"strings"
	"time"

	"triage/internal/config"
)

// FromConfig returns the scorer selected by rubric.mode and its poll schedule.
func FromConfig(cfg *config.Config) (Scorer, Schedule, error) {
	r := cfg.Rubric
	schedule := Schedule{
		Initial:   time.Duration(r.InitialPollSeconds) * time.Second,
		Max:       time.Duration(r.MaxPollSeconds) * time.Second,
		Factor:    r.PollBackoffFactor,
		MaxWait:   time.Duration(r.MaxWaitHours) * time.Hour,
		MaxErrors: r.MaxPollErrors,
	}
	switch strings.ToLower(strings.TrimSpace(r.Mode)) {
	case "http":
		client := NewClient(Config{
			APIKey:         r.APIKey,
			BaseURL:        r.BaseURL,
			Model:          r.Model,
			TimeoutSeconds: r.TimeoutSeconds,
		}, WithRetryMaxAttempts(r.RetryAttempts))
		return client, schedule, nil
	case "file":
		return FileScorer{Path: r.ScoresPath}, schedule, nil
	case "disabled":
		return Disabled{}, schedule, nil
	default:
		return nil, schedule, fmt.Errorf("unknown rubric mode %q", r.Mode)
	}
}
