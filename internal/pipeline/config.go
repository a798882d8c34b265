package pipeline

import (
	"log/slog"

	"triage/internal/archive"
	"triage/internal/classifier"
	"triage/internal/config"
	"triage/internal/drift"
	"triage/internal/features"
	"triage/internal/rubric"
	"triage/internal/services"
)

// FromConfig builds an engine around an already loaded artifact. The artifact
// is shared read-only by every run the engine executes.
func FromConfig(cfg *config.Config, artifact *classifier.Artifact, arch archive.Archive, logger *slog.Logger, pollerOpts ...rubric.PollerOption) (*Engine, error) {
	if artifact == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "model artifact is required", nil)
	}
	clf, err := classifier.FromArtifact(artifact, classifier.Options{
		TiePolicy: cfg.Classifier.TiePolicy,
		CutPoints: cfg.Classifier.CutPoints,
	})
	if err != nil {
		return nil, err
	}
	scorer, schedule, err := rubric.FromConfig(cfg)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "rubric scorer", err)
	}
	return NewEngine(Options{
		Classifier: clf,
		Detector:   drift.NewDetector(artifact.Training, cfg.Drift.Alpha, cfg.Drift.Ceiling),
		Features:   features.NewEngine(artifact.Training.Medians()),
		Scorer:     scorer,
		Schedule:   schedule,
		Archive:    arch,
		Logger:     logger,
		PollerOpts: pollerOpts,
	})
}
