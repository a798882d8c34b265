package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"triage/internal/archive"
	"triage/internal/classifier"
	"triage/internal/drift"
	"triage/internal/features"
	"triage/internal/logging"
	"triage/internal/results"
	"triage/internal/rubric"
	"triage/internal/services"
)

// Stage names reported in run progress.
const (
	StageIngest   = "ingest"
	StageRubric   = "rubric"
	StageClean    = "clean"
	StageFeatures = "features"
	StageClassify = "classify"
	StageTier     = "tier"
)

// Stage is one step of the fixed pipeline with its share of total progress.
type Stage struct {
	Name   string
	Weight float64
}

var stages = []Stage{
	{Name: StageIngest, Weight: 10},
	{Name: StageRubric, Weight: 15},
	{Name: StageClean, Weight: 15},
	{Name: StageFeatures, Weight: 20},
	{Name: StageClassify, Weight: 20},
	{Name: StageTier, Weight: 20},
}

// Stages returns the ordered stage list.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// Reporter receives callbacks from a running pipeline. Implementations treat
// progress and failure calls for runs that are no longer running as no-ops;
// Heartbeat reports them with services.ErrRunInactive so long waits stop.
type Reporter interface {
	ReportProgress(ctx context.Context, runID, stage string, pct float64) error
	Heartbeat(ctx context.Context, runID string) error
	MarkFailed(ctx context.Context, runID string, failure services.Failure) error
}

// Job identifies the run being executed.
type Job struct {
	RunID     string
	CycleYear int
	DataDir   string
	// Logger, when set, replaces the engine logger for this run only.
	Logger *slog.Logger
}

// Options wires an Engine.
type Options struct {
	Classifier *classifier.Classifier
	Detector   *drift.Detector
	Features   *features.Engine
	Scorer     rubric.Scorer
	Schedule   rubric.Schedule
	// Archive stores the finished result set; optional.
	Archive    archive.Archive
	Logger     *slog.Logger
	PollerOpts []rubric.PollerOption
	Now        func() time.Time
}

// Engine executes the scoring stages for one run at a time. It holds only
// read-only model state and can serve several workers concurrently.
type Engine struct {
	classifier *classifier.Classifier
	detector   *drift.Detector
	features   *features.Engine
	scorer     rubric.Scorer
	schedule   rubric.Schedule
	archive    archive.Archive
	logger     *slog.Logger
	pollerOpts []rubric.PollerOption
	now        func() time.Time
}

// NewEngine validates options and returns an engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Classifier == nil || opts.Detector == nil || opts.Features == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "classifier, detector and feature engine are required", nil)
	}
	if opts.Scorer == nil {
		opts.Scorer = rubric.Disabled{}
	}
	if opts.Schedule.Initial <= 0 {
		opts.Schedule = rubric.DefaultSchedule()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		classifier: opts.Classifier,
		detector:   opts.Detector,
		features:   opts.Features,
		scorer:     opts.Scorer,
		schedule:   opts.Schedule,
		archive:    opts.Archive,
		logger:     logging.NewComponentLogger(opts.Logger, "pipeline"),
		pollerOpts: opts.PollerOpts,
		now:        opts.Now,
	}, nil
}

// ModelVersion identifies the artifact the engine scores with.
func (e *Engine) ModelVersion() string { return e.classifier.Version() }

type runState struct {
	job         Job
	logger      *slog.Logger
	reporter    Reporter
	dataset     *features.Dataset
	batchID     string
	rubric      map[string]features.RubricScores
	cleaned     features.CleanReport
	vectors     []features.Vector
	drift       drift.Report
	assignments []classifier.Assignment
	snapshot    *results.Snapshot
}

// Run executes every stage in order. A stage error aborts the rest, is
// classified into a services.Failure and handed to reporter.MarkFailed; the
// same failure is returned. On success the fully built snapshot is returned
// and the caller is responsible for marking the run complete.
func (e *Engine) Run(ctx context.Context, job Job, reporter Reporter) (*results.Snapshot, error) {
	ctx = services.WithRunID(ctx, job.RunID)
	ctx = services.WithCycle(ctx, job.CycleYear)
	base := e.logger
	if job.Logger != nil {
		base = logging.NewComponentLogger(job.Logger, "pipeline")
	}
	state := &runState{
		job:      job,
		logger:   logging.WithContext(ctx, base),
		reporter: reporter,
	}
	state.logger.Info("pipeline started",
		logging.EventType("pipeline_start"),
		logging.String("data_dir", job.DataDir),
		logging.String("model_version", e.classifier.Version()))

	handlers := map[string]func(context.Context, *runState) error{
		StageIngest:   e.ingest,
		StageRubric:   e.scoreRubric,
		StageClean:    e.clean,
		StageFeatures: e.buildFeatures,
		StageClassify: e.classify,
		StageTier:     e.assignTiers,
	}

	var done float64
	for _, stage := range stages {
		stageCtx := services.WithStage(ctx, stage.Name)
		e.report(stageCtx, state, stage.Name, done)
		start := e.now()
		if err := handlers[stage.Name](stageCtx, state); err != nil {
			return nil, e.fail(ctx, state, stage.Name, err)
		}
		done += stage.Weight
		e.report(stageCtx, state, stage.Name, done)
		logging.WithContext(stageCtx, base).Info("stage completed",
			logging.EventType("stage_complete"),
			logging.Progress(done),
			logging.Duration("elapsed", e.now().Sub(start)))
	}
	return state.snapshot, nil
}

func (e *Engine) report(ctx context.Context, state *runState, stage string, pct float64) {
	if state.reporter == nil {
		return
	}
	if err := state.reporter.ReportProgress(ctx, state.job.RunID, stage, pct); err != nil {
		logging.WarnWithContext(state.logger, "progress update failed", "progress_update_failed",
			logging.Stage(stage),
			logging.Error(err),
			logging.Impact("status may lag until the next update"))
	}
}

func (e *Engine) fail(ctx context.Context, state *runState, stage string, err error) error {
	failure := services.Classify(err, stage)
	if errors.Is(err, services.ErrRunInactive) {
		// Already failed by the monitor or an operator; that failure stands.
		state.logger.Info("pipeline stopped; run already left running",
			logging.EventType("pipeline_abandoned"),
			logging.Stage(stage))
		return failure
	}
	state.logger.Error("stage failed",
		logging.EventType("stage_failure"),
		logging.Stage(stage),
		logging.Failure(failure),
		logging.Error(err))
	if state.reporter != nil {
		// The run context may already be cancelled; the failure must still land.
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if markErr := state.reporter.MarkFailed(markCtx, state.job.RunID, failure); markErr != nil {
			logging.ErrorWithContext(state.logger, "failed to record run failure", "run_fail_persist_failed",
				logging.Error(markErr),
				logging.Hint("the monitor will fail the run once its heartbeat goes stale"))
		}
	}
	return failure
}

func (e *Engine) ingest(ctx context.Context, state *runState) error {
	ds, err := features.LoadCycle(ctx, state.job.DataDir, state.job.CycleYear, state.logger)
	if err != nil {
		return err
	}
	if len(ds.Records) == 0 {
		return services.Wrap(services.ErrValidation, StageIngest, "applicants", "applicants file has no rows", nil)
	}
	state.dataset = ds
	return nil
}

func (e *Engine) scoreRubric(ctx context.Context, state *runState) error {
	requests := rubric.BuildRequests(state.dataset.Records)
	batchID, err := e.scorer.Submit(ctx, state.job.CycleYear, requests)
	if err != nil {
		return err
	}
	state.batchID = batchID
	state.logger.Info("rubric batch submitted",
		logging.String("batch_id", batchID),
		logging.Int("applicants", len(requests)))

	heartbeat := func(ctx context.Context) error {
		if state.reporter == nil {
			return nil
		}
		err := state.reporter.Heartbeat(ctx, state.job.RunID)
		if err == nil || errors.Is(err, services.ErrRunInactive) || ctx.Err() != nil {
			return err
		}
		logging.WarnWithContext(state.logger, "heartbeat refresh failed while polling", "rubric_heartbeat_failed",
			logging.String("batch_id", batchID),
			logging.Error(err),
			logging.Impact("polling continues; the run is swept if heartbeats stay stale"))
		return nil
	}
	poller := rubric.NewPoller(e.scorer, e.schedule, state.logger, e.pollerOpts...)
	scores, err := poller.Await(ctx, batchID, heartbeat)
	if err != nil {
		return err
	}
	state.rubric = scores
	if len(scores) < len(requests) {
		state.dataset.Degrade(features.DegradeRubricUnscored,
			fmt.Sprintf("%d of %d applicants scored", len(scores), len(requests)))
	}
	return nil
}

func (e *Engine) clean(_ context.Context, state *runState) error {
	state.cleaned = features.Clean(state.dataset, state.logger)
	return nil
}

func (e *Engine) buildFeatures(_ context.Context, state *runState) error {
	vectors, err := e.features.Build(state.job.CycleYear, state.dataset.Records, state.rubric, state.dataset.Degradations)
	if err != nil {
		return err
	}
	state.vectors = vectors
	return nil
}

func (e *Engine) classify(_ context.Context, state *runState) error {
	report, err := e.detector.Evaluate(state.vectors)
	if err != nil {
		return err
	}
	state.drift = report
	if report.GlobalDrift || report.DriftedCount > 0 {
		logging.WarnWithContext(state.logger, "feature drift detected", "drift_advisory",
			logging.Int("drifted", report.DriftedCount),
			logging.Int("tested", report.Tested),
			logging.Bool("global_drift", report.GlobalDrift),
			logging.Strings("features", report.DriftedFeatures()),
			logging.Hint("review the drift report before relying on these tiers"),
			logging.Impact("affected applicants are marked low confidence"))
	}
	assignments, err := e.classifier.ScoreBatch(state.logger, state.vectors, report)
	if err != nil {
		return err
	}
	state.assignments = assignments
	return nil
}

func (e *Engine) assignTiers(ctx context.Context, state *runState) error {
	for i := range state.assignments {
		e.classifier.AssignTier(&state.assignments[i])
	}
	ordered := make([]classifier.Assignment, len(state.assignments))
	copy(ordered, state.assignments)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Tier != ordered[j].Tier {
			return ordered[i].Tier > ordered[j].Tier
		}
		return ordered[i].Score > ordered[j].Score
	})

	tiers := e.classifier.Tiers()
	summary := results.Summary{
		CycleYear:      state.job.CycleYear,
		ModelVersion:   e.classifier.Version(),
		Applicants:     len(ordered),
		Tiers:          classifier.Summarize(ordered),
		TiePolicy:      string(tiers.Policy()),
		CutPoints:      tiers.CutPoints(),
		RubricBatchID:  state.batchID,
		RubricScored:   len(state.rubric),
		Drift:          state.drift,
		DriftAdvisory:  state.drift.GlobalDrift || state.drift.DriftedCount > 0,
		Degradations:   state.dataset.Degradations,
		ColumnsDropped: len(state.cleaned.Dropped),
	}
	snap := &results.Snapshot{
		RunID:       state.job.RunID,
		CycleYear:   state.job.CycleYear,
		CompletedAt: e.now().UTC(),
		Summary:     summary,
		Assignments: ordered,
	}
	if e.archive != nil {
		snap.Summary.Output = e.archive.Location(snap.RunID)
		if _, err := e.archive.Save(ctx, snap); err != nil {
			return err
		}
	}
	state.snapshot = snap
	return nil
}
