package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"triage/internal/archive"
	"triage/internal/classifier"
	"triage/internal/config"
	"triage/internal/drift"
	"triage/internal/features"
	"triage/internal/orchestrator"
	"triage/internal/pipeline"
	"triage/internal/results"
	"triage/internal/rubric"
	"triage/internal/runstore"
	"triage/internal/services"
	"triage/internal/testsupport"
)

type countingNotifier struct {
	mu        sync.Mutex
	started   int
	completed int
	failed    []services.Failure
}

func (n *countingNotifier) NotifyRunStarted(context.Context, int, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
	return nil
}

func (n *countingNotifier) NotifyRunCompleted(context.Context, string, results.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed++
	return nil
}

func (n *countingNotifier) NotifyRunFailed(_ context.Context, _ int, _ string, failure services.Failure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, failure)
	return nil
}

func (n *countingNotifier) NotifyDriftAdvisory(context.Context, int, drift.Report) error { return nil }
func (n *countingNotifier) TestNotification(context.Context) error                       { return nil }

type recordingBus struct {
	results.LocalBus
	mu     sync.Mutex
	events []results.Event
}

func (b *recordingBus) Notify(_ context.Context, ev results.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

type harness struct {
	cfg      *config.Config
	store    *runstore.Store
	results  *results.Store
	archive  *archive.FileArchive
	bus      *recordingBus
	notifier *countingNotifier
	orch     *orchestrator.Orchestrator
}

func newHarness(t *testing.T, cfg *config.Config, engine *pipeline.Engine, arch *archive.FileArchive) *harness {
	t.Helper()
	h := &harness{
		cfg:      cfg,
		store:    testsupport.MustOpenStore(t, cfg),
		results:  results.NewStore(results.NewHub()),
		archive:  arch,
		bus:      &recordingBus{},
		notifier: &countingNotifier{},
	}
	opts := orchestrator.Options{
		Config:   cfg,
		Store:    h.store,
		Results:  h.results,
		Engine:   engine,
		Bus:      h.bus,
		Notifier: h.notifier,
	}
	if arch != nil {
		opts.Archive = arch
	}
	orch, err := orchestrator.New(opts)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) startWorkers(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Errorf("worker pool did not stop")
		}
	})
}

func (h *harness) waitForStatus(t *testing.T, runID string, want runstore.Status) *runstore.Run {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		run, err := h.orch.GetStatus(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if run.Status == want {
			return run
		}
		if run.Status.IsTerminal() {
			t.Fatalf("run %s ended %s, want %s (failure %+v)", runID, run.Status, want, run.Failure)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach %s", runID, want)
	return nil
}

func fileEngine(t *testing.T, cfg *config.Config, arch archive.Archive) *pipeline.Engine {
	t.Helper()
	artifact, err := classifier.LoadArtifact(cfg.Paths.ArtifactPath)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	engine, err := pipeline.FromConfig(cfg, artifact, arch, nil, rubric.WithPollSleep(noSleep))
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	return engine
}

func TestHappyPathPublishesOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cohort := testsupport.CycleFixture(t, cfg, 2025, 600)
	arch := archive.NewFileArchive(cfg.ResultsDir())
	h := newHarness(t, cfg, fileEngine(t, cfg, arch), arch)
	h.startWorkers(t)

	run, err := h.orch.StartRun(context.Background(), 2025)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.Status != runstore.StatusPending {
		t.Fatalf("expected pending run, got %s", run.Status)
	}
	final := h.waitForStatus(t, run.ID, runstore.StatusComplete)
	if final.ProgressPct != 100 || final.Stage != pipeline.StageTier || len(final.Summary) == 0 {
		t.Fatalf("unexpected completed run %+v", final)
	}

	if swaps := h.results.Swaps(); swaps != 1 {
		t.Fatalf("expected exactly one store swap, got %d", swaps)
	}
	live := h.results.Current()
	if live == nil || live.RunID != run.ID {
		t.Fatalf("expected run %s live, got %+v", run.ID, live)
	}
	if want := testsupport.ExpectedTiers(cohort, testsupport.SyntheticCutPoints); live.Summary.Tiers.ByTier != want {
		t.Fatalf("tier distribution = %v, want %v", live.Summary.Tiers.ByTier, want)
	}

	h.bus.mu.Lock()
	events := append([]results.Event(nil), h.bus.events...)
	h.bus.mu.Unlock()
	if len(events) != 1 || events[0].RunID != run.ID || events[0].CycleYear != 2025 {
		t.Fatalf("expected one publish broadcast, got %+v", events)
	}
	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if h.notifier.started != 1 || h.notifier.completed != 1 || len(h.notifier.failed) != 0 {
		t.Fatalf("unexpected notifications %+v", h.notifier)
	}
}

func TestConcurrentStartAdmitsExactlyOne(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteArtifact(t, cfg, nil)
	h := newHarness(t, cfg, fileEngine(t, cfg, nil), nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.orch.StartRun(context.Background(), 2025)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, services.ErrConcurrentRun):
			conflicted++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("expected one success and one conflict, got %d/%d", succeeded, conflicted)
	}
	runs, err := h.orch.ListRuns(context.Background(), 2025, 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected a single stored run, got %d err=%v", len(runs), err)
	}
}

func TestStartRunRejectsInvalidCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteArtifact(t, cfg, nil)
	h := newHarness(t, cfg, fileEngine(t, cfg, nil), nil)
	for _, cycle := range []int{0, -1, 25, 100000} {
		if _, err := h.orch.StartRun(context.Background(), cycle); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("cycle %d: expected validation error, got %v", cycle, err)
		}
	}
}

type failingPollScorer struct{}

func (failingPollScorer) Submit(context.Context, int, []rubric.Request) (string, error) {
	return "batch-1", nil
}

func (failingPollScorer) Poll(context.Context, string) (rubric.PollResult, error) {
	return rubric.PollResult{}, errors.New("scorer unavailable")
}

func failingEngine(t *testing.T, cfg *config.Config) *pipeline.Engine {
	t.Helper()
	artifact := testsupport.SyntheticArtifact()
	clf, err := classifier.FromArtifact(artifact, classifier.Options{})
	if err != nil {
		t.Fatalf("FromArtifact: %v", err)
	}
	schedule := rubric.DefaultSchedule()
	schedule.MaxErrors = 3
	engine, err := pipeline.NewEngine(pipeline.Options{
		Classifier: clf,
		Detector:   drift.NewDetector(artifact.Training, drift.DefaultAlpha, drift.DefaultCeiling),
		Features:   features.NewEngine(artifact.Training.Medians()),
		Scorer:     failingPollScorer{},
		Schedule:   schedule,
		PollerOpts: []rubric.PollerOption{rubric.WithPollSleep(noSleep)},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestScorerFailureThenRetryCreatesNewRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.CycleFixture(t, cfg, 2025, 30)
	h := newHarness(t, cfg, failingEngine(t, cfg), nil)
	h.startWorkers(t)
	ctx := context.Background()

	run, err := h.orch.StartRun(ctx, 2025)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	failed := h.waitForStatus(t, run.ID, runstore.StatusFailed)
	if failed.Failure == nil || failed.Failure.Kind != services.FailureExternalBatchAPI || !failed.Failure.Retryable {
		t.Fatalf("expected retryable external batch failure, got %+v", failed.Failure)
	}
	if h.results.Swaps() != 0 {
		t.Fatal("failed run must not publish")
	}

	retry, err := h.orch.Retry(ctx, 2025)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retry.ID == run.ID || retry.RetryOf != run.ID {
		t.Fatalf("expected a new run retrying %s, got %+v", run.ID, retry)
	}
	original, err := h.orch.GetStatus(ctx, run.ID)
	if err != nil || original.Status != runstore.StatusFailed {
		t.Fatalf("failed run must be kept as is, got %+v err=%v", original, err)
	}
	h.waitForStatus(t, retry.ID, runstore.StatusFailed)
}

func TestRetryRules(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteArtifact(t, cfg, nil)
	h := newHarness(t, cfg, fileEngine(t, cfg, nil), nil)
	ctx := context.Background()

	if _, err := h.orch.Retry(ctx, 2025); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found without runs, got %v", err)
	}
	run, err := h.orch.StartRun(ctx, 2025)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if _, err := h.orch.Retry(ctx, 2025); !errors.Is(err, services.ErrConcurrentRun) {
		t.Fatalf("expected concurrent run error while pending, got %v", err)
	}

	claimed, err := h.store.ClaimPending(ctx, "w", time.Now())
	if err != nil || claimed == nil || claimed.ID != run.ID {
		t.Fatalf("ClaimPending: %+v err=%v", claimed, err)
	}
	snap := &results.Snapshot{RunID: run.ID, CycleYear: 2025, CompletedAt: time.Now().UTC()}
	if ok, err := h.orch.MarkComplete(ctx, run.ID, snap); err != nil || !ok {
		t.Fatalf("MarkComplete: ok=%v err=%v", ok, err)
	}
	if _, err := h.orch.Retry(ctx, 2025); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error after completion, got %v", err)
	}
}

func TestCallbacksAreIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteArtifact(t, cfg, nil)
	h := newHarness(t, cfg, fileEngine(t, cfg, nil), nil)
	ctx := context.Background()

	run := testsupport.NewRunningRun(t, h.store, 2025, time.Now())
	if err := h.orch.ReportProgress(ctx, run.ID, pipeline.StageClean, 40); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	if err := h.orch.ReportProgress(ctx, run.ID, pipeline.StageIngest, 10); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	current, _ := h.orch.GetStatus(ctx, run.ID)
	if current.ProgressPct != 40 || current.Stage != pipeline.StageClean {
		t.Fatalf("progress regressed: %+v", current)
	}

	failure := services.Failure{Kind: services.FailureInternal, Message: "boom"}
	for i := 0; i < 2; i++ {
		if err := h.orch.MarkFailed(ctx, run.ID, failure); err != nil {
			t.Fatalf("MarkFailed #%d: %v", i+1, err)
		}
	}
	if len(h.notifier.failed) != 1 {
		t.Fatalf("expected one failure notification, got %d", len(h.notifier.failed))
	}
	first, _ := h.orch.GetStatus(ctx, run.ID)

	snap := &results.Snapshot{RunID: run.ID, CycleYear: 2025, CompletedAt: time.Now().UTC()}
	ok, err := h.orch.MarkComplete(ctx, run.ID, snap)
	if err != nil || ok {
		t.Fatalf("completion after failure must be ignored, ok=%v err=%v", ok, err)
	}
	if err := h.orch.ReportProgress(ctx, run.ID, pipeline.StageTier, 100); err != nil {
		t.Fatalf("late progress: %v", err)
	}
	after, _ := h.orch.GetStatus(ctx, run.ID)
	if after.Status != runstore.StatusFailed || after.ProgressPct != first.ProgressPct || !after.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("late callbacks changed the run: before %+v after %+v", first, after)
	}
	if h.results.Swaps() != 0 {
		t.Fatal("ignored completion must not publish")
	}
}

func TestMarkCompleteTwicePublishesOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteArtifact(t, cfg, nil)
	h := newHarness(t, cfg, fileEngine(t, cfg, nil), nil)
	ctx := context.Background()

	run := testsupport.NewRunningRun(t, h.store, 2026, time.Now())
	snap := &results.Snapshot{RunID: run.ID, CycleYear: 2026, CompletedAt: time.Now().UTC()}
	for i, want := range []bool{true, false} {
		ok, err := h.orch.MarkComplete(ctx, run.ID, snap)
		if err != nil || ok != want {
			t.Fatalf("MarkComplete #%d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if h.results.Swaps() != 1 || len(h.bus.events) != 1 {
		t.Fatalf("expected one swap and broadcast, got %d/%d", h.results.Swaps(), len(h.bus.events))
	}
	if _, err := h.orch.MarkComplete(ctx, run.ID, &results.Snapshot{RunID: "other"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for foreign snapshot, got %v", err)
	}
}

func TestRestorePublishesArchivedResults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteArtifact(t, cfg, nil)
	arch := archive.NewFileArchive(cfg.ResultsDir())
	h := newHarness(t, cfg, fileEngine(t, cfg, arch), arch)
	ctx := context.Background()

	run := testsupport.NewRunningRun(t, h.store, 2024, time.Now())
	snap := &results.Snapshot{RunID: run.ID, CycleYear: 2024, CompletedAt: time.Now().UTC().Truncate(time.Second)}
	if _, err := arch.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ok, err := h.store.Complete(ctx, run.ID, []byte(`{}`), snap.CompletedAt); err != nil || !ok {
		t.Fatalf("Complete: ok=%v err=%v", ok, err)
	}
	orphan := testsupport.NewRunningRun(t, h.store, 2023, time.Now())
	if ok, err := h.store.Complete(ctx, orphan.ID, []byte(`{}`), time.Now()); err != nil || !ok {
		t.Fatalf("Complete: ok=%v err=%v", ok, err)
	}

	restored, err := h.orch.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != 1 {
		t.Fatalf("expected one restored cycle, got %d", restored)
	}
	if live := h.results.ForCycle(2024); live == nil || live.RunID != run.ID {
		t.Fatalf("expected restored snapshot, got %+v", live)
	}
	if h.results.ForCycle(2023) != nil {
		t.Fatal("cycle without an archive must stay empty")
	}
	again, err := h.orch.Restore(ctx)
	if err != nil || again != 0 {
		t.Fatalf("repeating a restore must change nothing, got %d err=%v", again, err)
	}
}

func TestRestoreAsResyncPicksUpMissedPublish(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteArtifact(t, cfg, nil)
	arch := archive.NewFileArchive(cfg.ResultsDir())
	h := newHarness(t, cfg, fileEngine(t, cfg, arch), arch)
	ctx := context.Background()

	complete := func(at time.Time) string {
		run := testsupport.NewRunningRun(t, h.store, 2025, at)
		snap := &results.Snapshot{RunID: run.ID, CycleYear: 2025, CompletedAt: at.UTC().Truncate(time.Second)}
		if _, err := arch.Save(ctx, snap); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if ok, err := h.store.Complete(ctx, run.ID, []byte(`{}`), snap.CompletedAt); err != nil || !ok {
			t.Fatalf("Complete: ok=%v err=%v", ok, err)
		}
		return run.ID
	}
	first := complete(time.Now().Add(-time.Hour))
	if n, err := h.orch.Restore(ctx); err != nil || n != 1 {
		t.Fatalf("Restore: n=%d err=%v", n, err)
	}

	// Another coordinator completes a newer run; its notification is lost.
	second := complete(time.Now())
	if live := h.results.ForCycle(2025); live.RunID != first {
		t.Fatalf("expected the first run live before resync, got %s", live.RunID)
	}
	if err := results.Follow(ctx, gapBus{}, h.results, h.orch.FetchSnapshot, h.orch.Restore, nil); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if live := h.results.ForCycle(2025); live == nil || live.RunID != second {
		t.Fatalf("resync did not install the newer run, got %+v", live)
	}
}

// gapBus subscribes once and delivers nothing, as after a reconnect.
type gapBus struct{}

func (gapBus) Notify(context.Context, results.Event) error { return nil }

func (gapBus) Listen(ctx context.Context, subscribed func(context.Context), _ func(results.Event)) error {
	subscribed(ctx)
	return nil
}

type pendingScorer struct {
	mu    sync.Mutex
	polls int
}

func (s *pendingScorer) Submit(context.Context, int, []rubric.Request) (string, error) {
	return "batch-pending", nil
}

func (s *pendingScorer) Poll(_ context.Context, id string) (rubric.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return rubric.PollResult{BatchID: id, Status: rubric.StatusInProgress}, nil
}

func (s *pendingScorer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func TestSweptRunStopsPollingAndFreesWorker(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	testsupport.CycleFixture(t, cfg, 2025, 20)
	artifact := testsupport.SyntheticArtifact()
	clf, err := classifier.FromArtifact(artifact, classifier.Options{})
	if err != nil {
		t.Fatalf("FromArtifact: %v", err)
	}
	scorer := &pendingScorer{}
	shortSleep := func(ctx context.Context, _ time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Millisecond):
			return nil
		}
	}
	engine, err := pipeline.NewEngine(pipeline.Options{
		Classifier: clf,
		Detector:   drift.NewDetector(artifact.Training, drift.DefaultAlpha, drift.DefaultCeiling),
		Features:   features.NewEngine(artifact.Training.Medians()),
		Scorer:     scorer,
		Schedule:   rubric.DefaultSchedule(),
		PollerOpts: []rubric.PollerOption{rubric.WithPollSleep(shortSleep)},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h := newHarness(t, cfg, engine, nil)
	h.startWorkers(t)
	ctx := context.Background()

	run, err := h.orch.StartRun(ctx, 2025)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	h.waitForStatus(t, run.ID, runstore.StatusRunning)
	deadline := time.Now().Add(10 * time.Second)
	for scorer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	lost := services.Classify(services.Wrap(services.ErrWorkerLost, "monitor", "sweep", "heartbeat stale", nil), pipeline.StageRubric)
	if err := h.orch.MarkFailed(ctx, run.ID, lost); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := h.orch.Heartbeat(ctx, run.ID); !errors.Is(err, services.ErrRunInactive) {
		t.Fatalf("expected heartbeat on a failed run to report inactive, got %v", err)
	}

	// The single worker must come free for the retry.
	retry, err := h.orch.Retry(ctx, 2025)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	h.waitForStatus(t, retry.ID, runstore.StatusRunning)

	failed, err := h.orch.GetStatus(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if failed.Failure == nil || failed.Failure.Kind != services.FailureWorkerLost {
		t.Fatalf("the sweep failure must be kept, got %+v", failed.Failure)
	}
}
