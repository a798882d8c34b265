package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"triage/internal/classifier"
	"triage/internal/config"
	"triage/internal/results"
	"triage/internal/services"
)

func sampleSnapshot(runID string) *results.Snapshot {
	return &results.Snapshot{
		RunID:       runID,
		CycleYear:   2025,
		CompletedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Summary:     results.Summary{CycleYear: 2025, Applicants: 1, ModelVersion: "v1"},
		Assignments: []classifier.Assignment{{
			ApplicantID: "A1",
			Score:       14.5,
			Tier:        2,
			TierLabel:   classifier.TierLabel(2),
			Confidence:  classifier.ConfidenceHigh,
		}},
	}
}

func TestFileArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	arch := NewFileArchive(t.TempDir())

	location, err := arch.Save(ctx, sampleSnapshot("run-1"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if location != arch.Path("run-1") {
		t.Fatalf("unexpected location %q", location)
	}
	got, err := arch.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != "run-1" || len(got.Assignments) != 1 || got.Assignments[0].TierLabel != "Recommended for Review" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if !got.CompletedAt.Equal(sampleSnapshot("x").CompletedAt) {
		t.Fatalf("completion time changed: %v", got.CompletedAt)
	}

	if _, err := arch.Load(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFileArchiveRejectsBadRunIDs(t *testing.T) {
	arch := NewFileArchive(t.TempDir())
	for _, id := range []string{"", "  ", "../escape", "a/b"} {
		if _, err := arch.Save(context.Background(), sampleSnapshot(id)); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("run id %q: expected validation error, got %v", id, err)
		}
	}
}

func TestFileArchiveExport(t *testing.T) {
	dir := t.TempDir()
	arch := NewFileArchive(filepath.Join(dir, "results"))
	if _, err := arch.Save(context.Background(), sampleSnapshot("run-9")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	dst := filepath.Join(dir, "out", "tiers.json")
	if err := arch.Export("run-9", dst); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("export missing: %v", err)
	}
	if err := arch.Export("nope", dst); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type memoryArchive struct {
	saved map[string]*results.Snapshot
	fail  error
}

func (m *memoryArchive) Save(_ context.Context, snap *results.Snapshot) (string, error) {
	if m.fail != nil {
		return "", m.fail
	}
	m.saved[snap.RunID] = snap
	return "mem://" + snap.RunID, nil
}

func (m *memoryArchive) Location(runID string) string { return "mem://" + runID }

func (m *memoryArchive) Load(_ context.Context, runID string) (*results.Snapshot, error) {
	if snap, ok := m.saved[runID]; ok {
		return snap, nil
	}
	return nil, services.ErrNotFound
}

func TestTieredMirrorsAndFallsBack(t *testing.T) {
	ctx := context.Background()
	local := NewFileArchive(t.TempDir())
	remote := &memoryArchive{saved: map[string]*results.Snapshot{}}
	tiered := NewTiered(local, remote, nil)

	location, err := tiered.Save(ctx, sampleSnapshot("run-2"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if location != local.Path("run-2") {
		t.Fatalf("expected local location, got %q", location)
	}
	if _, ok := remote.saved["run-2"]; !ok {
		t.Fatal("expected remote mirror")
	}

	remote.saved["only-remote"] = sampleSnapshot("only-remote")
	got, err := tiered.Load(ctx, "only-remote")
	if err != nil || got.RunID != "only-remote" {
		t.Fatalf("expected remote fallback, got %+v err=%v", got, err)
	}
}

func TestTieredKeepsLocalWhenRemoteFails(t *testing.T) {
	local := NewFileArchive(t.TempDir())
	remote := &memoryArchive{fail: errors.New("unreachable")}
	tiered := NewTiered(local, remote, nil)

	if _, err := tiered.Save(context.Background(), sampleSnapshot("run-3")); err != nil {
		t.Fatalf("remote failure should not fail the save: %v", err)
	}
	if _, err := local.Load(context.Background(), "run-3"); err != nil {
		t.Fatalf("local copy missing: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := config.Archive{Enabled: true, Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "triage"}
	if err := ValidateConfig(valid); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := ValidateConfig(invalid); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for scheme, got %v", err)
	}
	invalid = valid
	invalid.Bucket = ""
	if err := ValidateConfig(invalid); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestFromConfigWithoutRemote(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	arch, err := FromConfig(context.Background(), &cfg, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	location, err := arch.Save(context.Background(), sampleSnapshot("run-4"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(location) != cfg.ResultsDir() {
		t.Fatalf("expected results dir %q, got %q", cfg.ResultsDir(), location)
	}
}
