package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"triage/internal/config"
	"triage/internal/fileutil"
	"triage/internal/logging"
	"triage/internal/results"
	"triage/internal/services"
)

// Archive persists published snapshots so they survive restarts and can be
// served by other processes.
type Archive interface {
	// Save stores snap and returns its location.
	Save(ctx context.Context, snap *results.Snapshot) (string, error)
	// Load returns the snapshot stored for runID. Missing snapshots wrap
	// services.ErrNotFound.
	Load(ctx context.Context, runID string) (*results.Snapshot, error)
	// Location is where Save puts runID.
	Location(runID string) string
}

// FileArchive keeps one JSON document per run under a directory.
type FileArchive struct {
	dir string
}

// NewFileArchive returns an archive rooted at dir.
func NewFileArchive(dir string) *FileArchive {
	return &FileArchive{dir: dir}
}

// Path returns the file that holds runID.
func (a *FileArchive) Path(runID string) string {
	return filepath.Join(a.dir, runID+".json")
}

func (a *FileArchive) Location(runID string) string { return a.Path(runID) }

func (a *FileArchive) Save(_ context.Context, snap *results.Snapshot) (string, error) {
	if err := validRunID(snap); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	path := a.Path(snap.RunID)
	if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

func (a *FileArchive) Load(_ context.Context, runID string) (*results.Snapshot, error) {
	data, err := os.ReadFile(a.Path(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "archive", "load", "No stored result for run "+runID, err)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return decode(data)
}

// Export copies the stored result for runID to dst with integrity checks.
func (a *FileArchive) Export(runID, dst string) error {
	src := a.Path(runID)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "archive", "export", "No stored result for run "+runID, err)
		}
		return err
	}
	return fileutil.CopyFileVerified(src, dst)
}

// Tiered writes to a local archive first and mirrors to a remote one. Loads
// fall back to the remote archive when the local copy is missing.
type Tiered struct {
	local  Archive
	remote Archive
	logger *slog.Logger
}

// NewTiered combines a local and a remote archive. remote may be nil.
func NewTiered(local, remote Archive, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tiered{local: local, remote: remote, logger: logger}
}

func (t *Tiered) Location(runID string) string { return t.local.Location(runID) }

func (t *Tiered) Save(ctx context.Context, snap *results.Snapshot) (string, error) {
	location, err := t.local.Save(ctx, snap)
	if err != nil {
		return "", err
	}
	if t.remote == nil {
		return location, nil
	}
	if _, err := t.remote.Save(ctx, snap); err != nil {
		logging.WarnWithContext(t.logger, "remote archive upload failed", "archive_upload_failed",
			logging.RunID(snap.RunID),
			logging.Error(err),
			logging.Hint("check archive endpoint and credentials"),
			logging.Impact("result is only stored locally"))
	}
	return location, nil
}

func (t *Tiered) Load(ctx context.Context, runID string) (*results.Snapshot, error) {
	snap, err := t.local.Load(ctx, runID)
	if err == nil || t.remote == nil || !errors.Is(err, services.ErrNotFound) {
		return snap, err
	}
	return t.remote.Load(ctx, runID)
}

// FromConfig builds the archive for cfg: always the results directory, plus
// MinIO when enabled.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Tiered, error) {
	local := NewFileArchive(cfg.ResultsDir())
	if !cfg.Archive.Enabled {
		return NewTiered(local, nil, logger), nil
	}
	remote, err := NewMinio(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	return NewTiered(local, remote, logger), nil
}

func validRunID(snap *results.Snapshot) error {
	if snap == nil || strings.TrimSpace(snap.RunID) == "" {
		return services.Wrap(services.ErrValidation, "archive", "save", "Snapshot has no run id", nil)
	}
	if strings.ContainsAny(snap.RunID, `/\`) || strings.Contains(snap.RunID, "..") {
		return services.Wrap(services.ErrValidation, "archive", "save", "Snapshot run id is not a valid file name", nil)
	}
	return nil
}

func decode(data []byte) (*results.Snapshot, error) {
	var snap results.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
