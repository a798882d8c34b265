package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"

	"triage/internal/config"
	"triage/internal/logging"
	"triage/internal/runstore"
	"triage/internal/services"
)

// consumedSuffix is appended to a marker once its run has been admitted.
const consumedSuffix = ".consumed"

// Starter admits runs.
type Starter interface {
	StartRun(ctx context.Context, cycle int) (*runstore.Run, error)
}

// Watcher turns approval markers dropped into <root>/<year>/ into runs.
type Watcher struct {
	root     string
	marker   string
	debounce time.Duration
	starter  Starter
	logger   *slog.Logger
}

// New builds a watcher over root.
func New(root, marker string, debounce time.Duration, starter Starter, logger *slog.Logger) (*Watcher, error) {
	if starter == nil {
		return nil, errors.New("watcher requires a run starter")
	}
	if root == "" || marker == "" {
		return nil, services.Wrap(services.ErrConfiguration, "watcher", "init", "data directory and marker file are required", nil)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		root:     root,
		marker:   marker,
		debounce: debounce,
		starter:  starter,
		logger:   logging.NewComponentLogger(logger, "watcher"),
	}, nil
}

// FromConfig builds the watcher configured for cfg.
func FromConfig(cfg *config.Config, starter Starter, logger *slog.Logger) (*Watcher, error) {
	return New(cfg.Paths.DataDir, cfg.Watcher.MarkerFile,
		time.Duration(cfg.Watcher.DebounceMillis)*time.Millisecond, starter, logger)
}

// Run watches until ctx is cancelled. Markers already present at startup
// are honoured.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	pending := make(map[int]struct{})
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.root, err)
	}
	for _, entry := range entries {
		if cycle, ok := parseCycle(entry.Name()); ok && entry.IsDir() {
			w.watchCycleDir(fsw, cycle, pending)
		}
	}
	w.logger.Info("approval watcher started",
		logging.String("root", w.root),
		logging.String("marker", w.marker),
		logging.EventType("watcher_started"))

	timer := time.NewTimer(w.debounce)
	if len(pending) == 0 {
		timer.Stop()
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(fsw, event, pending) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "fs watcher error", "watcher_error",
				logging.Error(err),
				logging.Impact("approval markers may be missed until the next restart"))
		case <-timer.C:
			w.flush(ctx, pending)
		}
	}
}

// handleEvent records approvals and reports whether one was queued.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event, pending map[int]struct{}) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return false
	}
	dir, name := filepath.Split(event.Name)
	dir = filepath.Clean(dir)

	if dir == filepath.Clean(w.root) {
		cycle, ok := parseCycle(name)
		if !ok {
			return false
		}
		info, err := os.Stat(event.Name)
		if err != nil || !info.IsDir() {
			return false
		}
		before := len(pending)
		w.watchCycleDir(fsw, cycle, pending)
		return len(pending) > before
	}

	if name != w.marker || filepath.Dir(dir) != filepath.Clean(w.root) {
		return false
	}
	cycle, ok := parseCycle(filepath.Base(dir))
	if !ok {
		return false
	}
	pending[cycle] = struct{}{}
	return true
}

func (w *Watcher) watchCycleDir(fsw *fsnotify.Watcher, cycle int, pending map[int]struct{}) {
	dir := filepath.Join(w.root, strconv.Itoa(cycle))
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("failed to watch cycle directory",
			logging.String("dir", dir),
			logging.Error(err),
			logging.EventType("watcher_add_failed"))
		return
	}
	if _, err := os.Stat(filepath.Join(dir, w.marker)); err == nil {
		pending[cycle] = struct{}{}
	}
}

func (w *Watcher) flush(ctx context.Context, pending map[int]struct{}) {
	cycles := make([]int, 0, len(pending))
	for cycle := range pending {
		cycles = append(cycles, cycle)
	}
	sort.Ints(cycles)
	clear(pending)

	for _, cycle := range cycles {
		marker := filepath.Join(w.root, strconv.Itoa(cycle), w.marker)
		if _, err := os.Stat(marker); err != nil {
			continue
		}
		run, err := w.starter.StartRun(ctx, cycle)
		switch {
		case err == nil:
			w.logger.Info("approval marker admitted run",
				logging.Cycle(cycle),
				logging.RunID(run.ID),
				logging.EventType("watcher_run_admitted"))
		case errors.Is(err, services.ErrConcurrentRun):
			w.logger.Info("approval marker ignored; cycle already has an active run",
				logging.Cycle(cycle),
				logging.EventType("watcher_run_active"))
		default:
			logging.WarnWithContext(w.logger, "approval marker could not start a run", "watcher_start_failed",
				logging.Cycle(cycle),
				logging.Error(err),
				logging.Hint("fix the cycle data and touch the marker again"))
			continue
		}
		if err := os.Rename(marker, marker+consumedSuffix); err != nil {
			w.logger.Warn("failed to consume approval marker",
				logging.String("marker", marker),
				logging.Error(err))
		}
	}
}

func parseCycle(name string) (int, bool) {
	if len(name) != 4 {
		return 0, false
	}
	cycle, err := strconv.Atoi(name)
	if err != nil || cycle < 1900 {
		return 0, false
	}
	return cycle, true
}
