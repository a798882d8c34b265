package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"triage/internal/config"
	"triage/internal/logging"
	"triage/internal/monitor"
	"triage/internal/notifications"
	"triage/internal/orchestrator"
	"triage/internal/results"
	"triage/internal/runstore"
	"triage/internal/watcher"
)

// Components are the long-running services a daemon supervises. Config,
// Store and Orchestrator are required.
type Components struct {
	Config       *config.Config
	Store        *runstore.Store
	Orchestrator *orchestrator.Orchestrator
	Results      *results.Store
	Hub          *results.Hub
	Monitor      *monitor.Monitor
	Watcher      *watcher.Watcher
	// Bus, when set, is followed so results published by other coordinators
	// go live here too.
	Bus   results.Bus
	Fetch results.FetchFunc
	// Resync recovers publishes missed while the bus was disconnected.
	Resync   results.ResyncFunc
	Notifier notifications.Service
	Logger   *slog.Logger
	LogPath  string
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *runstore.Store
	orch     *orchestrator.Orchestrator
	results  *results.Store
	hub      *results.Hub
	monitor  *monitor.Monitor
	watcher  *watcher.Watcher
	bus      results.Bus
	fetch    results.FetchFunc
	resync   results.ResyncFunc
	notifier notifications.Service
	api      *apiServer
	logPath  string

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Orchestrator orchestrator.StatusSummary
	StoreDriver  string
	LockFilePath string
	LogPath      string
	APIAddress   string
	LastError    string
}

// New constructs a daemon with initialized dependencies.
func New(c Components) (*Daemon, error) {
	if c.Config == nil || c.Store == nil || c.Orchestrator == nil {
		return nil, errors.New("daemon requires config, store, and orchestrator")
	}
	if c.Notifier == nil {
		c.Notifier = notifications.NewService(c.Config)
	}
	logger := logging.NewComponentLogger(c.Logger, "daemon")
	lockPath := filepath.Join(c.Config.Paths.StateDir, "triage.lock")
	d := &Daemon{
		cfg:      c.Config,
		logger:   logger,
		store:    c.Store,
		orch:     c.Orchestrator,
		results:  c.Results,
		hub:      c.Hub,
		monitor:  c.Monitor,
		watcher:  c.Watcher,
		bus:      c.Bus,
		fetch:    c.Fetch,
		resync:   c.Resync,
		notifier: c.Notifier,
		logPath:  c.LogPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(c.Config, d, c.Logger)
	return d, nil
}

// Start acquires the daemon lock and launches every configured service.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another triage daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return d.orch.Run(groupCtx) })
	if d.monitor != nil {
		group.Go(func() error { return d.monitor.Run(groupCtx) })
	}
	if d.watcher != nil {
		group.Go(func() error { return d.watcher.Run(groupCtx) })
	}
	if d.bus != nil && d.results != nil && d.fetch != nil {
		group.Go(func() error { return results.Follow(groupCtx, d.bus, d.results, d.fetch, d.resync, d.logger) })
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := group.Wait()
		d.api.stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.ErrorWithContext(d.logger, "daemon service exited", "daemon_service_failed",
				logging.Error(err),
				logging.Impact("runs are not being processed"),
				logging.Hint("check the daemon log and restart"))
			d.mu.Lock()
			d.lastErr = err
			d.mu.Unlock()
		}
		d.running.Store(false)
	}()

	d.cancel = cancel
	d.done = done
	d.lastErr = nil
	d.running.Store(true)
	d.logger.Info("triage daemon started",
		logging.String("lock", d.lockPath),
		logging.EventType("daemon_started"))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("triage daemon stopped", logging.EventType("daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if closer, ok := d.bus.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if d.hub != nil {
		d.hub.Close()
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Sweep runs one heartbeat sweep immediately and returns the lost run ids.
func (d *Daemon) Sweep(ctx context.Context) ([]string, error) {
	if d.monitor == nil {
		return nil, errors.New("heartbeat monitor unavailable")
	}
	lost, err := d.monitor.Sweep(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(lost))
	for _, run := range lost {
		ids = append(ids, run.ID)
	}
	return ids, nil
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (runstore.DatabaseHealth, error) {
	if d.store == nil {
		return runstore.DatabaseHealth{}, errors.New("run store unavailable")
	}
	return d.store.CheckHealth(ctx)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	lastErr := d.lastErr
	d.mu.Unlock()
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Orchestrator: d.orch.Status(ctx),
		StoreDriver:  d.store.Driver(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		APIAddress:   d.api.address(),
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	return status
}
