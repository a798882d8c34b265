package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"triage/internal/archive"
	"triage/internal/classifier"
	"triage/internal/config"
	"triage/internal/daemon"
	"triage/internal/ipc"
	"triage/internal/logging"
	"triage/internal/logs"
	"triage/internal/monitor"
	"triage/internal/notifications"
	"triage/internal/orchestrator"
	"triage/internal/pipeline"
	"triage/internal/results"
	"triage/internal/runstore"
	"triage/internal/watcher"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// SocketPath overrides the control socket location.
	SocketPath string
}

// SocketPath returns the control socket location for cfg.
func SocketPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "triage.sock")
}

// PIDPath returns the pid file location for cfg.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "triage.pid")
}

// Run starts the triage coordinator and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("triage-%s.log", stamp))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update triage.log link: %v\n", err)
	}
	logging.PruneOldFiles(logger, time.Now(), cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "triage-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "runs"), Pattern: "*.log"},
	)

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := runstore.Open(cfg)
	if err != nil {
		logger.Error("open run store", logging.Error(err))
		return err
	}

	artifact, err := classifier.LoadArtifact(cfg.Paths.ArtifactPath)
	if err != nil {
		store.Close()
		return fmt.Errorf("load model artifact: %w", err)
	}
	arch, err := archive.FromConfig(signalCtx, cfg, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("open result archive: %w", err)
	}
	engine, err := pipeline.FromConfig(cfg, artifact, arch, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("build pipeline: %w", err)
	}
	logConfigSnapshot(logger, cfg, engine.ModelVersion())

	workerID := uuid.NewString()[:8]
	notifier := notifications.NewService(cfg)
	hub := results.NewHub()
	live := results.NewStore(hub)
	var bus results.Bus
	if cfg.Bus.Enabled {
		bus = results.NewPGBus(cfg.Store.DSN, cfg.Bus.Channel, workerID, logger)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Config:   cfg,
		Store:    store,
		Results:  live,
		Engine:   engine,
		Archive:  arch,
		Bus:      bus,
		Notifier: notifier,
		Logger:   logger,
		WorkerID: workerID,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("create orchestrator: %w", err)
	}
	if restored, err := orch.Restore(signalCtx); err != nil {
		logging.WarnWithContext(logger, "result restore failed", "results_restore_failed",
			logging.Error(err),
			logging.Impact("live results stay empty until the next run completes"))
	} else {
		logger.Info("live results restored",
			logging.Int("cycles", restored),
			logging.EventType("results_restored"))
	}

	mon, err := monitor.New(monitor.Options{
		Store:    store,
		Notifier: notifier,
		Logger:   logger,
		Timeout:  cfg.HeartbeatTimeout(),
		Schedule: cfg.Workflow.SweepSchedule,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("create monitor: %w", err)
	}

	var approvals *watcher.Watcher
	if cfg.Watcher.Enabled {
		approvals, err = watcher.FromConfig(cfg, orch, logger)
		if err != nil {
			store.Close()
			return fmt.Errorf("create watcher: %w", err)
		}
	}

	d, err := daemon.New(daemon.Components{
		Config:       cfg,
		Store:        store,
		Orchestrator: orch,
		Results:      live,
		Hub:          hub,
		Monitor:      mon,
		Watcher:      approvals,
		Bus:          bus,
		Fetch:        orch.FetchSnapshot,
		Resync:       orch.Restore,
		Notifier:     notifier,
		Logger:       logger,
		LogPath:      logPath,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = SocketPath(cfg)
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.EventType("daemon_start_failed"),
			logging.Hint("check configuration and run database access"),
			logging.Impact("daemon will not process runs"),
		)
	}

	<-signalCtx.Done()
	logger.Info("triage daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logs.CurrentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config, modelVersion string) {
	logger.Info("configuration snapshot",
		logging.EventType("config_snapshot"),
		logging.String("model_version", modelVersion),
		logging.String("store_driver", cfg.Store.Driver),
		logging.Int("workers", cfg.Workflow.Workers),
		logging.String("sweep_schedule", cfg.Workflow.SweepSchedule),
		logging.Int("heartbeat_timeout_seconds", cfg.Workflow.HeartbeatTimeout),
		logging.String("rubric_mode", cfg.Rubric.Mode),
		logging.Bool("archive_enabled", cfg.Archive.Enabled),
		logging.Bool("bus_enabled", cfg.Bus.Enabled),
		logging.Bool("watcher_enabled", cfg.Watcher.Enabled),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_present", cfg.Paths.APIToken != ""),
	)
}
