package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"triage/internal/config"
	"triage/internal/ipc"
	"triage/internal/runstore"
)

const (
	pidFileName  = "triage.pid"
	lockFileName = "triage.lock"

	defaultInterval = 200 * time.Millisecond
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions are passed to the detached `triage daemon` process.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult describes the coordinator after a start request.
type StartResult struct {
	State        StartState
	Launched     bool
	Message      string
	ModelVersion string
	// LiveCycles are the cycles with a published result set.
	LiveCycles []int
}

// StopResult describes a stop request. Interrupted lists runs that were
// executing when the stop was sent; the daemon fails them as canceled.
type StopResult struct {
	Acknowledged bool
	ForcedKill   bool
	PID          int
	Interrupted  []ipc.RunSummary
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Controller drives a triage daemon through its control socket.
type Controller struct {
	Socket     string
	Config     *config.Config
	Executable string
	Launch     LaunchOptions
	// Interval between socket checks while waiting.
	Interval time.Duration
}

func (c *Controller) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return defaultInterval
}

// Start launches a daemon when none answers on the socket, then makes sure its
// coordinator services are running.
func (c *Controller) Start(ctx context.Context, wait time.Duration) (StartResult, error) {
	client, err := ipc.Dial(c.Socket)
	launched := false
	if err != nil {
		if err := launch(c.Executable, c.Launch); err != nil {
			return StartResult{}, err
		}
		if client, err = c.waitForClient(ctx, wait); err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	if status, err := client.Status(); err == nil && status != nil && status.Running {
		result := StartResult{State: StartStateAlreadyRunning, Launched: launched}
		if launched {
			result.State = StartStateStarted
		}
		result.ModelVersion = status.ModelVersion
		result.LiveCycles = status.LiveCycles
		return result, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	result := StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}
	if resp != nil {
		if message := strings.TrimSpace(resp.Message); message != "" {
			result.Message = message
		}
		if resp.Started {
			result.State = StartStateStarted
		}
	}
	if status, err := client.Status(); err == nil && status != nil {
		result.ModelVersion = status.ModelVersion
		result.LiveCycles = status.LiveCycles
	}
	return result, nil
}

// Stop asks the daemon to shut down and kills the process if it is still
// alive after grace.
func (c *Controller) Stop(ctx context.Context, grace time.Duration) (StopResult, error) {
	client, err := ipc.Dial(c.Socket)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	result := StopResult{Interrupted: c.runningRuns(ctx)}
	var lockPath string
	if status, err := client.Status(); err == nil && status != nil {
		lockPath = status.LockPath
		result.PID = status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result.Acknowledged = resp != nil && resp.Stopped

	if err := c.waitForShutdown(ctx, grace); err == nil {
		return result, nil
	}
	alive, livePID, err := processInfo(c.Socket)
	if err != nil || !alive {
		return result, nil
	}
	if livePID == 0 {
		livePID = result.PID
	}
	stateDir := c.stateDir(lockPath)
	if stateDir == "" {
		return result, fmt.Errorf("unable to determine daemon state directory")
	}
	killed, err := ForceKillProcess(filepath.Join(stateDir, pidFileName), filepath.Join(stateDir, lockFileName), livePID)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(c.Socket)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// Restart stops the daemon if running, then starts it again.
func (c *Controller) Restart(ctx context.Context, grace, wait time.Duration) (RestartResult, error) {
	stopped, stopErr := c.Stop(ctx, grace)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}
	started, err := c.Start(ctx, wait)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{WasRunning: stopErr == nil, Stop: stopped, Start: started}, nil
}

// Status returns the daemon's own report, or a snapshot read straight from
// the run database when the daemon is offline.
func (c *Controller) Status(ctx context.Context) (*ipc.StatusResponse, error) {
	if c.Config == nil {
		return nil, errors.New("configuration not available")
	}
	if client, err := ipc.Dial(c.Socket); err == nil {
		defer client.Close()
		if resp, err := client.Status(); err == nil && resp != nil {
			return resp, nil
		}
	}

	status := &ipc.StatusResponse{}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	store, err := runstore.Open(c.Config)
	if err != nil {
		return status, nil
	}
	defer store.Close()
	status.StoreDriver = store.Driver()
	if stats, err := store.Stats(queryCtx); err == nil {
		status.RunStats = make(map[string]int, len(stats))
		for s, count := range stats {
			status.RunStats[string(s)] = count
		}
	}
	if runs, err := store.ListRuns(queryCtx, 0, 1); err == nil && len(runs) == 1 {
		summary := summarizeRun(runs[0])
		status.LastRun = &summary
	}
	return status, nil
}

// runningRuns reads executing runs from the database. Errors yield nil; the
// list only decorates the stop report.
func (c *Controller) runningRuns(ctx context.Context) []ipc.RunSummary {
	if c.Config == nil {
		return nil
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	store, err := runstore.Open(c.Config)
	if err != nil {
		return nil
	}
	defer store.Close()
	runs, err := store.ListByStatus(queryCtx, runstore.StatusRunning)
	if err != nil {
		return nil
	}
	out := make([]ipc.RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summarizeRun(run))
	}
	return out
}

func (c *Controller) stateDir(lockPath string) string {
	if lockPath != "" {
		return filepath.Dir(lockPath)
	}
	if c.Config != nil {
		return strings.TrimSpace(c.Config.Paths.StateDir)
	}
	return ""
}

func (c *Controller) waitForClient(ctx context.Context, timeout time.Duration) (*ipc.Client, error) {
	var client *ipc.Client
	err := c.poll(ctx, timeout, func() (bool, error) {
		var err error
		client, err = ipc.Dial(c.Socket)
		return err == nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("daemon failed to start: %w", err)
	}
	return client, nil
}

func (c *Controller) waitForShutdown(ctx context.Context, timeout time.Duration) error {
	err := c.poll(ctx, timeout, func() (bool, error) {
		client, err := ipc.Dial(c.Socket)
		if err != nil {
			return isDaemonUnavailable(err), err
		}
		defer client.Close()
		status, err := client.Status()
		if err != nil {
			return false, err
		}
		if status.Running {
			return false, errors.New("coordinator still running")
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("daemon did not stop: %w", err)
	}
	return nil
}

// poll calls check until it reports done, ctx ends or timeout elapses. The
// last check error is returned on timeout.
func (c *Controller) poll(ctx context.Context, timeout time.Duration, check func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()
	var lastErr error
	for {
		done, err := check()
		if done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func launch(executable string, opts LaunchOptions) error {
	if strings.TrimSpace(executable) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}
	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	proc := exec.Command(executable, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// processInfo reports whether the socket answers and the daemon pid.
func processInfo(socket string) (bool, int, error) {
	client, err := ipc.Dial(socket)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return true, 0, err
	}
	return true, status.PID, nil
}

// ForceKillProcess sends SIGKILL to the daemon and removes its pid and lock
// files. The pid file wins over fallbackPID.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := readPID(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// readPID returns 0 when the pid file is missing or empty.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(value)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q holds %q", path, value)
	}
	return pid, nil
}

func summarizeRun(run *runstore.Run) ipc.RunSummary {
	summary := ipc.RunSummary{
		ID:          run.ID,
		CycleYear:   run.CycleYear,
		Status:      string(run.Status),
		Stage:       run.Stage,
		ProgressPct: run.ProgressPct,
	}
	if run.Failure != nil {
		summary.Error = run.Failure.Message
	}
	return summary
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
