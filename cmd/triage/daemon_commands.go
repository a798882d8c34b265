package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"triage/internal/config"
	"triage/internal/daemonctl"
	"triage/internal/ipc"
	"triage/internal/runstore"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the triage daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl, err := newController(ctx, startLogLevel)
			if err != nil {
				return err
			}

			result, err := ctl.Start(cmd.Context(), 10*time.Second)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Message) != "" {
					fmt.Fprintln(stdout, result.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			printStartDetail(stdout, result)
			return nil
		},
	}

	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override logging.level for the launched daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the triage daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl := &daemonctl.Controller{Socket: ctx.socketPath(), Config: ctx.configValue()}
			result, err := ctl.Stop(cmd.Context(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.Acknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			} else {
				fmt.Fprintln(stdout, "Stopping coordinator services...")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			printInterrupted(stdout, result.Interrupted)
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator and run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			ctl := &daemonctl.Controller{Socket: ctx.socketPath(), Config: cfg}
			statusResp, err := ctl.Status(cmd.Context())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, statusResp)
			}
			renderStatus(cmd.OutOrStdout(), cfg, statusResp, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the triage daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl, err := newController(ctx, restartLogLevel)
			if err != nil {
				return err
			}

			result, err := ctl.Restart(cmd.Context(), 5*time.Second, 10*time.Second)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
				printInterrupted(stdout, result.Stop.Interrupted)
			}

			switch result.Start.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Start.Message) != "" {
					fmt.Fprintln(stdout, result.Start.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			printStartDetail(stdout, result.Start)
			return nil
		},
	}

	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override logging.level for the relaunched daemon")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func renderStatus(out io.Writer, cfg *config.Config, status *ipc.StatusResponse, colorize bool) {
	printSection(out, "System Status", colorize)
	if status.Running {
		detail := "Running"
		if status.PID > 0 {
			detail = fmt.Sprintf("Running (pid %d)", status.PID)
		}
		fmt.Fprintln(out, renderStatusLine("Triage", statusOK, detail, colorize))
		workerKind := statusOK
		workerDetail := fmt.Sprintf("%d up (worker %s, model %s)", status.Workers, status.WorkerID, status.ModelVersion)
		if !status.WorkersUp {
			workerKind = statusWarn
			workerDetail = "Stopped"
		}
		fmt.Fprintln(out, renderStatusLine("Workers", workerKind, workerDetail, colorize))
		if status.APIAddress != "" {
			fmt.Fprintln(out, renderStatusLine("HTTP API", statusOK, "http://"+status.APIAddress, colorize))
		} else {
			fmt.Fprintln(out, renderStatusLine("HTTP API", statusInfo, "Disabled", colorize))
		}
	} else {
		fmt.Fprintln(out, renderStatusLine("Triage", statusWarn, "Not running (run `triage start`)", colorize))
	}
	if status.StoreDriver != "" {
		fmt.Fprintln(out, renderStatusLine("Run database", statusOK, status.StoreDriver, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Run database", statusError, "Unavailable", colorize))
	}
	if cfg != nil && strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		fmt.Fprintln(out, renderStatusLine("Notifications", statusOK, "Configured", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Notifications", statusWarn, "Not configured", colorize))
	}
	if len(status.LiveCycles) > 0 {
		cycles := make([]string, 0, len(status.LiveCycles))
		for _, c := range status.LiveCycles {
			cycles = append(cycles, fmt.Sprintf("%d", c))
		}
		fmt.Fprintln(out, renderStatusLine("Live results", statusOK, strings.Join(cycles, ", "), colorize))
	}
	if status.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, status.LastError, colorize))
	}
	if run := status.LastRun; run != nil {
		detail := fmt.Sprintf("%s cycle %d %s", run.ID, run.CycleYear, run.Status)
		if run.Stage != "" && run.Status == string(runstore.StatusRunning) {
			detail = fmt.Sprintf("%s (%s %.0f%%)", detail, run.Stage, run.ProgressPct)
		}
		kind := statusInfo
		switch run.Status {
		case string(runstore.StatusComplete):
			kind = statusOK
		case string(runstore.StatusFailed):
			kind = statusError
			if run.Error != "" {
				detail += ": " + run.Error
			}
		}
		fmt.Fprintln(out, renderStatusLine("Last run", kind, detail, colorize))
	}
	fmt.Fprintln(out)

	printSection(out, "Run Status", colorize)
	rows := buildRunStatusRows(status.RunStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func buildRunStatusRows(stats map[string]int) [][]string {
	keys := make([]string, 0, len(stats))
	for k, v := range stats {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, formatCount(stats[k])})
	}
	return rows
}

// printStartDetail shows the scoring model and the cycles already serving
// results once the coordinator is up.
func printStartDetail(out io.Writer, result daemonctl.StartResult) {
	if result.ModelVersion != "" {
		fmt.Fprintf(out, "Model %s\n", result.ModelVersion)
	}
	if len(result.LiveCycles) > 0 {
		cycles := make([]string, 0, len(result.LiveCycles))
		for _, c := range result.LiveCycles {
			cycles = append(cycles, fmt.Sprintf("%d", c))
		}
		fmt.Fprintf(out, "Serving results for cycles %s\n", strings.Join(cycles, ", "))
	}
}

func printInterrupted(out io.Writer, runs []ipc.RunSummary) {
	for _, run := range runs {
		fmt.Fprintf(out, "Interrupted run %s (cycle %d, %s %.0f%%); retry with: triage run retry %d\n",
			run.ID, run.CycleYear, run.Stage, run.ProgressPct, run.CycleYear)
	}
}

func newController(ctx *commandContext, logLevel string) (*daemonctl.Controller, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &daemonctl.Controller{
		Socket:     ctx.socketPath(),
		Config:     ctx.configValue(),
		Executable: exe,
		Launch:     daemonLaunchOptions(ctx, logLevel),
	}, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{LogLevel: logLevel}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	opts.ConfigPath = ctx.configPath()
	return opts
}
