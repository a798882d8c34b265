package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"triage/internal/api"
	"triage/internal/runstore"
	"triage/internal/services"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start, retry and inspect pipeline runs",
	}
	runCmd.AddCommand(newRunStartCommand(ctx, false))
	runCmd.AddCommand(newRunStartCommand(ctx, true))
	runCmd.AddCommand(newRunStatusCommand(ctx))
	runCmd.AddCommand(newRunListCommand(ctx))
	return runCmd
}

func newRunStartCommand(ctx *commandContext, retry bool) *cobra.Command {
	use, short := "start <cycle>", "Start a scoring run for an admissions cycle"
	if retry {
		use, short = "retry <cycle>", "Retry the latest failed run for an admissions cycle"
	}
	var wait bool
	var timeout time.Duration
	var asJSON bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cycle, err := parseCycle(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var run *api.Run
			if retry {
				run, err = client.Retry(cmd.Context(), cycle)
			} else {
				run, err = client.StartRun(cmd.Context(), cycle)
			}
			if err != nil {
				return describeRunError(err, cycle)
			}
			out := cmd.OutOrStdout()
			if !asJSON {
				fmt.Fprintf(out, "Run %s queued for cycle %d\n", run.ID, run.CycleYear)
			}
			if wait {
				run, err = waitForRun(cmd, client, run.ID, timeout, asJSON)
				if err != nil {
					return err
				}
			}
			if asJSON {
				return writeJSON(cmd, run)
			}
			if wait {
				printRunDetail(out, run)
				if run.Status == string(runstore.StatusFailed) {
					return fmt.Errorf("run %s failed", run.ID)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the run to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Hour, "Maximum time to wait with --wait")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the run as JSON")
	return cmd
}

func newRunStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			run, err := client.Run(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				if errors.Is(err, services.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				return err
			}
			if asJSON {
				return writeJSON(cmd, run)
			}
			printRunDetail(cmd.OutOrStdout(), run)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the run as JSON")
	return cmd
}

func newRunListCommand(ctx *commandContext) *cobra.Command {
	var cycle int
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			runs, err := client.ListRuns(cmd.Context(), cycle, limit)
			if err != nil {
				return err
			}
			if asJSON {
				if runs == nil {
					runs = []api.Run{}
				}
				return writeJSON(cmd, runs)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"ID", "Cycle", "Status", "Stage", "Progress", "Created", "Finished"},
				buildRunRows(runs),
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&cycle, "cycle", 0, "Only list runs for this admissions cycle")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output runs as JSON")
	return cmd
}

func buildRunRows(runs []api.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		stage := run.Stage
		if stage == "" {
			stage = "-"
		}
		rows = append(rows, []string{
			run.ID,
			strconv.Itoa(run.CycleYear),
			run.Status,
			stage,
			fmt.Sprintf("%.0f%%", run.ProgressPct),
			relativeTime(run.CreatedAt),
			relativeTime(run.CompletedAt),
		})
	}
	return rows
}

func printRunDetail(out io.Writer, run *api.Run) {
	fmt.Fprintf(out, "Run:       %s\n", run.ID)
	fmt.Fprintf(out, "Cycle:     %d\n", run.CycleYear)
	fmt.Fprintf(out, "Status:    %s\n", run.Status)
	if run.Stage != "" {
		fmt.Fprintf(out, "Stage:     %s (%.0f%%)\n", run.Stage, run.ProgressPct)
	}
	if run.RetryOf != "" {
		fmt.Fprintf(out, "Retry of:  %s\n", run.RetryOf)
	}
	if run.WorkerID != "" {
		fmt.Fprintf(out, "Worker:    %s\n", run.WorkerID)
	}
	fmt.Fprintf(out, "Created:   %s\n", relativeTime(run.CreatedAt))
	if run.StartedAt != "" {
		fmt.Fprintf(out, "Started:   %s\n", relativeTime(run.StartedAt))
	}
	if run.HeartbeatAt != "" && run.Status == string(runstore.StatusRunning) {
		fmt.Fprintf(out, "Heartbeat: %s\n", relativeTime(run.HeartbeatAt))
	}
	if run.CompletedAt != "" {
		fmt.Fprintf(out, "Finished:  %s\n", relativeTime(run.CompletedAt))
	}
	if run.Error != nil {
		retry := "not retryable"
		if run.Error.Retryable {
			retry = "retryable"
		}
		fmt.Fprintf(out, "Error:     [%s, %s] %s\n", run.Error.Kind, retry, run.Error.Message)
	}
}

func waitForRun(cmd *cobra.Command, client *api.Client, id string, timeout time.Duration, quiet bool) (*api.Run, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastStage := ""
	for {
		run, err := client.Run(cmd.Context(), id)
		if err != nil {
			return nil, err
		}
		switch run.Status {
		case string(runstore.StatusComplete), string(runstore.StatusFailed):
			return run, nil
		}
		if !quiet && run.Stage != "" && run.Stage != lastStage {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s (%.0f%%)\n", run.Stage, run.ProgressPct)
			lastStage = run.Stage
		}
		if time.Now().After(deadline) {
			return run, fmt.Errorf("run %s still %s after %s", id, run.Status, timeout)
		}
		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func parseCycle(value string) (int, error) {
	cycle, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || cycle < 1900 || cycle > 9999 {
		return 0, fmt.Errorf("invalid cycle %q: expected a four-digit year", value)
	}
	return cycle, nil
}

func describeRunError(err error, cycle int) error {
	switch {
	case errors.Is(err, services.ErrConcurrentRun):
		return fmt.Errorf("cycle %d already has an active run: %w", cycle, err)
	case errors.Is(err, services.ErrNotFound):
		return fmt.Errorf("cycle %d has no run to retry: %w", cycle, err)
	case errors.Is(err, services.ErrValidation):
		return fmt.Errorf("cycle %d rejected: %w", cycle, err)
	default:
		return err
	}
}
