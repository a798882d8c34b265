package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"triage/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var raw bool
	var daemonOnly bool
	cmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "Show the daemon log, or the log for one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runID := ""
			if len(args) == 1 {
				runID = strings.TrimSpace(args[0])
			}

			var path string
			filter := ""
			switch {
			case runID == "":
				path, err = logs.DaemonLogPath(cfg.Paths.LogDir)
			case daemonOnly || !cfg.Logging.RunLogs:
				// Without per-run files, pick the run's records out of the daemon log.
				path, err = logs.DaemonLogPath(cfg.Paths.LogDir)
				filter = runID
			default:
				path, err = logs.RunLogPath(cfg.Paths.LogDir, runID)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			emit := func(batch []string) {
				for _, line := range batch {
					if !logs.MatchesRun(line, filter) {
						continue
					}
					if !raw {
						line = logs.Render(line)
					}
					fmt.Fprintln(out, line)
				}
			}

			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines})
			if err != nil {
				return err
			}
			emit(result.Lines)
			for follow {
				result, err = logs.Tail(cmd.Context(), path, logs.TailOptions{
					Offset: result.Offset,
					Follow: true,
					Wait:   30 * time.Second,
				})
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				emit(result.Lines)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they are written")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON records unformatted")
	cmd.Flags().BoolVar(&daemonOnly, "daemon-log", false, "Filter the daemon log by run id instead of reading the per-run file")
	return cmd
}
