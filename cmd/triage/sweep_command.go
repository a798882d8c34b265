package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"triage/internal/ipc"
	"triage/internal/logging"
	"triage/internal/monitor"
	"triage/internal/notifications"
	"triage/internal/runstore"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail running runs whose heartbeat is older than workflow.heartbeat_timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !offline {
				if client, err := ipc.Dial(ctx.socketPath()); err == nil {
					defer client.Close()
					resp, err := client.Sweep()
					if err != nil {
						return err
					}
					printSwept(out, resp.Lost)
					return nil
				}
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := runstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			mon, err := monitor.New(monitor.Options{
				Store:    store,
				Notifier: notifications.NewService(cfg),
				Logger:   logging.NewNop(),
				Timeout:  cfg.HeartbeatTimeout(),
			})
			if err != nil {
				return err
			}
			lost, err := mon.Sweep(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(lost))
			for _, run := range lost {
				ids = append(ids, run.ID)
			}
			printSwept(out, ids)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Sweep the run database directly even when the daemon is reachable")
	return cmd
}

func printSwept(out io.Writer, ids []string) {
	if len(ids) == 0 {
		fmt.Fprintln(out, "No stale runs")
		return
	}
	for _, id := range ids {
		fmt.Fprintf(out, "Failed lost run %s\n", id)
	}
	fmt.Fprintf(out, "%d run(s) marked failed\n", len(ids))
}
