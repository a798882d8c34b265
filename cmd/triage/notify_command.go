package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"triage/internal/ipc"
	"triage/internal/notifications"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification utilities",
	}

	var direct bool
	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Send a test notification to the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !direct {
				client, err := ipc.Dial(ctx.socketPath())
				if err == nil {
					defer client.Close()
					resp, err := client.TestNotification()
					if resp != nil && resp.Message != "" {
						fmt.Fprintln(out, resp.Message)
					}
					if err != nil {
						return err
					}
					if resp == nil {
						return errors.New("missing notification response")
					}
					return nil
				}
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
				fmt.Fprintln(out, "ntfy topic not configured")
				return nil
			}
			if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(out, "test notification sent")
			return nil
		},
	}
	testCmd.Flags().BoolVar(&direct, "direct", false, "Send from this process instead of through the daemon")

	notifyCmd.AddCommand(testCmd)
	return notifyCmd
}
