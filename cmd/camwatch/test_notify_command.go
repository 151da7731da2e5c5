package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"camwatch/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test ntfy notification through the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return fmt.Errorf("test notification: %w", err)
				}
				out := cmd.OutOrStdout()
				if !resp.Sent {
					fmt.Fprintln(out, resp.Message)
					return nil
				}
				fmt.Fprintln(out, "Test notification sent")
				return nil
			})
		},
	}
}
