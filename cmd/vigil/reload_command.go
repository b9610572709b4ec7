package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vigil/internal/ipc"
)

func newReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the daemon's config file and apply the new parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reload()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Reloaded {
					fmt.Fprintln(out, "Configuration reloaded")
					return nil
				}
				if resp.Message != "" {
					return fmt.Errorf("reload failed: %s", resp.Message)
				}
				return fmt.Errorf("reload failed")
			})
		},
	}
}
