package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the engine session",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildRuntime(flags)
			if err != nil {
				return err
			}
			defer deps.close()

			resp := deps.engine.Reset(cmd.Context())
			if !resp.Success {
				return fmt.Errorf("%s", resp.Error.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session reset.")
			return nil
		},
	}
}
