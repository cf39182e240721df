package commands

import (
	"github.com/spf13/cobra"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildRuntime(flags)
			if err != nil {
				return err
			}
			defer deps.close()

			printSnapshot(cmd.OutOrStdout(), deps.engine.CurrentStatus())
			return nil
		},
	}
}
