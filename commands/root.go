// Package commands provides the conversant CLI verbs.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is the CLI version, overridable at build time.
var Version = "0.1.0"

// rootFlags holds persistent flags shared by all verbs.
type rootFlags struct {
	configPath string
	envPath    string
	verbose    bool
}

// NewRootCmd builds the conversant root command.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "conversant",
		Short: "Conversational conversion of lab recordings to NWB",
		Long: `Conversant converts laboratory recording files into the NWB archival
format, guiding you through metadata collection and validation fixes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flags.envPath, "env", "", "path to .env file (default .env)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newConvertCmd(flags),
		newStatusCmd(flags),
		newResetCmd(flags),
		newWatchCmd(flags),
		newVersionCmd(),
	)

	return root
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the conversant version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "conversant", Version)
		},
	}
}
