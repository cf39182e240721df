package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neurodataworks/conversant/converter"
	"github.com/neurodataworks/conversant/intake"
)

func newWatchCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the intake directory and convert new recordings",
		Long: `Watch runs the engine as a daemon: recording files dropped into the
configured intake directory are detected, converted, and validated.
Conversions that need user input are left awaiting input; inspect them
over the event stream or metrics endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildRuntime(flags)
			if err != nil {
				return err
			}
			defer deps.close()

			if deps.cfg.Intake.Dir == "" {
				return fmt.Errorf("intake.dir is not configured")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			watcher, err := intake.NewWatcher(intake.Config{
				Dir:           deps.cfg.Intake.Dir,
				Extensions:    converter.Extensions(converter.DefaultSignatures()),
				DebounceDelay: deps.cfg.Intake.Debounce,
				Logger:        deps.logger,
			}, func(ctx context.Context, path string) {
				resp := deps.engine.SubmitFile(ctx, path)
				if !resp.Success {
					deps.logger.Warn("Intake submission rejected",
						"path", path,
						"code", resp.Error.Code,
						"error", resp.Error.Message)
				}
			})
			if err != nil {
				return err
			}

			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()

			deps.logger.Info("Watching for recordings", "dir", deps.cfg.Intake.Dir)
			<-ctx.Done()
			return nil
		},
	}
}
