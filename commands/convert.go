package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neurodataworks/conversant/router"
	"github.com/neurodataworks/conversant/session"
)

func newConvertCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a recording file interactively",
		Long: `Convert submits a recording file and drives the conversational
pipeline: you will be asked for missing metadata and for decisions on
validation issues. Type "cancel" at any prompt to abandon the conversion.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildRuntime(flags)
			if err != nil {
				return err
			}
			defer deps.close()

			return runConvert(cmd, deps, args[0])
		},
	}
}

func runConvert(cmd *cobra.Command, deps *runtimeDeps, path string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	resp := deps.engine.SubmitFile(ctx, path)
	printResponse(out, resp)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		snap := deps.engine.CurrentStatus()
		if snap.Status.Terminal() {
			printFinal(out, deps, snap)
			return nil
		}

		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && err != io.EOF {
				return err
			}
			// Input closed mid-conversation: abandon cleanly.
			deps.engine.SubmitUserMessage(ctx, "cancel")
			return nil
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "status" {
			printSnapshot(out, deps.engine.CurrentStatus())
			continue
		}

		printResponse(out, deps.engine.SubmitUserMessage(ctx, text))
	}
}

func printResponse(out io.Writer, resp router.Response) {
	if !resp.Success {
		fmt.Fprintf(out, "Error [%s]: %s\n", resp.Error.Code, resp.Error.Message)
		return
	}
	if prompt, ok := resp.Result["prompt"].(string); ok && prompt != "" {
		fmt.Fprintln(out, prompt)
	}
	if reply, ok := resp.Result["reply"].(string); ok && reply != "" {
		fmt.Fprintln(out, reply)
	}
}

func printFinal(out io.Writer, deps *runtimeDeps, snap session.Snapshot) {
	switch snap.Status {
	case session.StatusCompleted:
		fmt.Fprintf(out, "Conversion completed (%s).\n", snap.Reason)
		if ref, err := deps.engine.DownloadArtifact(); err == nil {
			fmt.Fprintf(out, "Artifact: %s\n", ref)
		}
	default:
		fmt.Fprintf(out, "Conversion failed (%s).\n", snap.Reason)
	}
}

func printSnapshot(out io.Writer, snap session.Snapshot) {
	fmt.Fprintf(out, "Status: %s", snap.Status)
	if snap.Phase != session.PhaseIdle {
		fmt.Fprintf(out, " (phase %s)", snap.Phase)
	}
	fmt.Fprintln(out)
	if snap.Format != "" {
		fmt.Fprintf(out, "Format: %s (confidence %.2f)\n", snap.Format, snap.FormatConfidence)
	}
	if snap.Attempt > 0 {
		fmt.Fprintf(out, "Correction attempts: %d of %d\n", snap.Attempt, session.MaxRetryAttempts)
	}
	if len(snap.Merged) > 0 {
		fmt.Fprintln(out, "Metadata:")
		for k, v := range snap.Merged {
			fmt.Fprintf(out, "  %s: %s\n", k, v)
		}
	}
	if len(snap.Issues) > 0 {
		fmt.Fprintf(out, "Open issues: %d\n", len(snap.Issues))
	}
}
