package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the dagweaver command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "dagweaver",
		Short:         "dagweaver executes pipelines of dependent tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var raw Invocation

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := Canonicalize(raw)
			if err != nil {
				return err
			}

			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			if inv.Verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			res, err := Execute(cmd.Context(), inv, log, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if res.ExitCode != ExitSuccess {
				return &InvocationError{ExitCode: res.ExitCode, Message: "pipeline finished with failures"}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&raw.WorkDir, "workdir", "", "absolute working directory (required)")
	flags.StringVar(&raw.PipelinePath, "pipeline", "", "pipeline definition file (required)")
	flags.StringVar(&raw.ScriptsDir, "scripts-dir", "scripts", "directory for generated task scripts")
	flags.StringVar(&raw.LogsDir, "logs-dir", "logs", "directory for task log files")
	flags.StringVar(&raw.StatusPath, "status", "", "run log output path (optional)")
	flags.DurationVar(&raw.PollTimeout, "poll-timeout", 0, "per-poll completion wait (default 1s)")
	flags.BoolVar(&raw.Simulate, "simulate", false, "dry-run: report every task as succeeded without running it")
	flags.BoolVar(&raw.FailedAreCompleted, "failed-are-completed", false, "treat failed tasks as completed")
	flags.BoolVarP(&raw.Verbose, "verbose", "v", false, "debug logging")

	return cmd
}
