package cli

import (
	"github.com/spf13/cobra"

	"github.com/seantiz/jsworker/internal/plan"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	Engine string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Run a plan and report each step",
		Long: `Run a YAML plan of worker operations on a fresh worker and print a
report. Exits with status 1 when any step fails its expectation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Engine, "engine", "", "engine name (overrides the plan)")

	return cmd
}

func runPlan(cmd *cobra.Command, rootOpts *RootOptions, opts *RunOptions, path string) error {
	p, err := plan.Load(path)
	if err != nil {
		return commandError(err)
	}
	if opts.Engine != "" {
		p.Engine = opts.Engine
	}

	report, err := plan.Run(p, rootOpts.registry, plan.WithLogger(rootOpts.logger(cmd)))
	if err != nil {
		return commandError(err)
	}

	out := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		err = report.WriteJSON(out)
	} else {
		err = report.WriteText(out)
	}
	if err != nil {
		return err
	}

	if !report.Passed {
		return failure("plan %s: %d of %d steps failed", report.Plan, len(report.Steps)-report.PassedCount(), len(report.Steps))
	}
	return nil
}
