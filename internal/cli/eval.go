package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/jsworker/internal/worker"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	Engine  string
	Timeout time.Duration
}

// evalResult is the JSON output of the eval command.
type evalResult struct {
	Engine string          `json:"engine"`
	Result json.RawMessage `json:"result"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{}

	cmd := &cobra.Command{
		Use:   "eval <code|->",
		Short: "Evaluate a script and print its JSON result",
		Long: `Evaluate a classic script on a fresh worker and print the completion
value as JSON. Pass "-" to read the script from stdin. Console output is
written to stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Engine, "engine", "", "engine name (default: the registry default)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "evaluation timeout")

	return cmd
}

func runEval(cmd *cobra.Command, rootOpts *RootOptions, opts *EvalOptions, arg string) error {
	code := arg
	if arg == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return commandError(fmt.Errorf("read stdin: %w", err))
		}
		code = string(data)
	}
	if strings.TrimSpace(code) == "" {
		return commandError(errors.New("no code to evaluate"))
	}

	engine := opts.Engine
	if engine == "" {
		engine = rootOpts.registry.Default()
	}
	factory, err := rootOpts.registry.Resolve(engine)
	if err != nil {
		return commandError(err)
	}

	stderr := cmd.ErrOrStderr()
	w, err := worker.New(factory, worker.Options{
		Timeout: opts.Timeout,
		Console: func(level, line string) {
			fmt.Fprintf(stderr, "%s: %s\n", level, line)
		},
		Logger: rootOpts.logger(cmd),
	})
	if err != nil {
		return commandError(err)
	}
	value, err := w.Eval(code)
	if stopErr := w.Stop(); stopErr != nil {
		return &ExitError{Code: ExitFailure, Err: errors.Join(err, stopErr)}
	}
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	out := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(evalResult{Engine: engine, Result: json.RawMessage(value)})
	}
	_, err = fmt.Fprintln(out, string(value))
	return err
}
