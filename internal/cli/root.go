// Package cli implements the jsworker command line.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/seantiz/jsworker/internal/config"
	"github.com/seantiz/jsworker/internal/jsengine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	registry *jsengine.Registry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the jsworker CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(jsengine.DefaultRegistry())
}

func newRootCommand(registry *jsengine.Registry) *cobra.Command {
	opts := &RootOptions{registry: registry}

	cmd := &cobra.Command{
		Use:   "jsworker",
		Short: "jsworker - JavaScript engines behind a worker goroutine",
		Long: `Run JavaScript on an embedded engine owned by a dedicated worker goroutine.

Evaluate snippets, run YAML plans of module operations, check syntax, or
serve the worker over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return commandError(fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewEnginesCommand(opts))

	return cmd
}

// logger returns the diagnostic logger for interactive commands. Logs go to
// stderr so that JSON output stays parseable.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return config.NewTextLogger(cmd.ErrOrStderr(), level)
}
