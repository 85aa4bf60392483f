package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/seantiz/jsworker/internal/jsengine"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	Module bool
}

// ValidationResult is the JSON output of the validate command.
type ValidationResult struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a script or module for syntax errors",
		Long: `Check a file for syntax errors without running it. Files ending in .mjs,
or any file with --module, are checked as ES modules.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Module, "module", false, "treat the file as an ES module")

	return cmd
}

func runValidate(cmd *cobra.Command, rootOpts *RootOptions, opts *ValidateOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return commandError(fmt.Errorf("read %s: %w", path, err))
	}

	var valid bool
	if opts.Module || filepath.Ext(path) == ".mjs" {
		valid, err = jsengine.ValidateModule(string(data))
	} else {
		valid, err = jsengine.Validate(string(data))
	}
	if err != nil {
		return failure("%s: %v", path, err)
	}

	out := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ValidationResult{File: path, Valid: valid}); err != nil {
			return err
		}
	} else if valid {
		fmt.Fprintf(out, "✓ %s is valid\n", path)
	} else {
		fmt.Fprintf(out, "✗ %s has syntax errors\n", path)
	}

	if !valid {
		return failure("%s: syntax check failed", path)
	}
	return nil
}
