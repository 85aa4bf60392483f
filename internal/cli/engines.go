package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/jsworker/internal/jsengine"
)

// NewEnginesCommand creates the engines command.
func NewEnginesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the registered engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engines := rootOpts.registry.List()
			out := cmd.OutOrStdout()

			if rootOpts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(engines)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDEFAULT\tCAPABILITIES")
			for _, e := range engines {
				def := ""
				if e.Default {
					def = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, def, capabilityList(e.Capabilities))
			}
			return tw.Flush()
		},
	}
}

func capabilityList(c jsengine.Capabilities) string {
	var caps []string
	if c.Promises {
		caps = append(caps, "promises")
	}
	if c.Timers {
		caps = append(caps, "timers")
	}
	if c.HostFunctions {
		caps = append(caps, "host_functions")
	}
	if c.Modules {
		caps = append(caps, "modules")
	}
	if len(caps) == 0 {
		return "-"
	}
	return strings.Join(caps, ",")
}
