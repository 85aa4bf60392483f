package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteText renders the report for a terminal. The output contains no
// timing data, so it is stable across runs.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s (engine %s)\n", r.Plan, r.Engine)
	for _, s := range r.Steps {
		status := "PASS"
		if !s.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "%s %d %s", status, s.Index, s.Action)
		if s.Target != "" {
			fmt.Fprintf(&b, " %s", s.Target)
		}
		switch {
		case !s.Passed:
			fmt.Fprintf(&b, ": %s", s.Message)
		case len(s.Value) > 0:
			fmt.Fprintf(&b, " = %s", s.Value)
		}
		b.WriteByte('\n')
		for _, c := range s.Console {
			fmt.Fprintf(&b, "    %s: %s\n", c.Level, c.Line)
		}
	}

	verdict := "PASS"
	if !r.Passed {
		verdict = "FAIL"
	}
	fmt.Fprintf(&b, "%s %d/%d steps passed\n", verdict, r.PassedCount(), len(r.Steps))

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
