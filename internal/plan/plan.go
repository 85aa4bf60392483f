// Package plan loads YAML plans of worker operations and runs them against
// a blocking worker, producing a pass/fail report per step.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Step actions.
const (
	ActionEval           = "eval"
	ActionLoadModule     = "load_module"
	ActionLoadMainModule = "load_main_module"
	ActionCallEntrypoint = "call_entrypoint"
	ActionCallFunction   = "call_function"
	ActionGetValue       = "get_value"
)

// Plan is a named sequence of worker operations.
type Plan struct {
	// Name identifies the plan in reports.
	Name string `yaml:"name"`

	// Engine names a registered engine. Empty selects the registry default.
	Engine string `yaml:"engine,omitempty"`

	// Entrypoint overrides the export used by call_entrypoint when a module
	// registers none.
	Entrypoint string `yaml:"entrypoint,omitempty"`

	// Timeout bounds each step. Zero means no limit.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	Steps []Step `yaml:"steps"`
}

// ModuleSource is an inline module.
type ModuleSource struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

// Step is one operation plus its expectation.
type Step struct {
	// ID names the step so that later steps can refer to a loaded module.
	ID string `yaml:"id,omitempty"`

	Action string `yaml:"action"`

	Code       string        `yaml:"code,omitempty"`
	Module     *ModuleSource `yaml:"module,omitempty"`
	ModuleFile string        `yaml:"module_file,omitempty"`

	// Handle is the ID of an earlier load step. Empty targets the global
	// scope, or the main module for call_entrypoint.
	Handle string `yaml:"handle,omitempty"`

	Name string `yaml:"name,omitempty"`
	Args []any  `yaml:"args,omitempty"`

	// Expect is compared with the result as JSON. A zero Kind means the
	// step has no expectation; an explicit null expects null.
	Expect yaml.Node `yaml:"expect,omitempty"`

	// ExpectError is a substring the step's error must contain.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Load reads, parses and validates a plan file. Relative module_file paths
// are resolved against the plan's directory.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	p, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range p.Steps {
		if f := p.Steps[i].ModuleFile; f != "" && !filepath.IsAbs(f) {
			p.Steps[i].ModuleFile = filepath.Join(base, f)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return p, nil
}

// Parse decodes a plan, rejecting unknown fields. It does not validate.
func Parse(r io.Reader) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &p, nil
}

// Validate checks the plan and the shape of every step.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	loads := make(map[string]bool)
	ids := make(map[string]bool)
	hasMain := false
	for i := range p.Steps {
		s := &p.Steps[i]
		if err := s.validate(loads, hasMain); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if s.ID != "" {
			if ids[s.ID] {
				return fmt.Errorf("steps[%d]: duplicate id %q", i, s.ID)
			}
			ids[s.ID] = true
			if s.isLoad() {
				loads[s.ID] = true
			}
		}
		if s.Action == ActionLoadMainModule {
			if hasMain {
				return fmt.Errorf("steps[%d]: only one load_main_module step is allowed", i)
			}
			hasMain = true
		}
	}
	return nil
}

func (s *Step) hasExpect() bool {
	return s.Expect.Kind != 0
}

func (s *Step) isLoad() bool {
	return s.Action == ActionLoadModule || s.Action == ActionLoadMainModule
}

// fields lists the operation fields set on the step.
func (s *Step) fields() []string {
	var set []string
	if s.Code != "" {
		set = append(set, "code")
	}
	if s.Module != nil {
		set = append(set, "module")
	}
	if s.ModuleFile != "" {
		set = append(set, "module_file")
	}
	if s.Handle != "" {
		set = append(set, "handle")
	}
	if s.Name != "" {
		set = append(set, "name")
	}
	if s.Args != nil {
		set = append(set, "args")
	}
	return set
}

var allowedFields = map[string]map[string]bool{
	ActionEval:           {"code": true},
	ActionLoadModule:     {"module": true, "module_file": true},
	ActionLoadMainModule: {"module": true, "module_file": true},
	ActionCallEntrypoint: {"handle": true, "args": true},
	ActionCallFunction:   {"handle": true, "name": true, "args": true},
	ActionGetValue:       {"handle": true, "name": true},
}

func (s *Step) validate(loads map[string]bool, hasMain bool) error {
	if s.Action == "" {
		return fmt.Errorf("action is required")
	}
	allowed, ok := allowedFields[s.Action]
	if !ok {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	for _, f := range s.fields() {
		if !allowed[f] {
			return fmt.Errorf("%s is not valid for %s", f, s.Action)
		}
	}
	if s.hasExpect() && s.ExpectError != "" {
		return fmt.Errorf("expect and expect_error are mutually exclusive")
	}

	switch s.Action {
	case ActionEval:
		if s.Code == "" {
			return fmt.Errorf("code is required for eval")
		}
	case ActionLoadModule, ActionLoadMainModule:
		if (s.Module == nil) == (s.ModuleFile == "") {
			return fmt.Errorf("exactly one of module and module_file is required for %s", s.Action)
		}
		if s.Module != nil && s.Module.Name == "" {
			return fmt.Errorf("module.name is required")
		}
	case ActionCallEntrypoint:
		if s.Handle == "" && !hasMain {
			return fmt.Errorf("handle is required for call_entrypoint without a main module")
		}
	case ActionCallFunction, ActionGetValue:
		if s.Name == "" {
			return fmt.Errorf("name is required for %s", s.Action)
		}
	}

	if s.Handle != "" && !loads[s.Handle] {
		return fmt.Errorf("handle %q does not name an earlier load step", s.Handle)
	}
	return nil
}
