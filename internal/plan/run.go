package plan

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/jsworker/internal/jsengine"
	"github.com/seantiz/jsworker/internal/worker"
)

// Report is the outcome of running a plan.
type Report struct {
	Plan   string       `json:"plan"`
	Engine string       `json:"engine"`
	Passed bool         `json:"passed"`
	Steps  []StepResult `json:"steps"`
}

// ConsoleLine is console output produced while a step ran.
type ConsoleLine struct {
	Level string `json:"level"`
	Line  string `json:"line"`
}

// StepResult is the outcome of one step. Index is 1-based.
type StepResult struct {
	Index   int             `json:"index"`
	ID      string          `json:"id,omitempty"`
	Action  string          `json:"action"`
	Target  string          `json:"target,omitempty"`
	Passed  bool            `json:"passed"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Console []ConsoleLine   `json:"console,omitempty"`
}

// PassedCount returns the number of steps that passed.
func (r *Report) PassedCount() int {
	n := 0
	for _, s := range r.Steps {
		if s.Passed {
			n++
		}
	}
	return n
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger handed to the worker.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// consoleBuffer collects console output between takes.
type consoleBuffer struct {
	mu    sync.Mutex
	lines []ConsoleLine
}

func (b *consoleBuffer) add(level, line string) {
	b.mu.Lock()
	b.lines = append(b.lines, ConsoleLine{Level: level, Line: line})
	b.mu.Unlock()
}

func (b *consoleBuffer) take() []ConsoleLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.lines
	b.lines = nil
	return lines
}

// run holds the state of one plan execution.
type run struct {
	w       *worker.Worker[worker.Engine]
	handles map[string]worker.HandleID
	main    worker.HandleID
	hasMain bool
}

// Run executes the plan on a fresh blocking worker built from the registry.
// Every step runs even after a failure; steps that depend on a failed load
// fail too. The returned error covers engine selection and worker startup
// only.
func Run(p *Plan, reg *jsengine.Registry, opts ...Option) (*Report, error) {
	cfg := runConfig{logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(&cfg)
	}

	engine := p.Engine
	if engine == "" {
		engine = reg.Default()
	}
	factory, err := reg.Resolve(engine)
	if err != nil {
		return nil, err
	}

	console := &consoleBuffer{}
	w, err := worker.New(factory, worker.Options{
		DefaultEntrypoint: p.Entrypoint,
		Timeout:           p.Timeout,
		Console:           console.add,
		Logger:            cfg.logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := w.Stop(); err != nil {
			cfg.logger.Warn("stop worker", "worker_id", w.ID(), "error", err)
		}
	}()

	r := &run{w: w, handles: make(map[string]worker.HandleID)}
	report := &Report{Plan: p.Name, Engine: engine, Passed: true}
	for i := range p.Steps {
		s := &p.Steps[i]
		res := StepResult{Index: i + 1, ID: s.ID, Action: s.Action, Target: target(s)}

		value, err := r.step(s)
		res.Console = console.take()
		check(&res, s, value, err)

		cfg.logger.Debug("plan step", "plan", p.Name, "index", res.Index, "action", s.Action, "passed", res.Passed)
		if !res.Passed {
			report.Passed = false
		}
		report.Steps = append(report.Steps, res)
	}
	return report, nil
}

func target(s *Step) string {
	switch s.Action {
	case ActionLoadModule, ActionLoadMainModule:
		if s.Module != nil {
			return s.Module.Name
		}
		return filepath.Base(s.ModuleFile)
	case ActionCallEntrypoint:
		if s.Handle == "" {
			return "main"
		}
		return s.Handle
	case ActionCallFunction, ActionGetValue:
		if s.Handle == "" {
			return s.Name
		}
		return s.Handle + "." + s.Name
	}
	return ""
}

func (r *run) step(s *Step) (worker.Value, error) {
	switch s.Action {
	case ActionEval:
		return r.w.Eval(s.Code)
	case ActionLoadModule, ActionLoadMainModule:
		return nil, r.load(s)
	case ActionCallEntrypoint:
		h, err := r.resolve(s.Handle, true)
		if err != nil {
			return nil, err
		}
		args, err := encodeArgs(s.Args)
		if err != nil {
			return nil, err
		}
		return r.w.CallEntrypoint(h, args)
	case ActionCallFunction:
		h, err := r.resolve(s.Handle, false)
		if err != nil {
			return nil, err
		}
		args, err := encodeArgs(s.Args)
		if err != nil {
			return nil, err
		}
		return r.w.CallFunction(h, s.Name, args)
	case ActionGetValue:
		h, err := r.resolve(s.Handle, false)
		if err != nil {
			return nil, err
		}
		return r.w.GetValue(h, s.Name)
	}
	return nil, fmt.Errorf("unknown action %q", s.Action)
}

func (r *run) load(s *Step) error {
	var m worker.Module
	if s.Module != nil {
		m = worker.Module{Name: s.Module.Name, Source: s.Module.Source}
	} else {
		var err error
		if m, err = jsengine.Import(s.ModuleFile); err != nil {
			return err
		}
	}

	var (
		h   worker.HandleID
		err error
	)
	if s.Action == ActionLoadMainModule {
		h, err = r.w.LoadMainModule(m)
	} else {
		h, err = r.w.LoadModule(m)
	}
	if err != nil {
		return err
	}

	if s.ID != "" {
		r.handles[s.ID] = h
	}
	if s.Action == ActionLoadMainModule {
		r.main = h
		r.hasMain = true
	}
	return nil
}

// resolve maps a step handle to a worker handle. An empty handle is the
// global scope, or the main module when entrypoint is set.
func (r *run) resolve(handle string, entrypoint bool) (worker.HandleID, error) {
	if handle == "" {
		if !entrypoint {
			return worker.Global, nil
		}
		if !r.hasMain {
			return 0, worker.ErrNoMainModule
		}
		return r.main, nil
	}
	h, ok := r.handles[handle]
	if !ok {
		return 0, fmt.Errorf("handle %q was not loaded", handle)
	}
	return h, nil
}

func encodeArgs(args []any) ([]worker.Value, error) {
	out := make([]worker.Value, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode args[%d]: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// check applies the step's expectation to its outcome.
func check(res *StepResult, s *Step, value worker.Value, err error) {
	if err != nil {
		res.Error = err.Error()
	}

	switch {
	case s.ExpectError != "":
		if err == nil {
			res.Message = fmt.Sprintf("expected error containing %q, got %s", s.ExpectError, describe(value))
			return
		}
		if !strings.Contains(err.Error(), s.ExpectError) {
			res.Message = fmt.Sprintf("expected error containing %q, got %q", s.ExpectError, err.Error())
			return
		}
	case err != nil:
		res.Message = err.Error()
		return
	case s.hasExpect():
		res.Value = json.RawMessage(value)
		want, ok, cmpErr := matches(&s.Expect, value)
		if cmpErr != nil {
			res.Message = cmpErr.Error()
			return
		}
		if !ok {
			res.Message = fmt.Sprintf("expected %s, got %s", want, describe(value))
			return
		}
	default:
		res.Value = json.RawMessage(value)
	}
	res.Passed = true
}

func describe(v worker.Value) string {
	if len(v) == 0 {
		return "no value"
	}
	return string(v)
}

// matches compares the expectation with value as decoded JSON. It returns
// the expectation's compact JSON form for messages.
func matches(expect *yaml.Node, value worker.Value) (string, bool, error) {
	var want any
	if err := expect.Decode(&want); err != nil {
		return "", false, fmt.Errorf("decode expect: %w", err)
	}
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return "", false, fmt.Errorf("encode expect: %w", err)
	}
	if len(value) == 0 {
		return string(wantJSON), false, nil
	}

	var a, b any
	if err := json.Unmarshal(wantJSON, &a); err != nil {
		return "", false, err
	}
	if err := json.Unmarshal(value, &b); err != nil {
		return string(wantJSON), false, nil
	}
	return string(wantJSON), reflect.DeepEqual(a, b), nil
}
