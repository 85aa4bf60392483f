package jsengine

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"modernc.org/quickjs"

	"github.com/seantiz/jsworker/internal/worker"
)

//go:embed prelude.js
var prelude string

var _ worker.Engine = (*QuickJS)(nil)

type quickjsModule struct {
	id   worker.HandleID
	name string
}

func (m *quickjsModule) ID() worker.HandleID { return m.id }

// envelope is the JSON document every prelude call returns.
type envelope struct {
	OK    bool        `json:"ok"`
	Value string      `json:"value"`
	Error string      `json:"error"`
	Code  string      `json:"code"`
	Logs  [][2]string `json:"logs"`
}

// QuickJS is an Engine backed by modernc.org/quickjs. Every operation is a
// script evaluated against the prelude shim. Promise results, timers and
// host functions are not available.
type QuickJS struct {
	vm     *quickjs.VM
	opts   worker.Options
	logger *slog.Logger

	modules  map[string]*quickjsModule
	mainName string
	nextID   worker.HandleID

	// poisoned is set once the watchdog interrupted the VM.
	poisoned bool
}

// NewQuickJS builds a quickjs engine. It is a worker.Factory.
func NewQuickJS(opts worker.Options) (*QuickJS, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if len(opts.Functions) > 0 {
		return nil, fmt.Errorf("quickjs: host functions: %w", ErrUnsupported)
	}
	if opts.DefaultEntrypoint == "" {
		opts.DefaultEntrypoint = DefaultEntrypoint
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("quickjs: create vm: %w", err)
	}
	if _, err := vm.Eval(prelude, quickjs.EvalGlobal); err != nil {
		vm.Close()
		return nil, fmt.Errorf("quickjs: install prelude: %w", err)
	}

	return &QuickJS{
		vm:      vm,
		opts:    opts,
		logger:  logger.With("engine", "quickjs"),
		modules: make(map[string]*quickjsModule),
	}, nil
}

// invoke evaluates a prelude call under the watchdog and decodes its
// envelope.
func (q *QuickJS) invoke(script string) (worker.Value, error) {
	if q.poisoned {
		return nil, ErrEngineTimedOut
	}

	var (
		timedOut atomic.Bool
		watchdog *time.Timer
		fired    chan struct{}
	)
	if q.opts.Timeout > 0 {
		fired = make(chan struct{})
		watchdog = time.AfterFunc(q.opts.Timeout, func() {
			timedOut.Store(true)
			q.vm.Interrupt()
			close(fired)
		})
	}

	out, err := q.vm.Eval(script, quickjs.EvalGlobal)
	// The callback must not touch the VM once invoke returns.
	if watchdog != nil && !watchdog.Stop() {
		<-fired
	}
	if timedOut.Load() {
		q.poisoned = true
		q.logger.Warn("quickjs vm interrupted", "timeout", q.opts.Timeout.String())
		return nil, fmt.Errorf("%w after %s", ErrTimeout, q.opts.Timeout)
	}
	if err != nil {
		return nil, &ScriptError{Message: err.Error()}
	}

	raw, ok := out.(string)
	if !ok {
		return nil, fmt.Errorf("quickjs: unexpected result type %T", out)
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("quickjs: decode envelope: %w", err)
	}
	for _, l := range env.Logs {
		emitConsole(q.opts.Console, l[0], l[1])
	}
	if !env.OK {
		return nil, envelopeError(env)
	}
	return worker.Value(env.Value), nil
}

func envelopeError(env envelope) error {
	switch env.Code {
	case "":
		return &ScriptError{Message: env.Error}
	case "not_found":
		return fmt.Errorf("%s: %w", env.Error, ErrNotFound)
	case "not_function":
		return fmt.Errorf("%s: %w", env.Error, ErrNotFunction)
	case "no_entrypoint":
		return fmt.Errorf("%w: %s", ErrNoEntrypoint, env.Error)
	case "module_not_found":
		return worker.ErrModuleNotFound
	case "unsupported":
		return fmt.Errorf("%s: %w", env.Error, ErrUnsupported)
	default:
		return errors.New(env.Error)
	}
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// jsArgs renders args as a JavaScript array literal.
func jsArgs(args []worker.Value) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		if len(a) == 0 {
			parts[i] = "null"
			continue
		}
		if !json.Valid(a) {
			return "", fmt.Errorf("argument %d is not valid JSON", i)
		}
		parts[i] = string(a)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

// Eval evaluates code as a classic script in the global scope.
func (q *QuickJS) Eval(code string) (worker.Value, error) {
	return q.invoke("__jsworker__.eval(" + jsString(code) + ")")
}

// LoadMainModule loads m as the main module.
func (q *QuickJS) LoadMainModule(m worker.Module) (worker.ModuleHandle, error) {
	if q.mainName != "" {
		return nil, fmt.Errorf("%w: %s", ErrMainModuleLoaded, q.mainName)
	}
	mod, err := q.load(m, true)
	if err != nil {
		return nil, err
	}
	q.mainName = m.Name
	return mod, nil
}

// LoadModule loads m as a side module.
func (q *QuickJS) LoadModule(m worker.Module) (worker.ModuleHandle, error) {
	return q.load(m, false)
}

func (q *QuickJS) load(m worker.Module, main bool) (*quickjsModule, error) {
	if m.Name == "" {
		return nil, errors.New("module name is required")
	}
	if _, dup := q.modules[m.Name]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name)
	}
	src, err := TransformModule(m.Source)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", m.Name, err)
	}

	id := q.nextID + 1
	script := fmt.Sprintf("__jsworker__.define(%d, %s, %s, %s, %t)",
		uint64(id), jsString(m.Name), jsString(src), jsString(q.opts.DefaultEntrypoint), main)
	if _, err := q.invoke(script); err != nil {
		return nil, err
	}

	q.nextID = id
	mod := &quickjsModule{id: id, name: m.Name}
	q.modules[m.Name] = mod
	q.logger.Debug("module loaded", "module", m.Name, "handle", uint64(id))
	return mod, nil
}

func (q *QuickJS) handleID(h worker.ModuleHandle) (string, error) {
	if h == nil {
		return "0", nil
	}
	mod, ok := h.(*quickjsModule)
	if !ok || mod == nil {
		return "", worker.ErrModuleNotFound
	}
	return strconv.FormatUint(uint64(mod.id), 10), nil
}

// CallEntrypoint invokes the module's registered or default entrypoint.
func (q *QuickJS) CallEntrypoint(h worker.ModuleHandle, args []worker.Value) (worker.Value, error) {
	if h == nil {
		return nil, worker.ErrModuleNotFound
	}
	id, err := q.handleID(h)
	if err != nil {
		return nil, err
	}
	list, err := jsArgs(args)
	if err != nil {
		return nil, err
	}
	return q.invoke("__jsworker__.entry(" + id + ", " + list + ")")
}

// CallFunction calls an exported function, or a global one when h is nil.
func (q *QuickJS) CallFunction(h worker.ModuleHandle, name string, args []worker.Value) (worker.Value, error) {
	id, err := q.handleID(h)
	if err != nil {
		return nil, err
	}
	list, err := jsArgs(args)
	if err != nil {
		return nil, err
	}
	return q.invoke("__jsworker__.call(" + id + ", " + jsString(name) + ", " + list + ")")
}

// GetValue reads an export, or a global when h is nil.
func (q *QuickJS) GetValue(h worker.ModuleHandle, name string) (worker.Value, error) {
	id, err := q.handleID(h)
	if err != nil {
		return nil, err
	}
	return q.invoke("__jsworker__.get(" + id + ", " + jsString(name) + ")")
}

// Close releases the VM.
func (q *QuickJS) Close() error {
	return q.vm.Close()
}
