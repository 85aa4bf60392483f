package jsengine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/seantiz/jsworker/internal/worker"
)

// DefaultEntrypoint is the export CallEntrypoint falls back to when
// Options.DefaultEntrypoint is empty and the module registered nothing.
const DefaultEntrypoint = "load"

var (
	_ worker.Engine    = (*Goja)(nil)
	_ worker.EventLoop = (*Goja)(nil)
)

type gojaModule struct {
	id         worker.HandleID
	name       string
	exports    *goja.Object
	entrypoint goja.Callable
}

func (m *gojaModule) ID() worker.HandleID { return m.id }

// Goja is an Engine backed by github.com/dop251/goja. It provides console
// output, timers, promise results, host functions and interrupt-based
// timeouts.
type Goja struct {
	rt     *goja.Runtime
	opts   worker.Options
	logger *slog.Logger

	stringify goja.Callable
	parse     goja.Callable

	timers  *timerQueue
	modules map[string]*gojaModule
	main    *gojaModule
	nextID  worker.HandleID

	// registered holds the function passed to registerEntrypoint while a
	// module is loading.
	registered goja.Callable
}

// NewGoja builds a goja engine. It is a worker.Factory.
func NewGoja(opts worker.Options) (*Goja, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if opts.DefaultEntrypoint == "" {
		opts.DefaultEntrypoint = DefaultEntrypoint
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Goja{
		rt:      goja.New(),
		opts:    opts,
		logger:  logger.With("engine", "goja"),
		timers:  newTimerQueue(),
		modules: make(map[string]*gojaModule),
	}

	jsonObj := g.rt.Get("JSON").ToObject(g.rt)
	var ok bool
	if g.stringify, ok = goja.AssertFunction(jsonObj.Get("stringify")); !ok {
		return nil, errors.New("goja: JSON.stringify unavailable")
	}
	if g.parse, ok = goja.AssertFunction(jsonObj.Get("parse")); !ok {
		return nil, errors.New("goja: JSON.parse unavailable")
	}

	if err := g.installGlobals(); err != nil {
		return nil, fmt.Errorf("goja: install globals: %w", err)
	}
	return g, nil
}

func (g *Goja) installGlobals() error {
	console := g.rt.NewObject()
	for _, level := range consoleLevels {
		if err := console.Set(level, g.consoleFunc(level)); err != nil {
			return err
		}
	}
	if err := g.rt.Set("console", console); err != nil {
		return err
	}

	if err := g.rt.Set("registerEntrypoint", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(g.rt.NewTypeError("registerEntrypoint expects a function"))
		}
		g.registered = fn
		return goja.Undefined()
	}); err != nil {
		return err
	}

	timerFuncs := map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    g.setTimer(false),
		"setInterval":   g.setTimer(true),
		"clearTimeout":  g.clearTimer,
		"clearInterval": g.clearTimer,
	}
	for name, fn := range timerFuncs {
		if err := g.rt.Set(name, fn); err != nil {
			return err
		}
	}

	for name, cb := range g.opts.Functions {
		if err := g.rt.Set(name, g.hostFunc(name, cb)); err != nil {
			return err
		}
	}
	return nil
}

func (g *Goja) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = g.format(arg)
		}
		emitConsole(g.opts.Console, level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// format renders a console argument: strings verbatim, everything else as
// JSON when possible.
func (g *Goja) format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if s, ok := v.Export().(string); ok {
		return s
	}
	out, err := g.stringify(goja.Undefined(), v)
	if err != nil || goja.IsUndefined(out) {
		return v.String()
	}
	return out.String()
}

func (g *Goja) setTimer(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(g.rt.NewTypeError("timer callback must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}
		return g.rt.ToValue(g.timers.schedule(fn, delay, repeat, args))
	}
}

func (g *Goja) clearTimer(call goja.FunctionCall) goja.Value {
	g.timers.clear(call.Argument(0).ToInteger())
	return goja.Undefined()
}

func (g *Goja) hostFunc(name string, cb worker.Callback) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]worker.Value, len(call.Arguments))
		for i, arg := range call.Arguments {
			v, err := g.encode(arg)
			if err != nil {
				panic(g.rt.NewGoError(fmt.Errorf("%s: argument %d: %w", name, i, err)))
			}
			args[i] = v
		}
		out, err := cb(args)
		if err != nil {
			panic(g.rt.NewGoError(fmt.Errorf("%s: %w", name, err)))
		}
		v, err := g.decode(out)
		if err != nil {
			panic(g.rt.NewGoError(fmt.Errorf("%s: result: %w", name, err)))
		}
		return v
	}
}

// exec runs fn under the engine timeout and waits for a promise result to
// settle, pumping timers while it is pending.
func (g *Goja) exec(fn func() (goja.Value, error)) (goja.Value, error) {
	var (
		deadline time.Time
		watchdog *time.Timer
		fired    chan struct{}
	)
	if g.opts.Timeout > 0 {
		deadline = time.Now().Add(g.opts.Timeout)
		fired = make(chan struct{})
		watchdog = time.AfterFunc(g.opts.Timeout, func() {
			g.rt.Interrupt(ErrTimeout)
			close(fired)
		})
	}

	v, err := fn()
	if err == nil {
		v, err = g.settle(v, deadline)
	}

	if watchdog != nil && !watchdog.Stop() {
		<-fired
	}
	g.rt.ClearInterrupt()

	if err != nil {
		return nil, g.convertError(err)
	}
	return v, nil
}

// settle unwraps a promise result, running due timers until it settles.
func (g *Goja) settle(v goja.Value, deadline time.Time) (goja.Value, error) {
	if v == nil {
		return v, nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}

	for p.State() == goja.PromiseStatePending {
		if !g.timers.waitNext(deadline) {
			if g.timers.pending() == 0 {
				return nil, ErrPendingPromise
			}
			return nil, ErrTimeout
		}
		if err := g.timers.runDue(); err != nil {
			return nil, err
		}
	}

	if p.State() == goja.PromiseStateRejected {
		return nil, &ScriptError{Message: "uncaught (in promise) " + p.Result().String()}
	}
	return p.Result(), nil
}

func (g *Goja) convertError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w after %s", ErrTimeout, g.opts.Timeout)
	}
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w after %s", ErrTimeout, g.opts.Timeout)
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &ScriptError{Message: ex.Error()}
	}
	return err
}

func (g *Goja) encode(v goja.Value) (worker.Value, error) {
	if v == nil || goja.IsUndefined(v) {
		return worker.Value("null"), nil
	}
	out, err := g.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, g.convertError(err)
	}
	if goja.IsUndefined(out) {
		return worker.Value("null"), nil
	}
	return worker.Value(out.String()), nil
}

func (g *Goja) decode(v worker.Value) (goja.Value, error) {
	if len(v) == 0 {
		return goja.Undefined(), nil
	}
	out, err := g.parse(goja.Undefined(), g.rt.ToValue(string(v)))
	if err != nil {
		return nil, g.convertError(err)
	}
	return out, nil
}

func (g *Goja) decodeArgs(args []worker.Value) ([]goja.Value, error) {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		v, err := g.decode(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Eval evaluates code as a classic script in the global scope.
func (g *Goja) Eval(code string) (worker.Value, error) {
	v, err := g.exec(func() (goja.Value, error) {
		return g.rt.RunString(code)
	})
	if err != nil {
		return nil, err
	}
	return g.encode(v)
}

// LoadMainModule loads m as the main module.
func (g *Goja) LoadMainModule(m worker.Module) (worker.ModuleHandle, error) {
	if g.main != nil {
		return nil, fmt.Errorf("%w: %s", ErrMainModuleLoaded, g.main.name)
	}
	mod, err := g.load(m)
	if err != nil {
		return nil, err
	}
	g.main = mod
	return mod, nil
}

// LoadModule loads m as a side module.
func (g *Goja) LoadModule(m worker.Module) (worker.ModuleHandle, error) {
	return g.load(m)
}

func (g *Goja) load(m worker.Module) (*gojaModule, error) {
	if m.Name == "" {
		return nil, errors.New("module name is required")
	}
	if _, dup := g.modules[m.Name]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name)
	}

	src, err := TransformModule(m.Source)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", m.Name, err)
	}
	prog, err := goja.Compile(m.Name, src, false)
	if err != nil {
		return nil, &ScriptError{Message: err.Error()}
	}

	g.registered = nil
	defer func() { g.registered = nil }()

	v, err := g.exec(func() (goja.Value, error) {
		factory, err := g.rt.RunProgram(prog)
		if err != nil {
			return nil, err
		}
		fn, ok := goja.AssertFunction(factory)
		if !ok {
			return nil, fmt.Errorf("module %s did not compile to a factory", m.Name)
		}
		return fn(goja.Undefined(), g.rt.ToValue(g.require))
	})
	if err != nil {
		return nil, err
	}

	g.nextID++
	mod := &gojaModule{
		id:         g.nextID,
		name:       m.Name,
		exports:    v.ToObject(g.rt),
		entrypoint: g.registered,
	}
	if mod.entrypoint == nil {
		if fn, ok := goja.AssertFunction(mod.exports.Get(g.opts.DefaultEntrypoint)); ok {
			mod.entrypoint = fn
		}
	}
	g.modules[m.Name] = mod
	g.logger.Debug("module loaded", "module", m.Name, "handle", uint64(mod.id))
	return mod, nil
}

func (g *Goja) require(call goja.FunctionCall) goja.Value {
	spec := normalizeSpecifier(call.Argument(0).String())
	mod, ok := g.modules[spec]
	if !ok {
		panic(g.rt.NewTypeError(fmt.Sprintf("module %q is not loaded", spec)))
	}
	return mod.exports
}

func (g *Goja) module(h worker.ModuleHandle) (*gojaModule, error) {
	mod, ok := h.(*gojaModule)
	if !ok || mod == nil {
		return nil, worker.ErrModuleNotFound
	}
	return mod, nil
}

// CallEntrypoint invokes the module's registered or default entrypoint.
func (g *Goja) CallEntrypoint(h worker.ModuleHandle, args []worker.Value) (worker.Value, error) {
	mod, err := g.module(h)
	if err != nil {
		return nil, err
	}
	if mod.entrypoint == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEntrypoint, mod.name)
	}
	return g.call(mod.entrypoint, mod.exports, args)
}

// CallFunction calls an exported function, or a global one when h is nil.
func (g *Goja) CallFunction(h worker.ModuleHandle, name string, args []worker.Value) (worker.Value, error) {
	target, this, err := g.lookup(h, name)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(target)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFunction)
	}
	return g.call(fn, this, args)
}

// GetValue reads an export, or a global when h is nil.
func (g *Goja) GetValue(h worker.ModuleHandle, name string) (worker.Value, error) {
	v, _, err := g.lookup(h, name)
	if err != nil {
		return nil, err
	}
	v, err = g.exec(func() (goja.Value, error) { return v, nil })
	if err != nil {
		return nil, err
	}
	return g.encode(v)
}

func (g *Goja) call(fn goja.Callable, this goja.Value, args []worker.Value) (worker.Value, error) {
	jsArgs, err := g.decodeArgs(args)
	if err != nil {
		return nil, err
	}
	v, err := g.exec(func() (goja.Value, error) {
		return fn(this, jsArgs...)
	})
	if err != nil {
		return nil, err
	}
	return g.encode(v)
}

// lookup resolves name in a module's exports, or in the global scope
// followed by the main module's exports when h is nil.
func (g *Goja) lookup(h worker.ModuleHandle, name string) (goja.Value, goja.Value, error) {
	if h != nil {
		mod, err := g.module(h)
		if err != nil {
			return nil, nil, err
		}
		if v := mod.exports.Get(name); v != nil {
			return v, mod.exports, nil
		}
		return nil, nil, fmt.Errorf("%s: %w in module %s", name, ErrNotFound, mod.name)
	}

	global := g.rt.GlobalObject()
	if v := global.Get(name); v != nil && !goja.IsUndefined(v) {
		return v, global, nil
	}
	if g.main != nil {
		if v := g.main.exports.Get(name); v != nil {
			return v, g.main.exports, nil
		}
	}
	return nil, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Wake signals that a timer expired.
func (g *Goja) Wake() <-chan struct{} {
	return g.timers.wake
}

// RunPending runs expired timer callbacks under the engine timeout.
func (g *Goja) RunPending() error {
	_, err := g.exec(func() (goja.Value, error) {
		return goja.Undefined(), g.timers.runDue()
	})
	return err
}

// Close stops all timers.
func (g *Goja) Close() error {
	g.timers.stopAll()
	return nil
}
