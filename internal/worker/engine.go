package worker

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Value is an opaque serialized payload. The worker never inspects it.
type Value = json.RawMessage

// HandleID identifies a module loaded into one worker's engine.
type HandleID uint64

// Global is the handle used by CallFunction and GetValue to address the
// engine's global scope instead of a loaded module. Engines never mint it.
const Global HandleID = 0

// Module is a module descriptor: a name and its source text.
type Module struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source" yaml:"source"`
}

// ModuleHandle is an engine-owned module context.
type ModuleHandle interface {
	ID() HandleID
}

// Engine is the capability set a hosted engine must provide. Implementations
// are only ever called from the dispatcher goroutine and need no locking.
type Engine interface {
	// Eval evaluates code in the global scope and returns its completion value.
	Eval(code string) (Value, error)

	// LoadMainModule loads m as the engine's main module.
	LoadMainModule(m Module) (ModuleHandle, error)

	// LoadModule loads m as a side module.
	LoadModule(m Module) (ModuleHandle, error)

	// CallEntrypoint invokes the entrypoint of the module behind h.
	CallEntrypoint(h ModuleHandle, args []Value) (Value, error)

	// CallFunction invokes the named function. A nil handle addresses the
	// global scope.
	CallFunction(h ModuleHandle, name string, args []Value) (Value, error)

	// GetValue reads the named value. A nil handle addresses the global scope.
	GetValue(h ModuleHandle, name string) (Value, error)

	// Close releases the engine. It runs on the dispatcher goroutine when the
	// loop exits.
	Close() error
}

// EventLoop is implemented by engines that have work to run between queries,
// such as expired timers. The cooperative dispatcher selects on Wake and calls
// RunPending whenever it fires.
type EventLoop interface {
	Wake() <-chan struct{}
	RunPending() error
}

// ConsoleFunc receives console output produced by the engine.
type ConsoleFunc func(level, line string)

// Callback is a host function exposed to the engine. Arguments and the result
// are JSON values.
type Callback func(args []Value) (Value, error)

// Options configures engine construction and the worker's channels.
type Options struct {
	// DefaultEntrypoint names the export used by CallEntrypoint when a module
	// does not register one explicitly.
	DefaultEntrypoint string

	// Timeout bounds engine-internal execution of a single operation. It is
	// not a channel round-trip timeout.
	Timeout time.Duration

	// QueueSize is the buffer size of the query and response channels.
	QueueSize int

	Console   ConsoleFunc
	Functions map[string]Callback
	Logger    *slog.Logger
}

// DefaultQueueSize is used when Options.QueueSize is zero.
const DefaultQueueSize = 64

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Factory constructs an engine. It runs on the dispatcher goroutine.
type Factory[E Engine] func(opts Options) (E, error)
