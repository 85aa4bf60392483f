package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

var errEvalFailed = errors.New("eval failed")

type fakeHandle struct {
	id   HandleID
	name string
}

func (h *fakeHandle) ID() HandleID { return h.id }

// fakeEngine is a scripted Engine. Eval echoes its code as a JSON string
// except for a few commands:
//
//	"fail"  returns errEvalFailed
//	"panic" panics with a message carrying a goroutine dump
//	"block" waits until release is closed
type fakeEngine struct {
	opts    Options
	nextID  HandleID
	fixedID HandleID
	main    *fakeHandle
	release chan struct{}
	wake    chan struct{}
	pumped  chan struct{}
	closed  atomic.Bool
}

func newFakeEngine(opts Options) *fakeEngine {
	return &fakeEngine{
		opts:    opts,
		release: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		pumped:  make(chan struct{}, 8),
	}
}

// fakeFactory returns a factory and a pointer that receives the engine it
// builds. The pointer is safe to read once New returns.
func fakeFactory() (Factory[*fakeEngine], **fakeEngine) {
	var built *fakeEngine
	return func(opts Options) (*fakeEngine, error) {
		built = newFakeEngine(opts)
		return built, nil
	}, &built
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{Logger: discardLogger(), QueueSize: 4}
}

func mustJSON(v any) Value {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func (f *fakeEngine) Eval(code string) (Value, error) {
	switch code {
	case "fail":
		return nil, errEvalFailed
	case "panic":
		panic("dispatcher exploded\ngoroutine 7 [running]:\nmain.main()")
	case "block":
		<-f.release
	}
	return mustJSON(code), nil
}

func (f *fakeEngine) mint(m Module) *fakeHandle {
	if f.fixedID != 0 {
		return &fakeHandle{id: f.fixedID, name: m.Name}
	}
	f.nextID++
	return &fakeHandle{id: f.nextID, name: m.Name}
}

func (f *fakeEngine) LoadMainModule(m Module) (ModuleHandle, error) {
	if f.main != nil {
		return nil, fmt.Errorf("main module already loaded: %s", f.main.name)
	}
	f.main = f.mint(m)
	return f.main, nil
}

func (f *fakeEngine) LoadModule(m Module) (ModuleHandle, error) {
	if strings.TrimSpace(m.Source) == "" {
		return nil, errors.New("empty module source")
	}
	return f.mint(m), nil
}

func (f *fakeEngine) CallEntrypoint(h ModuleHandle, args []Value) (Value, error) {
	return mustJSON(map[string]any{"module": h.(*fakeHandle).name, "args": len(args)}), nil
}

func (f *fakeEngine) CallFunction(h ModuleHandle, name string, args []Value) (Value, error) {
	module := ""
	if h != nil {
		module = h.(*fakeHandle).name
	}
	return mustJSON(map[string]any{"module": module, "function": name, "args": len(args)}), nil
}

func (f *fakeEngine) GetValue(h ModuleHandle, name string) (Value, error) {
	if h == nil {
		return mustJSON("global:" + name), nil
	}
	return mustJSON(h.(*fakeHandle).name + ":" + name), nil
}

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeEngine) Wake() <-chan struct{} { return f.wake }

func (f *fakeEngine) RunPending() error {
	f.pumped <- struct{}{}
	return nil
}
