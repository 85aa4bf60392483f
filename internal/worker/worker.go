package worker

import (
	"context"
	"sync"
	"time"
)

// Worker is the blocking adapter: every call blocks the calling goroutine
// until the paired response arrives. Calls from concurrent goroutines are
// serialized, so each caller receives its own response.
type Worker[E Engine] struct {
	core *Core[E]
	mu   sync.Mutex
}

// New starts a worker whose engine is built by factory and blocks until the
// engine is ready. Engine construction failures and early panics are returned
// as *InitError.
func New[E Engine](factory Factory[E], opts Options) (*Worker[E], error) {
	core, err := spawn(context.Background(), factory, opts, modeBlocking)
	if err != nil {
		return nil, err
	}
	return &Worker[E]{core: core}, nil
}

// ID returns the worker's unique identifier.
func (w *Worker[E]) ID() string {
	return w.core.ID()
}

// Timeout returns the configured engine execution timeout.
func (w *Worker[E]) Timeout() time.Duration {
	return w.core.Timeout()
}

// Stop terminates the worker and waits for its goroutine to exit. Every call
// made after Stop, including a second Stop, fails with a *ChannelError.
func (w *Worker[E]) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.core.stop(context.Background())
}

// Join waits for the worker goroutine to exit without asking it to stop.
func (w *Worker[E]) Join() error {
	return w.core.join(context.Background())
}

func (w *Worker[E]) roundTrip(q Query) (Response, error) {
	op := q.Kind.String()
	ctx := context.Background()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.core.send(ctx, op, q); err != nil {
		return Response{}, err
	}
	return w.core.recv(ctx, op)
}

func (w *Worker[E]) value(q Query) (Value, error) {
	r, err := w.roundTrip(q)
	if err != nil {
		return nil, err
	}
	return expectValue(q.Kind.String(), r)
}

func (w *Worker[E]) handle(q Query) (HandleID, error) {
	r, err := w.roundTrip(q)
	if err != nil {
		return 0, err
	}
	return expectHandle(q.Kind.String(), r)
}

// Eval evaluates code in the engine's global scope.
func (w *Worker[E]) Eval(code string) (Value, error) {
	return w.value(Query{Kind: QueryEval, Code: code})
}

// LoadMainModule loads m as the engine's main module.
func (w *Worker[E]) LoadMainModule(m Module) (HandleID, error) {
	return w.handle(Query{Kind: QueryLoadMainModule, Module: m})
}

// LoadModule loads m as a side module.
func (w *Worker[E]) LoadModule(m Module) (HandleID, error) {
	return w.handle(Query{Kind: QueryLoadModule, Module: m})
}

// CallEntrypoint calls the entrypoint of the module identified by h.
func (w *Worker[E]) CallEntrypoint(h HandleID, args []Value) (Value, error) {
	return w.value(Query{Kind: QueryCallEntrypoint, Handle: h, Args: args})
}

// CallFunction calls the named function in module h, or in the global scope
// when h is Global.
func (w *Worker[E]) CallFunction(h HandleID, name string, args []Value) (Value, error) {
	return w.value(Query{Kind: QueryCallFunction, Handle: h, Name: name, Args: args})
}

// GetValue reads the named value from module h, or from the global scope when
// h is Global.
func (w *Worker[E]) GetValue(h HandleID, name string) (Value, error) {
	return w.value(Query{Kind: QueryGetValue, Handle: h, Name: name})
}
