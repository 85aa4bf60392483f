package worker

import (
	"context"
	"sync/atomic"
	"time"
)

// AsyncWorker is the cooperative adapter. Calls take a context and the caller
// may stop waiting at any time; the engine still runs on the worker's own
// goroutine, inside an event loop that also services engine timers.
//
// Responses are paired with queries by position only. Exported calls hold a
// semaphore across the send and the await so that concurrent callers stay
// paired. A caller that gives up while awaiting leaves an orphaned response
// behind, which the next awaiter discards before reading its own.
type AsyncWorker[E Engine] struct {
	core    *Core[E]
	sem     chan struct{}
	orphans atomic.Int64
}

// NewAsync starts a cooperative worker. It returns when the engine handshake
// completes or ctx ends, whichever comes first.
func NewAsync[E Engine](ctx context.Context, factory Factory[E], opts Options) (*AsyncWorker[E], error) {
	core, err := spawn(ctx, factory, opts, modeCooperative)
	if err != nil {
		return nil, err
	}
	return &AsyncWorker[E]{core: core, sem: make(chan struct{}, 1)}, nil
}

// ID returns the worker's unique identifier.
func (w *AsyncWorker[E]) ID() string {
	return w.core.ID()
}

// Timeout returns the configured engine execution timeout.
func (w *AsyncWorker[E]) Timeout() time.Duration {
	return w.core.Timeout()
}

func (w *AsyncWorker[E]) lock(ctx context.Context) error {
	select {
	case w.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *AsyncWorker[E]) unlock() {
	<-w.sem
}

// Stop terminates the worker and waits for its goroutine to exit.
func (w *AsyncWorker[E]) Stop(ctx context.Context) error {
	if err := w.lock(ctx); err != nil {
		return err
	}
	defer w.unlock()
	return w.core.stop(ctx)
}

// Join waits for the worker goroutine to exit without asking it to stop.
func (w *AsyncWorker[E]) Join(ctx context.Context) error {
	return w.core.join(ctx)
}

// send enqueues q without taking the semaphore.
func (w *AsyncWorker[E]) send(ctx context.Context, q Query) error {
	return w.core.send(ctx, q.Kind.String(), q)
}

// await returns the next response in the stream, after discarding responses
// owed to callers that stopped waiting. It does not check that the response
// belongs to the caller.
func (w *AsyncWorker[E]) await(ctx context.Context, op string) (Response, error) {
	for {
		n := w.orphans.Load()
		if n == 0 {
			break
		}
		if _, err := w.core.recv(ctx, op); err != nil {
			if ctx.Err() != nil {
				w.orphans.Add(1)
			}
			return Response{}, err
		}
		w.orphans.Add(-1)
		orphanedResponses.Inc()
	}

	r, err := w.core.recv(ctx, op)
	if err != nil && ctx.Err() != nil {
		w.orphans.Add(1)
		w.core.logger.Debug("caller abandoned response", "query", op)
	}
	return r, err
}

func (w *AsyncWorker[E]) roundTrip(ctx context.Context, q Query) (Response, error) {
	if err := w.lock(ctx); err != nil {
		return Response{}, err
	}
	defer w.unlock()

	if err := w.send(ctx, q); err != nil {
		return Response{}, err
	}
	return w.await(ctx, q.Kind.String())
}

func (w *AsyncWorker[E]) value(ctx context.Context, q Query) (Value, error) {
	r, err := w.roundTrip(ctx, q)
	if err != nil {
		return nil, err
	}
	return expectValue(q.Kind.String(), r)
}

func (w *AsyncWorker[E]) handle(ctx context.Context, q Query) (HandleID, error) {
	r, err := w.roundTrip(ctx, q)
	if err != nil {
		return 0, err
	}
	return expectHandle(q.Kind.String(), r)
}

// Eval evaluates code in the engine's global scope.
func (w *AsyncWorker[E]) Eval(ctx context.Context, code string) (Value, error) {
	return w.value(ctx, Query{Kind: QueryEval, Code: code})
}

// LoadMainModule loads m as the engine's main module.
func (w *AsyncWorker[E]) LoadMainModule(ctx context.Context, m Module) (HandleID, error) {
	return w.handle(ctx, Query{Kind: QueryLoadMainModule, Module: m})
}

// LoadModule loads m as a side module.
func (w *AsyncWorker[E]) LoadModule(ctx context.Context, m Module) (HandleID, error) {
	return w.handle(ctx, Query{Kind: QueryLoadModule, Module: m})
}

// CallEntrypoint calls the entrypoint of the module identified by h.
func (w *AsyncWorker[E]) CallEntrypoint(ctx context.Context, h HandleID, args []Value) (Value, error) {
	return w.value(ctx, Query{Kind: QueryCallEntrypoint, Handle: h, Args: args})
}

// CallFunction calls the named function in module h, or in the global scope
// when h is Global.
func (w *AsyncWorker[E]) CallFunction(ctx context.Context, h HandleID, name string, args []Value) (Value, error) {
	return w.value(ctx, Query{Kind: QueryCallFunction, Handle: h, Name: name, Args: args})
}

// GetValue reads the named value from module h, or from the global scope when
// h is Global.
func (w *AsyncWorker[E]) GetValue(ctx context.Context, h HandleID, name string) (Value, error) {
	return w.value(ctx, Query{Kind: QueryGetValue, Handle: h, Name: name})
}
