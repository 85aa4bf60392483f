package worker

import (
	"fmt"
	"log/slog"
	"time"
)

type dispatchState int

const (
	stateRunning dispatchState = iota
	stateStopping
	stateStopped
)

// dispatcher executes queries against the engine it owns. It lives entirely
// on the worker goroutine; nothing here is shared.
type dispatcher[E Engine] struct {
	engine  E
	handles map[HandleID]ModuleHandle
	state   dispatchState
	logger  *slog.Logger
}

func newDispatcher[E Engine](engine E, logger *slog.Logger) *dispatcher[E] {
	return &dispatcher[E]{
		engine:  engine,
		handles: make(map[HandleID]ModuleHandle),
		state:   stateRunning,
		logger:  logger,
	}
}

// run consumes queries until Stop or until the query channel closes. A nil
// wake channel is never selected, which is how the blocking adapter runs
// without an event loop.
func (d *dispatcher[E]) run(queries <-chan Query, responses chan<- Response, loop EventLoop) {
	var wake <-chan struct{}
	if loop != nil {
		wake = loop.Wake()
	}

	for d.state == stateRunning {
		select {
		case q, ok := <-queries:
			if !ok {
				d.logger.Debug("query channel closed")
				d.state = stateStopped
				continue
			}
			responses <- d.handle(q)
			if d.state == stateStopping {
				d.state = stateStopped
			}
		case <-wake:
			if err := loop.RunPending(); err != nil {
				d.logger.Warn("event loop task failed", "error", err)
			}
		}
	}
}

// handle executes one query and returns its single response.
func (d *dispatcher[E]) handle(q Query) Response {
	start := time.Now()
	r := d.execute(q)
	elapsed := time.Since(start)
	observeQuery(q.Kind, r, elapsed.Seconds())

	if r.Kind == ResponseError {
		d.logger.Debug("query failed", "query", q.Kind.String(), "duration_ms", elapsed.Milliseconds(), "error", r.Err)
	} else {
		d.logger.Debug("query done", "query", q.Kind.String(), "duration_ms", elapsed.Milliseconds())
	}
	return r
}

func (d *dispatcher[E]) execute(q Query) Response {
	op := q.Kind.String()

	switch q.Kind {
	case QueryStop:
		d.state = stateStopping
		return Response{Kind: ResponseAck}

	case QueryEval:
		v, err := d.engine.Eval(q.Code)
		return d.valueResult(op, v, err)

	case QueryLoadMainModule:
		h, err := d.engine.LoadMainModule(q.Module)
		return d.register(op, h, err)

	case QueryLoadModule:
		h, err := d.engine.LoadModule(q.Module)
		return d.register(op, h, err)

	case QueryCallEntrypoint:
		h, ok := d.handles[q.Handle]
		if !ok {
			return errorResponse(&EngineError{Op: op, Err: ErrModuleNotFound})
		}
		v, err := d.engine.CallEntrypoint(h, q.Args)
		return d.valueResult(op, v, err)

	case QueryCallFunction:
		h, err := d.lookup(q.Handle)
		if err != nil {
			return errorResponse(&EngineError{Op: op, Err: err})
		}
		v, err := d.engine.CallFunction(h, q.Name, q.Args)
		return d.valueResult(op, v, err)

	case QueryGetValue:
		h, err := d.lookup(q.Handle)
		if err != nil {
			return errorResponse(&EngineError{Op: op, Err: err})
		}
		v, err := d.engine.GetValue(h, q.Name)
		return d.valueResult(op, v, err)

	default:
		return errorResponse(&EngineError{Op: op, Err: fmt.Errorf("unsupported query kind %d", int(q.Kind))})
	}
}

// lookup resolves an optional handle. Global maps to a nil ModuleHandle.
func (d *dispatcher[E]) lookup(id HandleID) (ModuleHandle, error) {
	if id == Global {
		return nil, nil
	}
	h, ok := d.handles[id]
	if !ok {
		return nil, ErrModuleNotFound
	}
	return h, nil
}

func (d *dispatcher[E]) valueResult(op string, v Value, err error) Response {
	if err != nil {
		return errorResponse(engineError(op, err))
	}
	return valueResponse(v)
}

// register records a freshly loaded module in the handle table.
func (d *dispatcher[E]) register(op string, h ModuleHandle, err error) Response {
	if err != nil {
		return errorResponse(engineError(op, err))
	}
	if h == nil {
		return errorResponse(&EngineError{Op: op, Err: fmt.Errorf("engine returned no module handle")})
	}
	id := h.ID()
	if id == Global {
		return errorResponse(&EngineError{Op: op, Err: fmt.Errorf("engine issued reserved handle id %d", id)})
	}
	if _, dup := d.handles[id]; dup {
		return errorResponse(&EngineError{Op: op, Err: fmt.Errorf("engine reissued handle id %d", id)})
	}
	d.handles[id] = h
	return handleResponse(id)
}
