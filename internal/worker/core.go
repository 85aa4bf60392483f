package worker

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

type dispatchMode int

const (
	modeBlocking dispatchMode = iota
	modeCooperative
)

func (m dispatchMode) String() string {
	if m == modeCooperative {
		return "cooperative"
	}
	return "blocking"
}

// Core owns one dispatcher goroutine and its channel endpoints. Adapters
// layer their call conventions on top of it.
type Core[E Engine] struct {
	id      string
	timeout time.Duration
	logger  *slog.Logger

	queries   chan Query
	responses chan Response

	// done is closed when the dispatcher goroutine exits. exit is written
	// before that and only read after it.
	done chan struct{}
	exit *PanicError

	mu     sync.Mutex
	closed bool
}

// spawn starts the dispatcher goroutine and blocks until the engine handshake
// resolves. When ctx ends first the handshake is abandoned and the worker is
// stopped in the background as soon as it comes up.
func spawn[E Engine](ctx context.Context, factory Factory[E], opts Options, mode dispatchMode) (*Core[E], error) {
	opts = opts.withDefaults()
	id := uuid.NewString()
	c := &Core[E]{
		id:        id,
		timeout:   opts.Timeout,
		logger:    opts.Logger.With("worker_id", id),
		queries:   make(chan Query, opts.QueueSize),
		responses: make(chan Response, opts.QueueSize),
		done:      make(chan struct{}),
	}

	ready := make(chan error, 1)
	go c.run(factory, opts, mode, ready)

	var (
		initErr  error
		signaled bool
	)
	select {
	case initErr = <-ready:
		signaled = true
	case <-c.done:
		// The goroutine may have signaled and then died; prefer the signal.
		select {
		case initErr = <-ready:
			signaled = true
		default:
		}
	case <-ctx.Done():
		go c.abandon(ready)
		return nil, ctx.Err()
	}

	if !signaled {
		c.logger.Error("worker died before handshake", "error", c.exit.Message)
		return nil, &InitError{Err: c.exit}
	}
	if initErr != nil {
		<-c.done
		c.logger.Error("engine init failed", "error", initErr)
		return nil, &InitError{Err: initErr}
	}

	c.logger.Info("worker started", "mode", mode.String(), "timeout", c.timeout.String())
	return c, nil
}

// run is the body of the dispatcher goroutine.
func (c *Core[E]) run(factory Factory[E], opts Options, mode dispatchMode, ready chan<- error) {
	started := false
	defer close(c.done)
	defer close(c.responses)
	defer func() {
		if r := recover(); r != nil {
			fallback := runtimePanicMessage
			if !started {
				fallback = initPanicMessage
			}
			c.exit = newPanicError(r, debug.Stack(), fallback)
			workerPanics.Inc()
			c.logger.Error("worker panicked", "error", c.exit.Message, "stack", string(c.exit.Stack))
		}
	}()

	// The engine must never observe more than one OS thread. The goroutine
	// stays locked until it exits, which also terminates the thread.
	runtime.LockOSThread()

	engine, err := factory(opts)
	if err != nil {
		ready <- err
		return
	}
	defer func() {
		if err := engine.Close(); err != nil {
			c.logger.Warn("close engine", "error", err)
		}
	}()

	started = true
	ready <- nil

	activeWorkers.Inc()
	defer activeWorkers.Dec()

	var loop EventLoop
	if mode == modeCooperative {
		if el, ok := any(engine).(EventLoop); ok {
			loop = el
		}
	}

	newDispatcher(engine, c.logger).run(c.queries, c.responses, loop)
	c.logger.Debug("dispatcher exited")
}

// abandon finishes an abandoned handshake and stops the worker if the engine
// came up.
func (c *Core[E]) abandon(ready <-chan error) {
	select {
	case err := <-ready:
		if err == nil {
			_ = c.stop(context.Background())
			return
		}
	case <-c.done:
	}
	<-c.done
}

// ID returns the worker's unique identifier.
func (c *Core[E]) ID() string {
	return c.id
}

// Timeout returns the engine execution timeout the worker was created with.
func (c *Core[E]) Timeout() time.Duration {
	return c.timeout
}

// send enqueues q. It fails with a ChannelError once the worker is stopped
// or its goroutine has exited.
func (c *Core[E]) send(ctx context.Context, op string, q Query) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &ChannelError{Op: op}
	}
	select {
	case <-c.done:
		return &ChannelError{Op: op}
	default:
	}

	select {
	case c.queries <- q:
		return nil
	case <-c.done:
		return &ChannelError{Op: op}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recv waits for the next response.
func (c *Core[E]) recv(ctx context.Context, op string) (Response, error) {
	select {
	case r, ok := <-c.responses:
		if !ok {
			return Response{}, &ChannelError{Op: op}
		}
		return r, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// stop sends Stop, waits for the acknowledgement and joins the goroutine.
// Responses still queued ahead of the acknowledgement are discarded.
func (c *Core[E]) stop(ctx context.Context) error {
	const op = "stop"

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ChannelError{Op: op}
	}

	var sendErr error
	select {
	case <-c.done:
		sendErr = &ChannelError{Op: op}
	default:
		select {
		case c.queries <- Query{Kind: QueryStop}:
		case <-c.done:
			sendErr = &ChannelError{Op: op}
		case <-ctx.Done():
			c.mu.Unlock()
			return ctx.Err()
		}
	}
	c.closed = true
	close(c.queries)
	c.mu.Unlock()

	if sendErr == nil {
	drain:
		for {
			select {
			case r, ok := <-c.responses:
				if !ok || r.Kind == ResponseAck {
					break drain
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := c.join(ctx); err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}
	c.logger.Info("worker stopped")
	return nil
}

// join waits for the dispatcher goroutine to exit and reports a panic if it
// terminated abnormally.
func (c *Core[E]) join(ctx context.Context) error {
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.exit != nil {
		return c.exit
	}
	return nil
}
