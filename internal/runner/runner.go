package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/jsworker/internal/model"
	"github.com/seantiz/jsworker/internal/store"
	"github.com/seantiz/jsworker/internal/worker"
)

// ErrNoMainModule is returned when an operation addresses the main module
// before one was loaded.
var ErrNoMainModule = worker.ErrNoMainModule

// MainModule is the module id alias that addresses the main module.
const MainModule = "main"

// Runner owns one cooperative worker and records every operation issued
// through it. Operations are serialized so console output is attributed to
// the execution that produced it.
type Runner struct {
	store  store.Store
	worker *worker.AsyncWorker[worker.Engine]
	engine string
	logger *slog.Logger
	broker *ConsoleBroker

	// sem serializes operations; it is a channel so waiters honor ctx.
	sem chan struct{}

	mu      sync.Mutex
	handles map[string]worker.HandleID
	mainID  string
	capture *consoleCapture
}

// consoleCapture collects the console lines of the running execution.
type consoleCapture struct {
	executionID string
	lines       []ConsoleEvent
}

// New starts the worker and reloads every persisted module into it, the
// main module first, then the rest in creation order.
func New(ctx context.Context, s store.Store, factory worker.Factory[worker.Engine], engine string, opts worker.Options, logger *slog.Logger) (*Runner, error) {
	r := &Runner{
		store:   s,
		engine:  engine,
		logger:  logger,
		broker:  NewConsoleBroker(),
		sem:     make(chan struct{}, 1),
		handles: make(map[string]worker.HandleID),
	}

	opts.Console = r.console
	if opts.Logger == nil {
		opts.Logger = logger
	}
	w, err := worker.NewAsync(ctx, factory, opts)
	if err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	r.worker = w
	logger.Info("worker started", "worker_id", w.ID(), "engine", engine)

	if err := r.restore(ctx); err != nil {
		_ = w.Stop(context.Background())
		return nil, err
	}
	return r, nil
}

// Broker returns the runner's console broker for SSE subscription.
func (r *Runner) Broker() *ConsoleBroker {
	return r.broker
}

// Engine returns the name of the engine the worker hosts.
func (r *Runner) Engine() string {
	return r.engine
}

// WorkerID returns the id of the underlying worker.
func (r *Runner) WorkerID() string {
	return r.worker.ID()
}

// Close stops the worker.
func (r *Runner) Close(ctx context.Context) error {
	err := r.worker.Stop(ctx)
	r.logger.Info("worker stopped", "worker_id", r.worker.ID(), "error", err)
	return err
}

func (r *Runner) restore(ctx context.Context) error {
	modules, err := r.store.ListModules(ctx)
	if err != nil {
		return fmt.Errorf("list modules: %w", err)
	}

	// Creation order, so every import was loaded before its importer.
	for _, m := range modules {
		wm := worker.Module{Name: m.Name, Source: m.Source}
		var h worker.HandleID
		if m.Main {
			h, err = r.worker.LoadMainModule(ctx, wm)
		} else {
			h, err = r.worker.LoadModule(ctx, wm)
		}
		if err != nil {
			r.logger.Error("failed to restore module", "module_id", m.ID, "module", m.Name, "error", err)
			continue
		}
		r.bind(m, h)
		r.logger.Debug("module restored", "module_id", m.ID, "module", m.Name, "handle", uint64(h))
	}
	return nil
}

func (r *Runner) bind(m *model.Module, h worker.HandleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[m.ID] = h
	if m.Main {
		r.mainID = m.ID
	}
}

// console receives engine output on the worker goroutine.
func (r *Runner) console(level, line string) {
	r.mu.Lock()
	ev := ConsoleEvent{Level: level, Line: line}
	if c := r.capture; c != nil {
		ev.ExecutionID = c.executionID
		ev.Seq = len(c.lines)
		c.lines = append(c.lines, ev)
	}
	r.mu.Unlock()

	r.broker.Publish(ev)
}

// resolve maps a module id to its handle. An empty id is the global scope
// and MainModule is the main module.
func (r *Runner) resolve(moduleID string) (worker.HandleID, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch moduleID {
	case "":
		return worker.Global, "", nil
	case MainModule:
		if r.mainID == "" {
			return 0, "", ErrNoMainModule
		}
		return r.handles[r.mainID], r.mainID, nil
	}
	h, ok := r.handles[moduleID]
	if !ok {
		return 0, "", fmt.Errorf("module %s: %w", moduleID, store.ErrNotFound)
	}
	return h, moduleID, nil
}

func (r *Runner) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) unlock() {
	<-r.sem
}

// execute records exec and runs call as its body: pending, running, then
// completed or failed. A failed call returns both the failed execution and
// the error.
func (r *Runner) execute(ctx context.Context, exec *model.Execution, call func(ctx context.Context) (worker.Value, error)) (*model.Execution, error) {
	exec.ID = model.NewID()
	exec.Status = model.StatusPending
	exec.Engine = r.engine
	exec.CreatedAt = time.Now().UTC()

	if err := r.lock(ctx); err != nil {
		return nil, err
	}
	defer r.unlock()

	if err := r.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	defer r.broker.Close(exec.ID)

	if err := r.store.UpdateExecutionStatus(ctx, exec.ID, model.StatusRunning); err != nil {
		r.logger.Error("failed to transition to running", "execution_id", exec.ID, "error", err)
		r.finish(exec, nil, nil, fmt.Errorf("failed to start: %w", err))
		return exec, err
	}
	start := time.Now().UTC()

	r.mu.Lock()
	r.capture = &consoleCapture{executionID: exec.ID}
	r.mu.Unlock()

	value, callErr := call(ctx)

	r.mu.Lock()
	lines := r.capture.lines
	r.capture = nil
	r.mu.Unlock()

	for _, l := range lines {
		if err := r.store.InsertConsoleLine(context.Background(), exec.ID, l.Seq, l.Level, l.Line); err != nil {
			r.logger.Error("failed to persist console line", "execution_id", exec.ID, "seq", l.Seq, "error", err)
		}
	}

	r.finish(exec, &start, value, callErr)
	if callErr != nil {
		r.logger.Debug("execution failed", "execution_id", exec.ID, "kind", exec.Kind, "error", callErr)
		return exec, callErr
	}
	return exec, nil
}

// finish writes the terminal state of exec. startedAt is nil if the call
// never started.
func (r *Runner) finish(exec *model.Execution, startedAt *time.Time, value worker.Value, callErr error) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(now.Sub(*startedAt).Milliseconds())
	}

	exec.DurationMS = &durationMS
	exec.StartedAt = startedAt
	exec.FinishedAt = &now
	if callErr != nil {
		exec.Status = model.StatusFailed
		exec.Error = callErr.Error()
	} else {
		exec.Status = model.StatusCompleted
		exec.Result = json.RawMessage(value)
	}

	if err := r.store.UpdateExecution(context.Background(), exec); err != nil {
		r.logger.Error("failed to update execution", "execution_id", exec.ID, "status", exec.Status, "error", err)
	}
}

func encodeArgs(args []worker.Value) string {
	if len(args) == 0 {
		return "[]"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}

// Eval evaluates code in the worker's global scope.
func (r *Runner) Eval(ctx context.Context, code string) (*model.Execution, error) {
	exec := &model.Execution{Kind: model.KindEval, Input: code}
	return r.execute(ctx, exec, func(ctx context.Context) (worker.Value, error) {
		return r.worker.Eval(ctx, code)
	})
}

// LoadModule loads a module into the worker and persists it. The returned
// execution records the load.
func (r *Runner) LoadModule(ctx context.Context, name, source string, main bool) (*model.Module, *model.Execution, error) {
	m := &model.Module{
		ID:        model.NewID(),
		Name:      name,
		Source:    source,
		Main:      main,
		CreatedAt: time.Now().UTC(),
	}

	kind := model.KindLoadModule
	if main {
		kind = model.KindLoadMainModule
	}
	exec := &model.Execution{Kind: kind, ModuleID: m.ID, Target: name}

	exec, err := r.execute(ctx, exec, func(ctx context.Context) (worker.Value, error) {
		wm := worker.Module{Name: name, Source: source}
		var h worker.HandleID
		var err error
		if main {
			h, err = r.worker.LoadMainModule(ctx, wm)
		} else {
			h, err = r.worker.LoadModule(ctx, wm)
		}
		if err != nil {
			return nil, err
		}
		m.Handle = uint64(h)
		if err := r.store.CreateModule(ctx, m); err != nil {
			return nil, fmt.Errorf("persist module: %w", err)
		}
		r.bind(m, h)
		return json.Marshal(map[string]any{"module_id": m.ID, "handle": m.Handle})
	})
	if err != nil {
		return nil, exec, err
	}
	return m, exec, nil
}

// GetModule returns a module with its handle in the current worker.
func (r *Runner) GetModule(ctx context.Context, id string) (*model.Module, error) {
	m, err := r.store.GetModule(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	m.Handle = uint64(r.handles[id])
	r.mu.Unlock()
	return m, nil
}

// ListModules returns every persisted module in creation order.
func (r *Runner) ListModules(ctx context.Context) ([]*model.Module, error) {
	modules, err := r.store.ListModules(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range modules {
		m.Handle = uint64(r.handles[m.ID])
	}
	return modules, nil
}

// CallEntrypoint calls the entrypoint of a module. moduleID may be MainModule.
func (r *Runner) CallEntrypoint(ctx context.Context, moduleID string, args []worker.Value) (*model.Execution, error) {
	if moduleID == "" {
		moduleID = MainModule
	}
	h, resolved, err := r.resolve(moduleID)
	if err != nil {
		return nil, err
	}
	exec := &model.Execution{Kind: model.KindCallEntrypoint, ModuleID: resolved, Input: encodeArgs(args)}
	return r.execute(ctx, exec, func(ctx context.Context) (worker.Value, error) {
		return r.worker.CallEntrypoint(ctx, h, args)
	})
}

// CallFunction calls a function exported by a module, or a global function
// when moduleID is empty.
func (r *Runner) CallFunction(ctx context.Context, moduleID, name string, args []worker.Value) (*model.Execution, error) {
	h, resolved, err := r.resolve(moduleID)
	if err != nil {
		return nil, err
	}
	exec := &model.Execution{Kind: model.KindCallFunction, ModuleID: resolved, Target: name, Input: encodeArgs(args)}
	return r.execute(ctx, exec, func(ctx context.Context) (worker.Value, error) {
		return r.worker.CallFunction(ctx, h, name, args)
	})
}

// GetValue reads a value exported by a module, or a global value when
// moduleID is empty.
func (r *Runner) GetValue(ctx context.Context, moduleID, name string) (*model.Execution, error) {
	h, resolved, err := r.resolve(moduleID)
	if err != nil {
		return nil, err
	}
	exec := &model.Execution{Kind: model.KindGetValue, ModuleID: resolved, Target: name}
	return r.execute(ctx, exec, func(ctx context.Context) (worker.Value, error) {
		return r.worker.GetValue(ctx, h, name)
	})
}
