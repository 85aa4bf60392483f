package worker

import (
	"errors"
	"fmt"
)

// ErrChannelClosed is wrapped by every ChannelError.
var ErrChannelClosed = errors.New("worker channel closed")

// ErrModuleNotFound is returned when a query names a handle the worker never issued.
var ErrModuleNotFound = errors.New("module not found")

// ErrNoMainModule is returned when a caller addresses the main module before
// one was loaded.
var ErrNoMainModule = errors.New("no main module loaded")

// ChannelError reports that the dispatcher end of the channel pair is gone,
// either because the worker was stopped or because its goroutine crashed.
type ChannelError struct {
	Op string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, ErrChannelClosed)
}

func (e *ChannelError) Unwrap() error {
	return ErrChannelClosed
}

// InitError reports that the engine could not be constructed. Err is the
// factory's error, or a *PanicError when the goroutine died before the
// handshake completed.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init worker: %v", e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a response whose tag does not match the operation.
type ProtocolError struct {
	Op   string
	Got  ResponseKind
	Want ResponseKind
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: unexpected %s response, want %s", e.Op, e.Got, e.Want)
}

// EngineError reports a failure inside the engine, including unknown handles
// and undecodable values.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// PanicError reports that the dispatcher goroutine terminated abnormally.
// Message holds the sanitized one-line summary; Stack is kept for logging
// and never included in Error.
type PanicError struct {
	Message string
	Stack   []byte
}

func (e *PanicError) Error() string {
	return "worker panic: " + e.Message
}

// engineError wraps err as an *EngineError for op unless it already is one.
func engineError(op string, err error) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Op: op, Err: err}
}
