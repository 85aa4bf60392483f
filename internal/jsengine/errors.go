package jsengine

import "errors"

var (
	// ErrTimeout is returned when an operation exceeds the engine timeout.
	ErrTimeout = errors.New("execution timed out")

	// ErrEngineTimedOut is returned by every operation on an engine that was
	// interrupted and can no longer be trusted.
	ErrEngineTimedOut = errors.New("engine unusable after timeout")

	// ErrNoEntrypoint is returned by CallEntrypoint for a module that neither
	// registered an entrypoint nor exports the default one.
	ErrNoEntrypoint = errors.New("module has no entrypoint")

	// ErrMainModuleLoaded is returned when a second main module is loaded.
	ErrMainModuleLoaded = errors.New("main module already loaded")

	// ErrDuplicateModule is returned when a module name is loaded twice.
	ErrDuplicateModule = errors.New("module already loaded")

	// ErrNotFound is returned when a function or value does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotFunction is returned when CallFunction targets a non-function.
	ErrNotFunction = errors.New("not a function")

	// ErrPendingPromise is returned when a promise can never settle because
	// nothing is left that could resolve it.
	ErrPendingPromise = errors.New("promise still pending with no scheduled work")

	// ErrUnsupported is returned for features an engine does not provide.
	ErrUnsupported = errors.New("unsupported by engine")
)

// ScriptError is a JavaScript exception raised while running user code.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return e.Message
}
