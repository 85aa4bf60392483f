package jsengine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dop251/goja"

	"github.com/seantiz/jsworker/internal/worker"
)

// Evaluate runs code on a short-lived goja worker and decodes the result
// into T.
func Evaluate[T any](code string) (T, error) {
	var zero T
	w, err := worker.New(NewGoja, worker.Options{
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		return zero, err
	}

	out, evalErr := worker.As[T](w.Eval(code))
	if err := w.Stop(); err != nil && evalErr == nil {
		return zero, err
	}
	return out, evalErr
}

// Validate reports whether code parses as a classic script. A syntax error
// yields false and no error.
func Validate(code string) (bool, error) {
	if _, err := goja.Compile("validate", code, false); err != nil {
		return false, nil
	}
	return true, nil
}

// ValidateModule reports whether source parses as a module. Module syntax
// the transform does not support is returned as an error.
func ValidateModule(source string) (bool, error) {
	src, err := TransformModule(source)
	if err != nil {
		return false, err
	}
	return Validate(src)
}

// Import reads a module file from disk. The module is named after the file.
func Import(path string) (worker.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return worker.Module{}, fmt.Errorf("import module: %w", err)
	}
	return worker.Module{Name: filepath.Base(path), Source: string(data)}, nil
}
