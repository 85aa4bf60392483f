package worker

import (
	"encoding/json"
	"fmt"
)

// As decodes the result of a worker call into T. It is meant to wrap a call
// directly:
//
//	n, err := worker.As[int](w.Eval("3 + 2"))
//
// A call error is returned unchanged; a decode failure is an *EngineError.
func As[T any](v Value, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if len(v) == 0 {
		v = Value("null")
	}
	if err := json.Unmarshal(v, &out); err != nil {
		return out, &EngineError{Op: "decode", Err: err}
	}
	return out, nil
}

// Args encodes each argument as a JSON value, in order.
func Args(args ...any) ([]Value, error) {
	out := make([]Value, 0, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// MustArgs is like Args but panics on an unencodable argument. It is intended
// for literal argument lists.
func MustArgs(args ...any) []Value {
	out, err := Args(args...)
	if err != nil {
		panic(err)
	}
	return out
}
