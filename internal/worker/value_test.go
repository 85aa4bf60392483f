package worker

import (
	"errors"
	"testing"
)

func TestAsDecodes(t *testing.T) {
	n, err := As[int](Value("5"), nil)
	if err != nil || n != 5 {
		t.Errorf("As[int](5) = %d, %v", n, err)
	}

	type point struct{ X, Y int }
	p, err := As[point](Value(`{"X":1,"Y":2}`), nil)
	if err != nil || p != (point{1, 2}) {
		t.Errorf("As[point] = %+v, %v", p, err)
	}
}

func TestAsEmptyValueIsNull(t *testing.T) {
	v, err := As[*int](nil, nil)
	if err != nil {
		t.Fatalf("As(nil) error: %v", err)
	}
	if v != nil {
		t.Errorf("As(nil) = %v, want nil", v)
	}
}

func TestAsPassesCallErrorThrough(t *testing.T) {
	callErr := &ChannelError{Op: "eval"}
	_, err := As[int](nil, callErr)
	if err != callErr {
		t.Errorf("As error = %v, want the call error unchanged", err)
	}
}

func TestAsDecodeFailureIsEngineError(t *testing.T) {
	_, err := As[int](Value(`"text"`), nil)
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("As error = %v, want *EngineError", err)
	}
}

func TestArgs(t *testing.T) {
	args, err := Args(1, "two", []int{3}, nil)
	if err != nil {
		t.Fatalf("Args: %v", err)
	}
	want := []string{`1`, `"two"`, `[3]`, `null`}
	if len(args) != len(want) {
		t.Fatalf("len(args) = %d, want %d", len(args), len(want))
	}
	for i, a := range args {
		if string(a) != want[i] {
			t.Errorf("args[%d] = %s, want %s", i, a, want[i])
		}
	}

	if _, err := Args(make(chan int)); err == nil {
		t.Error("Args accepted an unencodable value")
	}
}
