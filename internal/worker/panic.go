package worker

import "strings"

const (
	initPanicMessage    = "could not start worker goroutine"
	runtimePanicMessage = "worker goroutine terminated abnormally"
)

// backtraceMarkers start the platform stack-trace portion of a panic message.
var backtraceMarkers = []string{"Stack backtrace", "\ngoroutine "}

// newPanicError builds a PanicError from a recovered payload. Text payloads
// keep their message; anything else gets fallback.
func newPanicError(r any, stack []byte, fallback string) *PanicError {
	var msg string
	switch v := r.(type) {
	case string:
		msg = v
	case error:
		msg = v.Error()
	default:
		msg = fallback
	}
	msg = sanitizePanicMessage(msg)
	if msg == "" {
		msg = fallback
	}
	return &PanicError{Message: msg, Stack: stack}
}

// sanitizePanicMessage drops everything from the first backtrace marker on.
func sanitizePanicMessage(msg string) string {
	for _, marker := range backtraceMarkers {
		if i := strings.Index(msg, marker); i >= 0 {
			msg = msg[:i]
		}
	}
	return strings.TrimSpace(msg)
}
