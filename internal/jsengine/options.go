package jsengine

import (
	"fmt"

	"github.com/seantiz/jsworker/internal/worker"
)

var consoleLevels = []string{"log", "info", "warn", "error", "debug"}

func validateOptions(opts worker.Options) error {
	if opts.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s", opts.Timeout)
	}
	if opts.DefaultEntrypoint != "" && !reIdent.MatchString(opts.DefaultEntrypoint) {
		return fmt.Errorf("invalid default entrypoint %q", opts.DefaultEntrypoint)
	}
	return nil
}

func emitConsole(fn worker.ConsoleFunc, level, line string) {
	if fn != nil {
		fn(level, line)
	}
}
