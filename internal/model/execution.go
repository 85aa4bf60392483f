package model

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a ULID for a module or execution record. IDs minted in the
// same millisecond still sort in creation order.
func NewID() string {
	return ulid.Make().String()
}

// Execution status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Execution kind constants. They mirror the worker operations.
const (
	KindEval           = "eval"
	KindLoadModule     = "load_module"
	KindLoadMainModule = "load_main_module"
	KindCallEntrypoint = "call_entrypoint"
	KindCallFunction   = "call_function"
	KindGetValue       = "get_value"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status ends an execution.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// ConsoleLine is one persisted console line emitted during an execution.
type ConsoleLine struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Seq         int       `json:"seq"`
	Level       string    `json:"level"`
	Line        string    `json:"line"`
	CreatedAt   time.Time `json:"created_at"`
}

// Execution records one worker operation issued through the service.
type Execution struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	Engine     string          `json:"engine"`
	ModuleID   string          `json:"module_id,omitempty"`
	Target     string          `json:"target,omitempty"`
	Input      string          `json:"input,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS *int            `json:"duration_ms,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Module is a module loaded into the service's worker. Handle is the id the
// engine minted for it in the current process and is not persisted.
type Module struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Main      bool      `json:"main"`
	Handle    uint64    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}
