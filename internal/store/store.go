package store

import (
	"context"
	"errors"

	"github.com/seantiz/jsworker/internal/model"
)

// ErrInvalidTransition is returned when an execution status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ExecutionStats holds aggregate execution statistics.
type ExecutionStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for modules, executions and
// console output.
type Store interface {
	CreateModule(ctx context.Context, m *model.Module) error
	GetModule(ctx context.Context, id string) (*model.Module, error)
	ListModules(ctx context.Context) ([]*model.Module, error)

	CreateExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, limit, offset int) ([]*model.Execution, int, error)
	UpdateExecutionStatus(ctx context.Context, id, status string) error
	UpdateExecution(ctx context.Context, e *model.Execution) error
	GetExecutionStats(ctx context.Context) (*ExecutionStats, error)

	InsertConsoleLine(ctx context.Context, executionID string, seq int, level, line string) error
	GetConsoleLines(ctx context.Context, executionID string) ([]model.ConsoleLine, error)

	Close() error
}
