package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/jsworker/internal/model"

	_ "modernc.org/sqlite"
)

const createModulesTable = `
CREATE TABLE IF NOT EXISTS modules (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    source     TEXT NOT NULL,
    main       INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
)`

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    engine      TEXT NOT NULL,
    module_id   TEXT,
    target      TEXT,
    input       TEXT,
    result      BLOB,
    error       TEXT,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createConsoleLinesTable = `
CREATE TABLE IF NOT EXISTS console_lines (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    level        TEXT NOT NULL,
    line         TEXT NOT NULL,
    created_at   DATETIME NOT NULL
)`

const createConsoleLinesIndex = `
CREATE INDEX IF NOT EXISTS idx_console_lines_execution ON console_lines (execution_id, seq)`

const executionColumns = `id, kind, status, engine, module_id, target, input,
	result, error, duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when a module or execution is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	migrations := []struct {
		name string
		stmt string
	}{
		{"modules table", createModulesTable},
		{"executions table", createExecutionsTable},
		{"console_lines table", createConsoleLinesTable},
		{"console_lines index", createConsoleLinesIndex},
	}
	for _, m := range migrations {
		if _, err := db.Exec(m.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s: %w", m.name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateModule inserts a new module record.
func (s *SQLiteStore) CreateModule(ctx context.Context, m *model.Module) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO modules (id, name, source, main, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Source, m.Main, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert module: %w", err)
	}
	return nil
}

// GetModule retrieves a module by ID.
func (s *SQLiteStore) GetModule(ctx context.Context, id string) (*model.Module, error) {
	m := &model.Module{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, source, main, created_at FROM modules WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.Source, &m.Main, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get module: %w", err)
	}
	return m, nil
}

// ListModules returns every module in creation order.
func (s *SQLiteStore) ListModules(ctx context.Context) ([]*model.Module, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, source, main, created_at FROM modules ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer rows.Close()

	var modules []*model.Module
	for rows.Next() {
		m := &model.Module{}
		if err := rows.Scan(&m.ID, &m.Name, &m.Source, &m.Main, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modules: %w", err)
	}
	return modules, nil
}

func nullableJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return []byte(v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*model.Execution, error) {
	e := &model.Execution{}
	var moduleID, target, input, errMsg sql.NullString
	var result []byte
	if err := row.Scan(
		&e.ID, &e.Kind, &e.Status, &e.Engine, &moduleID, &target, &input,
		&result, &errMsg, &e.DurationMS, &e.CreatedAt, &e.StartedAt, &e.FinishedAt,
	); err != nil {
		return nil, err
	}
	if len(result) > 0 {
		e.Result = result
	}
	e.ModuleID = moduleID.String
	e.Target = target.String
	e.Input = input.String
	e.Error = errMsg.String
	return e, nil
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, e *model.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Status, e.Engine, e.ModuleID, e.Target, e.Input,
		nullableJSON(e.Result), e.Error, e.DurationMS, e.CreatedAt, e.StartedAt, e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns a paginated list of executions, newest first, along
// with the total count of all executions.
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit, offset int) ([]*model.Execution, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}

	return executions, total, nil
}

// currentStatus reads an execution's status inside tx.
func currentStatus(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read execution status: %w", err)
	}
	return status, nil
}

// UpdateExecutionStatus moves an execution to status. Running sets
// started_at and terminal statuses set finished_at.
func (s *SQLiteStore) UpdateExecutionStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx, "UPDATE executions SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.IsTerminal(status):
		_, err = tx.ExecContext(ctx, "UPDATE executions SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx, "UPDATE executions SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	return tx.Commit()
}

// UpdateExecution writes the mutable fields of e. A status change must be a
// valid transition.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, e *model.Execution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, e.ID)
	if err != nil {
		return err
	}
	if from != e.Status && !model.ValidTransition(from, e.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, e.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE executions SET status = ?, module_id = ?, target = ?, input = ?, result = ?,
			error = ?, duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		e.Status, e.ModuleID, e.Target, e.Input, nullableJSON(e.Result),
		e.Error, e.DurationMS, e.StartedAt, e.FinishedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return tx.Commit()
}

// GetExecutionStats aggregates execution counts and the average duration of
// finished executions.
func (s *SQLiteStore) GetExecutionStats(ctx context.Context) (*ExecutionStats, error) {
	stats := &ExecutionStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "kind", stats.CountByKind); err != nil {
		return nil, err
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM executions WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	stats.AvgDurationMS = avg.Float64
	return stats, nil
}

// countBy fills into with execution counts grouped by column. column is
// always a package constant.
func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM executions GROUP BY "+column,
	)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// InsertConsoleLine persists one console line of an execution.
func (s *SQLiteStore) InsertConsoleLine(ctx context.Context, executionID string, seq int, level, line string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO console_lines (execution_id, seq, level, line, created_at) VALUES (?, ?, ?, ?, ?)`,
		executionID, seq, level, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert console line: %w", err)
	}
	return nil
}

// GetConsoleLines returns the console lines of an execution ordered by seq.
func (s *SQLiteStore) GetConsoleLines(ctx context.Context, executionID string) ([]model.ConsoleLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, seq, level, line, created_at
		FROM console_lines WHERE execution_id = ? ORDER BY seq ASC`, executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get console lines: %w", err)
	}
	defer rows.Close()

	lines := []model.ConsoleLine{}
	for rows.Next() {
		var l model.ConsoleLine
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.Seq, &l.Level, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan console line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate console lines: %w", err)
	}
	return lines, nil
}
