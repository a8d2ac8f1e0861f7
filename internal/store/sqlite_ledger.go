package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/conductor/internal/domain"
)

// SQLiteLedger stores records in a SQLite database.
type SQLiteLedger struct {
	db *DB
}

// NewSQLiteLedger creates a ledger on an open database.
func NewSQLiteLedger(db *DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error { return l.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (l *SQLiteLedger) SaveInvocation(ctx context.Context, rec domain.InvocationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding invocation: %w", err)
	}
	_, err = l.db.sql.ExecContext(ctx,
		`INSERT INTO invocations (id, agent, status, parallel_id, started_at, record)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   record = excluded.record`,
		rec.InvocationID, rec.Agent, string(rec.Status), rec.ParallelID, formatTime(rec.StartedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving invocation %s: %w", rec.InvocationID, err)
	}
	return nil
}

func (l *SQLiteLedger) GetInvocation(ctx context.Context, id string) (domain.InvocationRecord, error) {
	var rec domain.InvocationRecord
	err := l.getRecord(ctx, `SELECT record FROM invocations WHERE id = ?`, id, "invocation", &rec)
	return rec, err
}

// ListInvocations returns invocations with the given status, oldest first.
// An empty status lists every invocation.
func (l *SQLiteLedger) ListInvocations(ctx context.Context, status domain.InvocationStatus) ([]domain.InvocationRecord, error) {
	query := `SELECT record FROM invocations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY started_at, id`

	rows, err := l.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing invocations: %w", err)
	}
	defer rows.Close()

	var out []domain.InvocationRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		var rec domain.InvocationRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decoding invocation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) SaveHandoff(ctx context.Context, rec domain.HandoffRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding handoff: %w", err)
	}
	_, err = l.db.sql.ExecContext(ctx,
		`INSERT INTO handoffs (id, from_agent, to_agent, session_id, parallel_id, timestamp, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.HandoffID, rec.From, rec.To, rec.SessionID, rec.ParallelID, formatTime(rec.Timestamp), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving handoff %s: %w", rec.HandoffID, err)
	}
	return nil
}

func (l *SQLiteLedger) GetHandoff(ctx context.Context, id string) (domain.HandoffRecord, error) {
	var rec domain.HandoffRecord
	err := l.getRecord(ctx, `SELECT record FROM handoffs WHERE id = ?`, id, "handoff", &rec)
	return rec, err
}

// ListHandoffs returns matching handoffs in the order they were recorded.
func (l *SQLiteLedger) ListHandoffs(ctx context.Context, filter domain.HandoffFilter) ([]domain.HandoffRecord, error) {
	var where []string
	var args []any
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.ParallelID != "" {
		where = append(where, "parallel_id = ?")
		args = append(args, filter.ParallelID)
	}
	if filter.Agent != "" {
		where = append(where, "(from_agent = ? OR to_agent = ?)")
		args = append(args, filter.Agent, filter.Agent)
	}

	query := "SELECT record FROM handoffs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := l.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing handoffs: %w", err)
	}
	defer rows.Close()

	out := []domain.HandoffRecord{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning handoff: %w", err)
		}
		var rec domain.HandoffRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decoding handoff: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) SaveParallel(ctx context.Context, rec domain.ParallelExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding parallel execution: %w", err)
	}
	_, err = l.db.sql.ExecContext(ctx,
		`INSERT INTO parallel_executions (id, strategy, status, started_at, updated_at, record)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   updated_at = excluded.updated_at,
		   record = excluded.record`,
		rec.ParallelID, string(rec.AggregationStrategy), string(rec.Status),
		formatTime(rec.StartedAt), formatTime(time.Now()), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving parallel execution %s: %w", rec.ParallelID, err)
	}
	return nil
}

func (l *SQLiteLedger) GetParallel(ctx context.Context, id string) (domain.ParallelExecutionRecord, error) {
	var rec domain.ParallelExecutionRecord
	err := l.getRecord(ctx, `SELECT record FROM parallel_executions WHERE id = ?`, id, "parallel execution", &rec)
	return rec, err
}

// ListParallel returns every parallel execution, oldest first.
func (l *SQLiteLedger) ListParallel(ctx context.Context) ([]domain.ParallelExecutionRecord, error) {
	rows, err := l.db.sql.QueryContext(ctx, `SELECT record FROM parallel_executions ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing parallel executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ParallelExecutionRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning parallel execution: %w", err)
		}
		var rec domain.ParallelExecutionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decoding parallel execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) getRecord(ctx context.Context, query, id, kind string, dst any) error {
	var data string
	err := l.db.sql.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(kind, id)
	}
	if err != nil {
		return fmt.Errorf("loading %s %s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("decoding %s %s: %w", kind, id, err)
	}
	return nil
}
