package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/observability"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const (
	sqlCreateSchema = `
        CREATE TABLE IF NOT EXISTS run_events (
            id BIGSERIAL PRIMARY KEY,
            run_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            subtask TEXT NOT NULL DEFAULT '',
            attempt INTEGER NOT NULL DEFAULT 0,
            message TEXT NOT NULL DEFAULT '',
            success BOOLEAN NOT NULL DEFAULT FALSE,
            plan JSONB NOT NULL DEFAULT '[]',
            transcript JSONB NOT NULL DEFAULT '[]',
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS run_events_run_id_idx ON run_events (run_id, created_at);
    `
	sqlListRuns = `
        SELECT run_id,
            COALESCE(MAX(message) FILTER (WHERE kind = 'run_started'), '') AS task,
            MIN(created_at) AS started_at,
            BOOL_OR(kind = 'run_finished') AS finished,
            BOOL_OR(kind = 'run_finished' AND success) AS succeeded
        FROM run_events
        GROUP BY run_id
        ORDER BY started_at DESC
        LIMIT $1;
    `
	sqlRunEvents = `
        SELECT run_id, kind, subtask, attempt, message, success, plan, transcript, created_at
        FROM run_events
        WHERE run_id = $1
        ORDER BY created_at, id;
    `
)

var eventColumns = []string{"run_id", "kind", "subtask", "attempt", "message", "success", "plan", "transcript", "created_at"}

// RunSummary is one row of the run history listing.
type RunSummary struct {
	RunID     string
	Task      string
	StartedAt time.Time
	Finished  bool
	Succeeded bool
}

// Store persists automation run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ EventPersister = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the run_events table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistEvents writes a batch of events in one transaction. Transcripts are
// redacted again before they are written so no image payload reaches the
// database.
func (s *Store) PersistEvents(ctx context.Context, events []schemas.RunEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(events))
	for i, ev := range events {
		row, err := eventRow(ev)
		if err != nil {
			return err
		}
		rows[i] = row
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"run_events"}, eventColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy run events: %w", err)
	}
	if int(copyCount) != len(events) {
		return fmt.Errorf("mismatch in copied run events count: expected %d, got %d", len(events), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlListRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Task, &r.StartedAt, &r.Finished, &r.Succeeded); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// RunEvents returns every event of one run in the order it was recorded.
func (s *Store) RunEvents(ctx context.Context, runID string) ([]schemas.RunEvent, error) {
	rows, err := s.pool.Query(ctx, sqlRunEvents, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run events: %w", err)
	}
	defer rows.Close()

	var events []schemas.RunEvent
	for rows.Next() {
		var (
			ev         schemas.RunEvent
			kind       string
			plan       []byte
			transcript []byte
		)
		if err := rows.Scan(&ev.RunID, &kind, &ev.Subtask, &ev.Attempt, &ev.Message, &ev.Success, &plan, &transcript, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		ev.Kind = schemas.EventKind(kind)
		if err := json.Unmarshal(plan, &ev.Plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan of run %s: %w", runID, err)
		}
		if err := json.Unmarshal(transcript, &ev.Transcript); err != nil {
			return nil, fmt.Errorf("failed to decode transcript of run %s: %w", runID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run events: %w", err)
	}
	return events, nil
}

func eventRow(ev schemas.RunEvent) ([]interface{}, error) {
	plan := ev.Plan
	if plan == nil {
		plan = []string{}
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}

	transcript := observability.RedactMessages(ev.Transcript)
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript: %w", err)
	}

	createdAt := ev.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return []interface{}{
		ev.RunID, string(ev.Kind), ev.Subtask, ev.Attempt, ev.Message, ev.Success,
		planJSON, transcriptJSON, createdAt.UTC(),
	}, nil
}
