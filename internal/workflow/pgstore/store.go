// Package pgstore persists the workflow event log, runs and step records in
// PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/events"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// staleClaim is how long an event may sit in dispatching before another
// dispatcher takes it over.
const staleClaim = 5 * time.Minute

const runColumns = `id, function_id, idempotency_key, event_id, event_name, event_payload, account_id,
	status, attempt, wake_at, last_error, output, created_at, updated_at, finished_at`

// Store implements workflow.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ workflow.Store = (*Store)(nil)

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const insertEventSQL = `INSERT INTO workflow_events (id, name, account_id, payload, occurred_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING`

func queueEvents(batch *pgx.Batch, envs []events.Envelope) {
	for _, env := range envs {
		payload := env.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		batch.Queue(insertEventSQL, env.ID, env.Name, env.AccountID, []byte(payload), env.OccurredAt)
	}
}

func (s *Store) AppendEvents(ctx context.Context, envs []events.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queueEvents(batch, envs)
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *Store) ClaimPendingEvents(ctx context.Context, now time.Time, limit int) ([]events.Envelope, error) {
	if limit < 1 {
		limit = 100
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM workflow_events
		WHERE status = 'pending'
		   OR (status = 'dispatching' AND claimed_at < $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE workflow_events e
	SET status = 'dispatching', claimed_at = $3, attempts = e.attempts + 1
	FROM cte
	WHERE e.id = cte.id
	RETURNING e.id, e.name, e.account_id, e.payload, e.occurred_at`, limit, now.Add(-staleClaim), now)
	if err != nil {
		return nil, err
	}

	envs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Envelope, error) {
		var env events.Envelope
		err := row.Scan(&env.ID, &env.Name, &env.AccountID, &env.Payload, &env.OccurredAt)
		return env, err
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return envs, nil
}

func (s *Store) MarkEventsDispatched(ctx context.Context, ids []string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE workflow_events
		 SET status = 'dispatched', dispatched_at = $2, last_error = NULL
		 WHERE id = ANY($1)`,
		ids, now,
	)
	return err
}

func (s *Store) ReleaseEvent(ctx context.Context, id string, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE workflow_events
		 SET status = 'pending', claimed_at = NULL, last_error = $2
		 WHERE id = $1`,
		id, reason,
	)
	return err
}

func scanRun(row pgx.Row) (workflow.RunRecord, error) {
	var run workflow.RunRecord
	var status string
	var lastError *string
	err := row.Scan(
		&run.ID, &run.FunctionID, &run.IdempotencyKey, &run.EventID, &run.EventName, &run.EventPayload, &run.AccountID,
		&status, &run.Attempt, &run.WakeAt, &lastError, &run.Output, &run.CreatedAt, &run.UpdatedAt, &run.FinishedAt,
	)
	if err != nil {
		return workflow.RunRecord{}, err
	}
	run.Status = workflow.Status(status)
	if lastError != nil {
		run.LastError = *lastError
	}
	return run, nil
}

func (s *Store) CreateRun(ctx context.Context, run workflow.RunRecord) (workflow.RunRecord, bool, error) {
	created, err := scanRun(s.pool.QueryRow(ctx,
		`INSERT INTO workflow_runs (id, function_id, idempotency_key, event_id, event_name, event_payload,
			account_id, status, attempt, wake_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING `+runColumns,
		run.ID, run.FunctionID, run.IdempotencyKey, run.EventID, run.EventName, nullJSON(run.EventPayload),
		run.AccountID, string(run.Status), run.Attempt, run.WakeAt, run.CreatedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return workflow.RunRecord{}, false, err
	}

	existing, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE idempotency_key = $1`, run.IdempotencyKey))
	if err != nil {
		return workflow.RunRecord{}, false, fmt.Errorf("load existing run %s: %w", run.IdempotencyKey, err)
	}
	return existing, false, nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (workflow.RunRecord, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.RunRecord{}, workflow.ErrRunNotFound
	}
	return run, err
}

func (s *Store) ClaimRun(ctx context.Context, id uuid.UUID, now time.Time) (workflow.RunRecord, bool, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`UPDATE workflow_runs
		 SET status = 'running', updated_at = $2
		 WHERE id = $1
		   AND status IN ('queued', 'suspended')
		   AND (wake_at IS NULL OR wake_at <= $2)
		 RETURNING `+runColumns,
		id, now,
	))
	if err == nil {
		return run, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return workflow.RunRecord{}, false, err
	}
	current, err := s.GetRun(ctx, id)
	if err != nil {
		return workflow.RunRecord{}, false, err
	}
	return current, false, nil
}

func (s *Store) TransitionRun(ctx context.Context, from []workflow.Status, u workflow.RunUpdate) (bool, error) {
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_runs
		 SET status = $3, attempt = $4, wake_at = $5, last_error = $6,
		     output = COALESCE($7, output), finished_at = $8, updated_at = $9
		 WHERE id = $1 AND status = ANY($2)`,
		u.ID, statuses, string(u.Status), u.Attempt, u.WakeAt, nullString(u.LastError),
		nullJSON(u.Output), u.FinishedAt, u.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetRun(ctx, u.ID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ClaimDueRuns(ctx context.Context, opts workflow.SweepOptions) ([]workflow.RunRecord, error) {
	limit := opts.Limit
	if limit < 1 {
		limit = 100
	}
	var leaseCutoff *time.Time
	if opts.RunningLease > 0 {
		cutoff := opts.Now.Add(-opts.RunningLease)
		leaseCutoff = &cutoff
	}

	rows, err := s.pool.Query(ctx, `WITH cte AS (
		SELECT id
		FROM workflow_runs
		WHERE (status = 'suspended' AND (wake_at IS NULL OR wake_at <= $1))
		   OR (status = 'queued' AND (wake_at IS NULL OR wake_at <= $2))
		   OR (status = 'running' AND $3::timestamptz IS NOT NULL AND updated_at <= $3)
		ORDER BY created_at ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	)
	UPDATE workflow_runs r
	SET status = 'queued', updated_at = $1
	FROM cte
	WHERE r.id = cte.id
	RETURNING r.id, r.function_id, r.idempotency_key, r.event_id, r.event_name, r.event_payload, r.account_id,
		r.status, r.attempt, r.wake_at, r.last_error, r.output, r.created_at, r.updated_at, r.finished_at`,
		opts.Now, opts.Now.Add(-opts.QueuedGrace), leaseCutoff, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (workflow.RunRecord, error) {
		return scanRun(row)
	})
}

func (s *Store) ListRuns(ctx context.Context, f workflow.RunFilter) ([]workflow.RunRecord, error) {
	limit := f.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+`
		 FROM workflow_runs
		 WHERE ($1 = '' OR status = $1)
		   AND ($2 = '' OR function_id = $2)
		   AND ($3 = '' OR account_id = $3)
		 ORDER BY created_at DESC
		 LIMIT $4`,
		string(f.Status), f.FunctionID, f.AccountID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (workflow.RunRecord, error) {
		return scanRun(row)
	})
}

func (s *Store) DeleteFinishedRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_runs
		 WHERE status IN ('completed', 'failed', 'cancelled')
		   AND finished_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_events
		 WHERE status = 'dispatched' AND dispatched_at < $1`,
		cutoff,
	); err != nil {
		return tag.RowsAffected(), err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) LoadSteps(ctx context.Context, runID uuid.UUID) (map[string]workflow.StepRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, name, seq, output, completed_at
		 FROM workflow_steps
		 WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := make(map[string]workflow.StepRecord)
	for rows.Next() {
		var rec workflow.StepRecord
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.Seq, &rec.Output, &rec.CompletedAt); err != nil {
			return nil, err
		}
		steps[rec.Name] = rec
	}
	return steps, rows.Err()
}

const insertStepSQL = `INSERT INTO workflow_steps (run_id, name, seq, output, completed_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (run_id, name) DO NOTHING`

func (s *Store) SaveStep(ctx context.Context, rec workflow.StepRecord) error {
	_, err := s.pool.Exec(ctx, insertStepSQL, rec.RunID, rec.Name, rec.Seq, nullJSON(rec.Output), rec.CompletedAt)
	return err
}

func (s *Store) SaveStepWithEvents(ctx context.Context, rec workflow.StepRecord, envs []events.Envelope) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	queueEvents(batch, envs)
	batch.Queue(insertStepSQL, rec.RunID, rec.Name, rec.Seq, nullJSON(rec.Output), rec.CompletedAt)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
