package outreach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const enrollmentColumns = `e.id, e.account_id, e.contact_id, e.sequence_id, e.template, s.steps,
	e.current_step, e.status, e.enrolled_at, e.paused_at, COALESCE(e.pause_reason, ''), e.completed_at`

const enrollmentFrom = ` FROM outreach_enrollments e JOIN outreach_sequences s ON s.id = e.sequence_id `

func scanEnrollment(row pgx.Row) (Enrollment, error) {
	var e Enrollment
	var steps []byte
	err := row.Scan(&e.ID, &e.AccountID, &e.ContactID, &e.SequenceID, &e.Template, &steps,
		&e.CurrentStep, &e.Status, &e.EnrolledAt, &e.PausedAt, &e.PauseReason, &e.CompletedAt)
	if err != nil {
		return Enrollment{}, err
	}
	if err := json.Unmarshal(steps, &e.Steps); err != nil {
		return Enrollment{}, fmt.Errorf("decode sequence steps: %w", err)
	}
	return e, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func activeFor(ctx context.Context, q rowQuerier, contactID uuid.UUID, template string) (Enrollment, error) {
	row := q.QueryRow(ctx, `SELECT `+enrollmentColumns+enrollmentFrom+`
		WHERE e.contact_id = $1 AND e.template = $2 AND e.status = 'active'`, contactID, template)
	return scanEnrollment(row)
}

func (r *Repository) Enroll(ctx context.Context, accountID string, contactID uuid.UUID, template string, preset Preset, at time.Time) (Enrollment, bool, error) {
	if existing, err := activeFor(ctx, r.pool, contactID, template); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return Enrollment{}, false, err
	}

	steps, err := json.Marshal(preset.Steps)
	if err != nil {
		return Enrollment{}, false, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Enrollment{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sequenceID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO outreach_sequences (id, account_id, name, template, steps)
		VALUES ($1, $2, $3, $4, $5)
	`, sequenceID, accountID, preset.Name, template, steps); err != nil {
		return Enrollment{}, false, fmt.Errorf("insert sequence: %w", err)
	}

	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO outreach_enrollments (id, account_id, contact_id, sequence_id, template, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, accountID, contactID, sequenceID, template, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			_ = tx.Rollback(ctx)
			existing, err := activeFor(ctx, r.pool, contactID, template)
			return existing, false, err
		}
		return Enrollment{}, false, fmt.Errorf("insert enrollment: %w", err)
	}

	e, err := scanEnrollment(tx.QueryRow(ctx, `SELECT `+enrollmentColumns+enrollmentFrom+`WHERE e.id = $1`, id))
	if err != nil {
		return Enrollment{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Enrollment{}, false, err
	}
	return e, true, nil
}

func (r *Repository) Get(ctx context.Context, accountID string, id uuid.UUID) (Enrollment, error) {
	e, err := scanEnrollment(r.pool.QueryRow(ctx, `SELECT `+enrollmentColumns+enrollmentFrom+`
		WHERE e.id = $1 AND e.account_id = $2`, id, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Enrollment{}, ErrNotFound
	}
	return e, err
}

func (r *Repository) Advance(ctx context.Context, id uuid.UUID, from, to int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outreach_enrollments SET current_step = $3
		WHERE id = $1 AND current_step = $2 AND status = 'active'
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) Complete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outreach_enrollments SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) Pause(ctx context.Context, accountID string, id uuid.UUID, reason string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outreach_enrollments SET status = 'paused', paused_at = $3, pause_reason = $4
		WHERE id = $1 AND account_id = $2 AND status = 'active'
	`, id, accountID, at, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) PauseActiveForContact(ctx context.Context, accountID string, contactID uuid.UUID, reason string, at time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE outreach_enrollments SET status = 'paused', paused_at = $3, pause_reason = $4
		WHERE account_id = $1 AND contact_id = $2 AND status = 'active'
		RETURNING id
	`, accountID, contactID, at, reason)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *Repository) HasActiveEnrollment(ctx context.Context, accountID string, contactID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM outreach_enrollments
			WHERE account_id = $1 AND contact_id = $2 AND status = 'active'
		)
	`, accountID, contactID).Scan(&exists)
	return exists, err
}

// ChannelUsage is the Postgres ChannelLimiter backed by outreach_channel_usage.
type ChannelUsage struct {
	pool *pgxpool.Pool
}

func NewChannelUsage(pool *pgxpool.Pool) *ChannelUsage {
	return &ChannelUsage{pool: pool}
}

func (u *ChannelUsage) Allow(ctx context.Context, accountID, channel string, day time.Time) (bool, error) {
	var sent, limit int
	err := u.pool.QueryRow(ctx, `
		SELECT sent, daily_limit FROM outreach_channel_usage
		WHERE account_id = $1 AND channel = $2 AND day = $3
	`, accountID, channel, dayOf(day)).Scan(&sent, &limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return sent < limit, nil
}

func (u *ChannelUsage) Record(ctx context.Context, accountID, channel string, day time.Time) error {
	_, err := u.pool.Exec(ctx, `
		INSERT INTO outreach_channel_usage (account_id, channel, day, sent, daily_limit)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (account_id, channel, day) DO UPDATE SET sent = outreach_channel_usage.sent + 1
	`, accountID, channel, dayOf(day), DefaultDailyLimit(channel))
	return err
}

var (
	_ EnrollmentStore = (*Repository)(nil)
	_ ChannelLimiter  = (*ChannelUsage)(nil)
)
