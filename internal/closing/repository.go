package closing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const planColumns = `id, account_id, contact_id, status, steps, started_at, completed_at`

func scanPlan(row pgx.Row) (Plan, error) {
	var p Plan
	var steps []byte
	if err := row.Scan(&p.ID, &p.AccountID, &p.ContactID, &p.Status, &steps, &p.StartedAt, &p.CompletedAt); err != nil {
		return Plan{}, err
	}
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return Plan{}, fmt.Errorf("decode onboarding steps: %w", err)
	}
	return p, nil
}

func (r *Repository) CreatePlan(ctx context.Context, p Plan) (Plan, bool, error) {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return Plan{}, false, err
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO onboarding_plans (id, account_id, contact_id, status, steps, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contact_id) DO NOTHING
	`, p.ID, p.AccountID, p.ContactID, p.Status, steps, p.StartedAt)
	if err != nil {
		return Plan{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return p, true, nil
	}
	existing, err := scanPlan(r.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM onboarding_plans WHERE contact_id = $1`, p.ContactID))
	return existing, false, err
}

func (r *Repository) GetPlan(ctx context.Context, id uuid.UUID) (Plan, error) {
	p, err := scanPlan(r.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM onboarding_plans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, ErrPlanNotFound
	}
	return p, err
}

func (r *Repository) ListActivePlans(ctx context.Context, limit int) ([]Plan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+planColumns+`
		FROM onboarding_plans
		WHERE status = 'active'
		ORDER BY started_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *Repository) SavePlan(ctx context.Context, p Plan) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE onboarding_plans SET status = $2, steps = $3, completed_at = $4 WHERE id = $1
	`, p.ID, p.Status, steps, p.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func (r *Repository) UpcomingMeetings(ctx context.Context, from, to time.Time) ([]Meeting, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, contact_id, attendee_email, attendee_name, title, starts_at, status, reminded_at
		FROM meetings
		WHERE status = 'scheduled' AND reminded_at IS NULL AND starts_at BETWEEN $1 AND $2
		ORDER BY starts_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Meeting, 0)
	for rows.Next() {
		var m Meeting
		var contactID *uuid.UUID
		if err := rows.Scan(&m.ID, &m.AccountID, &contactID, &m.AttendeeEmail, &m.AttendeeName, &m.Title,
			&m.StartsAt, &m.Status, &m.RemindedAt); err != nil {
			return nil, err
		}
		if contactID != nil {
			m.ContactID = *contactID
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *Repository) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE meetings SET reminded_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *Repository) ListOverdueInvoices(ctx context.Context, dueBefore time.Time, limit int) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, contact_id, number, amount::float8, status, due_date
		FROM invoices
		WHERE status = 'sent' AND due_date < $1
		ORDER BY due_date ASC
		LIMIT $2
	`, dueBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Invoice, 0)
	for rows.Next() {
		var inv Invoice
		var contactID *uuid.UUID
		if err := rows.Scan(&inv.ID, &inv.AccountID, &contactID, &inv.Number, &inv.Amount, &inv.Status, &inv.DueDate); err != nil {
			return nil, err
		}
		if contactID != nil {
			inv.ContactID = *contactID
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

func (r *Repository) MarkInvoiceOverdue(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET status = 'overdue' WHERE id = $1 AND status = 'sent'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var _ Store = (*Repository)(nil)
