package followups

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

func (r *Repository) ActiveSequences(ctx context.Context, accountID string, triggers []string) ([]Sequence, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, name, trigger, steps, is_active
		FROM follow_up_sequences
		WHERE account_id = $1 AND is_active AND trigger = ANY($2::text[])
		ORDER BY created_at ASC
	`, accountID, triggers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Sequence, 0)
	for rows.Next() {
		var seq Sequence
		var steps []byte
		if err := rows.Scan(&seq.ID, &seq.AccountID, &seq.Name, &seq.Trigger, &steps, &seq.Active); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(steps, &seq.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of sequence %s: %w", seq.ID, err)
		}
		items = append(items, seq)
	}
	return items, rows.Err()
}

func (r *Repository) CreateMessage(ctx context.Context, m Message) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO follow_up_messages (id, dedupe_key, account_id, sequence_id, contact_id, call_id, channel,
			status, recipient, subject, body, send_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, m.ID, m.DedupeKey, m.AccountID, nullUUID(m.SequenceID), nullUUID(m.ContactID), nullUUID(m.CallID), m.Channel,
		m.Status, m.Recipient, m.Subject, m.Body, m.SendAt, m.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

const messageColumns = `id, dedupe_key, account_id, sequence_id, contact_id, call_id, channel, status,
	recipient, subject, body, send_at, sent_at, COALESCE(last_error, ''), created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	var sequenceID, contactID, callID *uuid.UUID
	err := row.Scan(&m.ID, &m.DedupeKey, &m.AccountID, &sequenceID, &contactID, &callID, &m.Channel, &m.Status,
		&m.Recipient, &m.Subject, &m.Body, &m.SendAt, &m.SentAt, &m.LastError, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	if sequenceID != nil {
		m.SequenceID = *sequenceID
	}
	if contactID != nil {
		m.ContactID = *contactID
	}
	if callID != nil {
		m.CallID = *callID
	}
	return m, nil
}

func (r *Repository) GetMessage(ctx context.Context, id uuid.UUID) (Message, error) {
	m, err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM follow_up_messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	return m, err
}

func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM follow_up_messages
		WHERE status = 'pending' AND send_at <= $1
		ORDER BY send_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *Repository) ClaimMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE follow_up_messages SET status = 'sending' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, `UPDATE follow_up_messages SET status = 'sent', sent_at = $2, last_error = NULL WHERE id = $1`, id, at)
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.exec(ctx, `UPDATE follow_up_messages SET status = 'failed', last_error = $2 WHERE id = $1`, id, reason)
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *Repository) CancelMessage(ctx context.Context, accountID string, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE follow_up_messages SET status = 'cancelled'
		WHERE id = $1 AND account_id = $2 AND status = 'pending'
	`, id, accountID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var _ Store = (*Repository)(nil)
