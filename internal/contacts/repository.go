package contacts

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

const contactColumns = `id, account_id, first_name, last_name, email, phone, company, title, source,
	score, stage, routing_mode, deal_value::float8, assigned_rep, extension_fields,
	do_not_call, do_not_email, last_contacted_at, created_at, updated_at`

func scanContact(row pgx.Row) (Contact, error) {
	var c Contact
	var stage string
	var ext []byte
	err := row.Scan(
		&c.ID, &c.AccountID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Company, &c.Title, &c.Source,
		&c.Score, &stage, &c.RoutingMode, &c.DealValue, &c.AssignedRep, &ext,
		&c.DoNotCall, &c.DoNotEmail, &c.LastContactedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Contact{}, err
	}
	c.Stage = Stage(stage)
	c.ExtensionFields = map[string]any{}
	if len(ext) > 0 {
		if err := json.Unmarshal(ext, &c.ExtensionFields); err != nil {
			return Contact{}, fmt.Errorf("decode extension fields: %w", err)
		}
	}
	return c, nil
}

func (r *Repository) Create(ctx context.Context, params CreateParams) (Contact, error) {
	ext := params.ExtensionFields
	if ext == nil {
		ext = map[string]any{}
	}
	extJSON, err := json.Marshal(ext)
	if err != nil {
		return Contact{}, err
	}
	source := params.Source
	if source == "" {
		source = "manual"
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO contacts (
			id, account_id, first_name, last_name, email, phone, company, title, source,
			deal_value, extension_fields
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+contactColumns,
		uuid.New(), params.AccountID, params.FirstName, params.LastName, params.Email, params.Phone,
		params.Company, params.Title, source, params.DealValue, extJSON,
	)
	return scanContact(row)
}

func (r *Repository) Get(ctx context.Context, accountID string, id uuid.UUID) (Contact, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND account_id = $2`, id, accountID)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateScore(ctx context.Context, accountID string, id uuid.UUID, score int) error {
	return r.exec(ctx, `UPDATE contacts SET score = $3, updated_at = now() WHERE id = $1 AND account_id = $2`, id, accountID, score)
}

func (r *Repository) MergeExtensionFields(ctx context.Context, accountID string, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
		UPDATE contacts
		SET extension_fields = extension_fields || $3::jsonb, updated_at = now()
		WHERE id = $1 AND account_id = $2
	`, id, accountID, patch)
}

func (r *Repository) SetStage(ctx context.Context, accountID string, id uuid.UUID, stage Stage, from ...Stage) (bool, error) {
	expected := make([]string, 0, len(from))
	for _, s := range from {
		expected = append(expected, string(s))
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts SET stage = $3, updated_at = now()
		WHERE id = $1 AND account_id = $2
			AND (cardinality($4::text[]) = 0 OR stage = ANY($4::text[]))
	`, id, accountID, string(stage), expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) SetRouting(ctx context.Context, accountID string, id uuid.UUID, mode string) error {
	return r.exec(ctx, `UPDATE contacts SET routing_mode = $3, updated_at = now() WHERE id = $1 AND account_id = $2`, id, accountID, mode)
}

func (r *Repository) SetAssignedRep(ctx context.Context, accountID string, id uuid.UUID, rep string) error {
	return r.exec(ctx, `UPDATE contacts SET assigned_rep = $3, updated_at = now() WHERE id = $1 AND account_id = $2`, id, accountID, rep)
}

func (r *Repository) SetConsent(ctx context.Context, accountID string, id uuid.UUID, doNotCall, doNotEmail *bool) error {
	return r.exec(ctx, `
		UPDATE contacts
		SET do_not_call = COALESCE($3, do_not_call),
			do_not_email = COALESCE($4, do_not_email),
			updated_at = now()
		WHERE id = $1 AND account_id = $2
	`, id, accountID, doNotCall, doNotEmail)
}

func (r *Repository) MarkContacted(ctx context.Context, accountID string, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, `UPDATE contacts SET last_contacted_at = $3 WHERE id = $1 AND account_id = $2`, id, accountID, at)
}

func (r *Repository) ListStale(ctx context.Context, stages []Stage, updatedBefore time.Time, limit int) ([]Contact, error) {
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, string(s))
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE stage = ANY($1::text[]) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, names, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *Repository) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT account_id FROM contacts ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repository) LogActivity(ctx context.Context, activity Activity) error {
	details := activity.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}
	id := activity.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO activities (id, account_id, contact_id, activity_type, details)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, id, activity.AccountID, activity.ContactID, activity.Type, detailsJSON)
	return err
}

func (r *Repository) ListActivities(ctx context.Context, accountID string, contactID uuid.UUID, limit int) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, contact_id, activity_type, details, created_at
		FROM activities
		WHERE account_id = $1 AND contact_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, accountID, contactID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var a Activity
		var details []byte
		if err := rows.Scan(&a.ID, &a.AccountID, &a.ContactID, &a.Type, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, err
			}
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *Repository) CountActivities(ctx context.Context, accountID string, contactID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities WHERE account_id = $1 AND contact_id = $2`, accountID, contactID).Scan(&n)
	return n, err
}

func (r *Repository) CountActivitiesByType(ctx context.Context, accountID string, types []string, since time.Time) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT activity_type, COUNT(*)
		FROM activities
		WHERE account_id = $1 AND activity_type = ANY($2::text[]) AND created_at >= $3
		GROUP BY activity_type
	`, accountID, types, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int, len(types))
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

func (r *Repository) GetAccountSettings(ctx context.Context, accountID string) (AccountSettings, error) {
	s := AccountSettings{AccountID: accountID}
	err := r.pool.QueryRow(ctx, `
		SELECT default_mode, enabled_modes, self_service_threshold, large_deal_threshold::float8
		FROM account_settings
		WHERE account_id = $1
	`, accountID).Scan(&s.DefaultMode, &s.EnabledModes, &s.SelfServiceThreshold, &s.LargeDealThreshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultAccountSettings(accountID), nil
	}
	if err != nil {
		return AccountSettings{}, err
	}
	return s, nil
}

var _ Store = (*Repository)(nil)
