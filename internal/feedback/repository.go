package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InsertOutcome(ctx context.Context, o Outcome) (bool, error) {
	snapshot := o.EnrichmentSnapshot
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return false, err
	}
	journeyJSON, err := json.Marshal(o.Journey)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO feedback_outcomes (id, idempotency_key, account_id, contact_id, outcome, deal_value,
			lost_reason, lead_score_at_close, source, enrichment_snapshot, journey_metrics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, o.ID, o.IdempotencyKey, o.AccountID, o.ContactID, o.Outcome, o.DealValue,
		o.LostReason, o.LeadScoreAtClose, o.Source, snapshotJSON, journeyJSON, o.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CountOutcomesSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM feedback_outcomes WHERE account_id = $1 AND created_at >= $2
	`, accountID, since).Scan(&n)
	return n, err
}

func (r *Repository) ListOutcomesSince(ctx context.Context, accountID string, since time.Time, limit int) ([]Outcome, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, idempotency_key, account_id, contact_id, outcome, deal_value::float8, lost_reason,
			lead_score_at_close, source, enrichment_snapshot, journey_metrics, created_at
		FROM feedback_outcomes
		WHERE account_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, accountID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Outcome, 0)
	for rows.Next() {
		var o Outcome
		var snapshot, journey []byte
		if err := rows.Scan(&o.ID, &o.IdempotencyKey, &o.AccountID, &o.ContactID, &o.Outcome, &o.DealValue, &o.LostReason,
			&o.LeadScoreAtClose, &o.Source, &snapshot, &journey, &o.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(snapshot, &o.EnrichmentSnapshot); err != nil {
			return nil, fmt.Errorf("decode enrichment snapshot: %w", err)
		}
		if err := json.Unmarshal(journey, &o.Journey); err != nil {
			return nil, fmt.Errorf("decode journey: %w", err)
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *Repository) SaveCalibration(ctx context.Context, c Calibration) error {
	analysis, err := json.Marshal(c.Analysis)
	if err != nil {
		return err
	}
	recs, err := json.Marshal(c.Recommendations)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scoring_calibrations (id, account_id, analysis, recommendations, outcome_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.AccountID, analysis, recs, c.OutcomeCount, c.CreatedAt)
	return err
}

func (r *Repository) LatestCalibration(ctx context.Context, accountID string) (Calibration, error) {
	var c Calibration
	var analysis, recs []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, analysis, recommendations, outcome_count, created_at
		FROM scoring_calibrations
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID).Scan(&c.ID, &c.AccountID, &analysis, &recs, &c.OutcomeCount, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Calibration{}, ErrNoCalibration
	}
	if err != nil {
		return Calibration{}, err
	}
	if err := json.Unmarshal(analysis, &c.Analysis); err != nil {
		return Calibration{}, fmt.Errorf("decode analysis: %w", err)
	}
	if err := json.Unmarshal(recs, &c.Recommendations); err != nil {
		return Calibration{}, fmt.Errorf("decode recommendations: %w", err)
	}
	return c, nil
}

func (r *Repository) SavePerformance(ctx context.Context, s PerformanceSnapshot) error {
	agents, err := json.Marshal(s.Agents)
	if err != nil {
		return err
	}
	outreach, err := json.Marshal(s.Outreach)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO agent_performance_snapshots (id, account_id, period_start, period_end, agents, outreach, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.AccountID, s.PeriodStart, s.PeriodEnd, agents, outreach, s.CreatedAt)
	return err
}

var _ Store = (*Repository)(nil)
