package calling

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

func (r *Repository) GetAgent(ctx context.Context, accountID, agentID string) (Agent, error) {
	var a Agent
	var maxSecs int
	var objections []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, name, greeting, system_prompt, objective, voice_provider, voice,
			end_call_phrases, max_call_duration_seconds, objection_responses, is_active
		FROM ai_agents WHERE account_id = $1 AND id = $2
	`, accountID, agentID).Scan(&a.ID, &a.AccountID, &a.Name, &a.Greeting, &a.SystemPrompt, &a.Objective,
		&a.VoiceProvider, &a.Voice, &a.EndCallPhrases, &maxSecs, &objections, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrAgentNotFound
	}
	if err != nil {
		return Agent{}, err
	}
	a.MaxCallDuration = time.Duration(maxSecs) * time.Second
	if len(objections) > 0 {
		if err := json.Unmarshal(objections, &a.ObjectionResponses); err != nil {
			return Agent{}, fmt.Errorf("decode objection responses: %w", err)
		}
	}
	return a, nil
}

const callColumns = `id, account_id, contact_id, agent_id, phone_number, COALESCE(provider_call_id, ''), status,
	transcript, input_tokens, output_tokens, tts_chars, outcome, sentiment, score, score_breakdown,
	objections, topics, next_steps, summary, cost_breakdown, duration_seconds,
	COALESCE(recording_key, ''), COALESCE(answered_by, ''), answered_at, created_at`

func scanCall(row pgx.Row) (CallRecord, error) {
	var rec CallRecord
	var transcript, breakdown, objections, topics, cost []byte
	var outcome, sentiment, nextSteps, summary *string
	var score *int
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.ContactID, &rec.AgentID, &rec.PhoneNumber, &rec.ProviderCallID, &rec.Status,
		&transcript, &rec.Usage.InputTokens, &rec.Usage.OutputTokens, &rec.Usage.TTSChars,
		&outcome, &sentiment, &score, &breakdown, &objections, &topics, &nextSteps, &summary, &cost,
		&rec.DurationSecs, &rec.RecordingKey, &rec.AnsweredBy, &rec.AnsweredAt, &rec.CreatedAt)
	if err != nil {
		return CallRecord{}, err
	}
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &rec.Transcript); err != nil {
			return CallRecord{}, fmt.Errorf("decode transcript: %w", err)
		}
	}
	if outcome != nil {
		a := Analysis{Outcome: *outcome}
		if sentiment != nil {
			a.Sentiment = *sentiment
		}
		if score != nil {
			a.Score = *score
		}
		if nextSteps != nil {
			a.NextSteps = *nextSteps
		}
		if summary != nil {
			a.Summary = *summary
		}
		for _, part := range []struct {
			raw []byte
			dst any
		}{{breakdown, &a.ScoreBreakdown}, {objections, &a.Objections}, {topics, &a.Topics}} {
			if len(part.raw) > 0 {
				if err := json.Unmarshal(part.raw, part.dst); err != nil {
					return CallRecord{}, fmt.Errorf("decode analysis: %w", err)
				}
			}
		}
		rec.Analysis = &a
	}
	if len(cost) > 0 {
		var c CostBreakdown
		if err := json.Unmarshal(cost, &c); err != nil {
			return CallRecord{}, fmt.Errorf("decode cost breakdown: %w", err)
		}
		rec.Cost = &c
	}
	return rec, nil
}

func (r *Repository) CreateCall(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO ai_calls (id, account_id, contact_id, agent_id, phone_number, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET updated_at = ai_calls.updated_at
		RETURNING `+callColumns,
		rec.ID, rec.AccountID, rec.ContactID, rec.AgentID, rec.PhoneNumber, rec.Status)
	return scanCall(row)
}

func (r *Repository) GetCall(ctx context.Context, id uuid.UUID) (CallRecord, error) {
	rec, err := scanCall(r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM ai_calls WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRecord{}, ErrCallNotFound
	}
	return rec, err
}

func (r *Repository) GetCallByProviderID(ctx context.Context, providerCallID string) (CallRecord, error) {
	rec, err := scanCall(r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM ai_calls WHERE provider_call_id = $1`, providerCallID))
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRecord{}, ErrCallNotFound
	}
	return rec, err
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}

func (r *Repository) MarkDialed(ctx context.Context, id uuid.UUID, providerCallID string) error {
	return r.exec(ctx, `
		UPDATE ai_calls SET provider_call_id = $2, status = 'ringing', updated_at = now() WHERE id = $1
	`, id, providerCallID)
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, durationSecs int) error {
	return r.exec(ctx, `
		UPDATE ai_calls
		SET status = $2, duration_seconds = GREATEST(duration_seconds, $3), updated_at = now()
		WHERE id = $1
	`, id, status, durationSecs)
}

func (r *Repository) MarkAnswered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, `
		UPDATE ai_calls
		SET status = 'in_progress', answered_at = COALESCE(answered_at, $2), updated_at = now()
		WHERE id = $1
	`, id, at)
}

func (r *Repository) SaveConversation(ctx context.Context, id uuid.UUID, transcript []TranscriptEntry, usage Usage) error {
	raw, err := json.Marshal(transcript)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
		UPDATE ai_calls
		SET transcript = $2, input_tokens = $3, output_tokens = $4, tts_chars = $5, updated_at = now()
		WHERE id = $1
	`, id, raw, usage.InputTokens, usage.OutputTokens, usage.TTSChars)
}

func (r *Repository) SetAnsweredBy(ctx context.Context, id uuid.UUID, answeredBy string) error {
	return r.exec(ctx, `UPDATE ai_calls SET answered_by = $2, updated_at = now() WHERE id = $1`, id, answeredBy)
}

func (r *Repository) SetRecordingKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.exec(ctx, `UPDATE ai_calls SET recording_key = $2, updated_at = now() WHERE id = $1`, id, key)
}

func (r *Repository) Finalize(ctx context.Context, id uuid.UUID, f Finalization) error {
	transcript, err := json.Marshal(f.Transcript)
	if err != nil {
		return err
	}
	breakdown, _ := json.Marshal(f.Analysis.ScoreBreakdown)
	objections, _ := json.Marshal(f.Analysis.Objections)
	topics, _ := json.Marshal(f.Analysis.Topics)
	cost, _ := json.Marshal(f.Cost)
	return r.exec(ctx, `
		UPDATE ai_calls SET
			status = 'completed', duration_seconds = $2, transcript = $3, outcome = $4, sentiment = $5,
			score = $6, score_breakdown = $7, objections = $8, topics = $9, next_steps = $10,
			summary = $11, cost_breakdown = $12, updated_at = now()
		WHERE id = $1
	`, id, f.DurationSecs, transcript, f.Analysis.Outcome, f.Analysis.Sentiment, f.Analysis.Score,
		breakdown, objections, topics, f.Analysis.NextSteps, f.Analysis.Summary, cost)
}

func (r *Repository) CountCallsSince(ctx context.Context, accountID string, contactID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM ai_calls WHERE account_id = $1 AND contact_id = $2 AND created_at >= $3
	`, accountID, contactID, since).Scan(&n)
	return n, err
}

func (r *Repository) ListCallsSince(ctx context.Context, accountID string, since time.Time) ([]CallRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+callColumns+` FROM ai_calls WHERE account_id = $1 AND created_at >= $2 ORDER BY created_at
	`, accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ Store = (*Repository)(nil)
