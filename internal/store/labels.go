package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lumenware/triage/internal/labeler"
)

// UpsertLabel writes the current label record for a conversation. One
// current row per conversation id; superseding writes replace it.
func (s *Store) UpsertLabel(ctx context.Context, rec labeler.LabelRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO labels (conversation_id, label_primary, label_secondary, confidence,
			reasoning, summary, reference_sample_ids, status, error_code, source, model_version, labeled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (conversation_id) DO UPDATE SET
			label_primary = $2, label_secondary = $3, confidence = $4,
			reasoning = $5, summary = $6, reference_sample_ids = $7,
			status = $8, error_code = $9, source = $10, model_version = $11, labeled_at = $12`,
		rec.ConversationID, rec.LabelPrimary, rec.LabelSecondary, rec.Confidence,
		rec.Reasoning, rec.Summary, rec.ReferenceSampleIDs,
		string(rec.Status), rec.ErrorCode, rec.Source, rec.ModelVersion, rec.LabeledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert label for %s: %w", rec.ConversationID, err)
	}
	return nil
}

// GetLabel returns the current label record for a conversation, or nil
// when none exists.
func (s *Store) GetLabel(ctx context.Context, conversationID string) (*labeler.LabelRecord, error) {
	rec, err := scanLabel(s.pool.QueryRow(ctx,
		labelSelect+` WHERE conversation_id = $1`, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get label for %s: %w", conversationID, err)
	}
	return rec, nil
}

// ListLabelsByStatus returns current label records in any of the given
// statuses, oldest first. This is the manual-review queue query.
func (s *Store) ListLabelsByStatus(ctx context.Context, statuses ...labeler.Status) ([]labeler.LabelRecord, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		labelSelect+` WHERE status = ANY($1) ORDER BY labeled_at ASC`, vals)
	if err != nil {
		return nil, fmt.Errorf("list labels by status: %w", err)
	}
	defer rows.Close()

	var out []labeler.LabelRecord
	for rows.Next() {
		rec, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ApplyHumanLabel overwrites the current record with a human correction
// and appends one immutable audit entry, in a single transaction. This is
// the only path besides a fresh automated run that moves a failed or
// needs_review record to completed.
func (s *Store) ApplyHumanLabel(ctx context.Context, conversationID string, fields labeler.LabelRecord, actor string) (*labeler.LabelRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var previous *labeler.LabelRecord
	prev, err := scanLabel(tx.QueryRow(ctx,
		labelSelect+` WHERE conversation_id = $1 FOR UPDATE`, conversationID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load previous label: %w", err)
	}
	if err == nil {
		previous = prev
	}

	now := time.Now().UTC()
	rec := labeler.LabelRecord{
		ConversationID:     conversationID,
		LabelPrimary:       fields.LabelPrimary,
		LabelSecondary:     fields.LabelSecondary,
		Confidence:         1.0,
		Reasoning:          fields.Reasoning,
		Summary:            fields.Summary,
		ReferenceSampleIDs: fields.ReferenceSampleIDs,
		Status:             labeler.StatusCompleted,
		Source:             labeler.SourceHuman,
		ModelVersion:       "",
		LabeledAt:          now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO labels (conversation_id, label_primary, label_secondary, confidence,
			reasoning, summary, reference_sample_ids, status, error_code, source, model_version, labeled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, '', $10)
		ON CONFLICT (conversation_id) DO UPDATE SET
			label_primary = $2, label_secondary = $3, confidence = $4,
			reasoning = $5, summary = $6, reference_sample_ids = $7,
			status = $8, error_code = '', source = $9, model_version = '', labeled_at = $10`,
		rec.ConversationID, rec.LabelPrimary, rec.LabelSecondary, rec.Confidence,
		rec.Reasoning, rec.Summary, rec.ReferenceSampleIDs,
		string(rec.Status), rec.Source, rec.LabeledAt,
	)
	if err != nil {
		return nil, fmt.Errorf("apply human label for %s: %w", conversationID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO label_audit (id, conversation_id, previous, new, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), conversationID, previous, rec, actor, now,
	)
	if err != nil {
		return nil, fmt.Errorf("append audit entry for %s: %w", conversationID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &rec, nil
}

// ListAudit returns the audit trail for a conversation, oldest first.
func (s *Store) ListAudit(ctx context.Context, conversationID string) ([]labeler.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, previous, new, actor, created_at
		FROM label_audit WHERE conversation_id = $1
		ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []labeler.AuditEntry
	for rows.Next() {
		var e labeler.AuditEntry
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Previous, &e.New, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const labelSelect = `
	SELECT conversation_id, label_primary, label_secondary, confidence,
		reasoning, summary, reference_sample_ids, status, error_code,
		source, model_version, labeled_at
	FROM labels`

func scanLabel(row pgx.Row) (*labeler.LabelRecord, error) {
	var rec labeler.LabelRecord
	var status string
	err := row.Scan(
		&rec.ConversationID, &rec.LabelPrimary, &rec.LabelSecondary, &rec.Confidence,
		&rec.Reasoning, &rec.Summary, &rec.ReferenceSampleIDs, &status, &rec.ErrorCode,
		&rec.Source, &rec.ModelVersion, &rec.LabeledAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = labeler.Status(status)
	return &rec, nil
}
