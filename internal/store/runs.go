package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lumenware/triage/internal/labeler"
)

// CreateRun records the start of a batch labeling invocation.
func (s *Store) CreateRun(ctx context.Context, run labeler.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO label_runs (id, conversation_ids, success_count, needs_review_count,
			failure_count, fallback_used_count, failed_ids, started_at)
		VALUES ($1, $2, 0, 0, 0, 0, '{}', $3)`,
		run.ID, run.ConversationIDs, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun writes the final counters for a run.
func (s *Store) FinishRun(ctx context.Context, run labeler.Run) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE label_runs SET success_count = $2, needs_review_count = $3,
			failure_count = $4, fallback_used_count = $5, failed_ids = $6, finished_at = $7
		WHERE id = $1`,
		run.ID, run.SuccessCount, run.NeedsReviewCount,
		run.FailureCount, run.FallbackUsedCount, run.FailedIDs, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*labeler.Run, error) {
	var run labeler.Run
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_ids, success_count, needs_review_count,
			failure_count, fallback_used_count, failed_ids, started_at,
			COALESCE(finished_at, 'epoch'::timestamptz)
		FROM label_runs WHERE id = $1`,
		id,
	).Scan(
		&run.ID, &run.ConversationIDs, &run.SuccessCount, &run.NeedsReviewCount,
		&run.FailureCount, &run.FallbackUsedCount, &run.FailedIDs, &run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &run, nil
}
