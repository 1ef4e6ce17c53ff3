package labeler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RunStore persists batch run bookkeeping.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
}

// Publisher emits run lifecycle events for external consumers.
type Publisher interface {
	Publish(subject string, data any) error
}

const SubjectRunCompleted = "triage.run.completed"

// RunManager executes a batch of independent Label calls over a bounded
// worker pool and records the outcome.
type RunManager struct {
	svc    *Service
	runs   RunStore
	events Publisher // optional
	logger *slog.Logger
}

func NewRunManager(svc *Service, runs RunStore, events Publisher, logger *slog.Logger) *RunManager {
	return &RunManager{svc: svc, runs: runs, events: events, logger: logger}
}

// Run labels each conversation id concurrently. Each id touches only its
// own rows, so there is no shared state beyond the store. An aborted run
// leaves completed records intact; unprocessed ids are simply absent and
// rerunnable.
func (m *RunManager) Run(ctx context.Context, ids []string) (*Run, error) {
	run := Run{
		ID:              uuid.New(),
		ConversationIDs: ids,
		StartedAt:       time.Now().UTC(),
		FailedIDs:       []string{},
	}
	if err := m.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	m.logger.Info("labeling run started", "run_id", run.ID, "conversations", len(ids))

	workers := m.svc.opts.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	primary := m.svc.llm.Model()
	for _, id := range ids {
		id := id
		g.Go(func() error {
			rec, err := m.svc.Label(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				m.logger.Error("labeling errored", "run_id", run.ID, "conversation_id", id, "error", err)
				run.FailureCount++
				run.FailedIDs = append(run.FailedIDs, id)
			case rec.Status == StatusFailed:
				run.FailureCount++
				run.FailedIDs = append(run.FailedIDs, id)
			case rec.Status == StatusNeedsReview:
				run.NeedsReviewCount++
			default:
				run.SuccessCount++
			}
			if rec != nil && rec.ModelVersion != "" && rec.ModelVersion != primary {
				run.FallbackUsedCount++
			}
			return nil
		})
	}
	_ = g.Wait()

	run.FinishedAt = time.Now().UTC()
	if err := m.runs.FinishRun(ctx, run); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}

	m.logger.Info("labeling run finished",
		"run_id", run.ID,
		"completed", run.SuccessCount,
		"needs_review", run.NeedsReviewCount,
		"failed", run.FailureCount,
		"fallback_used", run.FallbackUsedCount,
	)

	if m.events != nil {
		if err := m.events.Publish(SubjectRunCompleted, run); err != nil {
			m.logger.Warn("failed to publish run completion", "run_id", run.ID, "error", err)
		}
	}

	return &run, nil
}

// RetryFailed resubmits only the ids of a previous run that are still in
// failed or needs_review status, or that never produced a record.
// Completed ids are never reprocessed, which keeps reruns idempotent.
func (m *RunManager) RetryFailed(ctx context.Context, runID uuid.UUID) (*Run, error) {
	prev, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	var retry []string
	for _, id := range prev.ConversationIDs {
		rec, err := m.svc.store.GetLabel(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check label for %s: %w", id, err)
		}
		if rec == nil || rec.Status == StatusFailed || rec.Status == StatusNeedsReview {
			retry = append(retry, id)
		}
	}

	if len(retry) == 0 {
		m.logger.Info("nothing to retry", "run_id", runID)
		return prev, nil
	}

	m.logger.Info("retrying run", "run_id", runID, "retry_count", len(retry))
	return m.Run(ctx, retry)
}
