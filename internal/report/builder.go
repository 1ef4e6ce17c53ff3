// Package report turns persisted label records into export rows and CSV,
// the shape downstream spreadsheets expect.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/lumenware/triage/internal/labeler"
)

// Store is the read side the builder needs.
type Store interface {
	ListLabelsByStatus(ctx context.Context, statuses ...labeler.Status) ([]labeler.LabelRecord, error)
}

// LabeledRow is one exportable classification.
type LabeledRow struct {
	ConversationID string    `json:"conversation_id"`
	Labels         []string  `json:"labels"` // primary first
	Confidence     float64   `json:"confidence"`
	Status         string    `json:"status"`
	Source         string    `json:"source"`
	ModelVersion   string    `json:"model_version"`
	Summary        string    `json:"summary"`
	LabeledAt      time.Time `json:"labeled_at"`
}

// SkippedRow is a conversation that exhausted labeling without a result.
type SkippedRow struct {
	ConversationID string    `json:"conversation_id"`
	Reason         string    `json:"reason"`
	LabeledAt      time.Time `json:"labeled_at"`
}

// Report is a point-in-time view over all current label records.
type Report struct {
	Labeled     []LabeledRow `json:"labeled"`
	NeedsReview []LabeledRow `json:"needs_review"`
	Skipped     []SkippedRow `json:"skipped"`
	GeneratedAt time.Time    `json:"generated_at"`
}

type Builder struct {
	store Store
}

func NewBuilder(store Store) *Builder {
	return &Builder{store: store}
}

// Build collects every current label record into report rows. Records are
// already ordered by labeled_at from the store.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	records, err := b.store.ListLabelsByStatus(ctx,
		labeler.StatusCompleted, labeler.StatusNeedsReview, labeler.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}

	rep := &Report{
		Labeled:     []LabeledRow{},
		NeedsReview: []LabeledRow{},
		Skipped:     []SkippedRow{},
		GeneratedAt: time.Now().UTC(),
	}
	for _, rec := range records {
		if rec.Status == labeler.StatusFailed {
			rep.Skipped = append(rep.Skipped, SkippedRow{
				ConversationID: rec.ConversationID,
				Reason:         rec.ErrorCode,
				LabeledAt:      rec.LabeledAt,
			})
			continue
		}
		row := LabeledRow{
			ConversationID: rec.ConversationID,
			Labels:         append([]string{rec.LabelPrimary}, rec.LabelSecondary...),
			Confidence:     rec.Confidence,
			Status:         string(rec.Status),
			Source:         rec.Source,
			ModelVersion:   rec.ModelVersion,
			Summary:        rec.Summary,
			LabeledAt:      rec.LabeledAt,
		}
		if rec.Status == labeler.StatusNeedsReview {
			rep.NeedsReview = append(rep.NeedsReview, row)
		} else {
			rep.Labeled = append(rep.Labeled, row)
		}
	}
	return rep, nil
}

// WriteCSV emits labeled and needs_review rows followed by skipped rows.
// Multiple labels are joined with "|" in a single column.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"conversation_id", "labels", "confidence", "status", "source", "model_version", "error_code", "labeled_at"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	writeRow := func(row LabeledRow) error {
		return cw.Write([]string{
			row.ConversationID,
			strings.Join(row.Labels, "|"),
			strconv.FormatFloat(row.Confidence, 'f', 2, 64),
			row.Status,
			row.Source,
			row.ModelVersion,
			"",
			row.LabeledAt.UTC().Format(time.RFC3339),
		})
	}
	for _, row := range r.Labeled {
		if err := writeRow(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	for _, row := range r.NeedsReview {
		if err := writeRow(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	for _, row := range r.Skipped {
		err := cw.Write([]string{
			row.ConversationID,
			"",
			"",
			string(labeler.StatusFailed),
			"",
			"",
			row.Reason,
			row.LabeledAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("write skipped row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
