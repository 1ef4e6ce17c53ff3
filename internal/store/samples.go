package store

import (
	"context"
	"fmt"

	"github.com/lumenware/triage/internal/sample"
)

// UpsertSamples replaces-or-inserts curated samples by id. Embeddings are
// written separately once computed, so re-ingesting sample text never
// leaves the row without its label data.
func (s *Store) UpsertSamples(ctx context.Context, records []sample.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		_, err = tx.Exec(ctx, `
			INSERT INTO samples (sample_id, text, labels, summary, created_at, meta)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sample_id) DO UPDATE SET
				text = $2, labels = $3, summary = $4, meta = $6,
				embedding = CASE WHEN samples.text IS DISTINCT FROM $2 THEN NULL ELSE samples.embedding END`,
			r.SampleID, r.Text, r.Labels, r.Summary, r.CreatedAt, r.Meta,
		)
		if err != nil {
			return fmt.Errorf("upsert sample %s: %w", r.SampleID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListSamples returns all sample records.
func (s *Store) ListSamples(ctx context.Context) ([]sample.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sample_id, text, labels, summary, created_at, meta
		FROM samples ORDER BY sample_id`)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []sample.Record
	for rows.Next() {
		var r sample.Record
		if err := rows.Scan(&r.SampleID, &r.Text, &r.Labels, &r.Summary, &r.CreatedAt, &r.Meta); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SampleEmbeddings returns the persisted embedding per sample id, for
// rows that have one. Index rebuilds use this to skip re-embedding
// unchanged samples.
func (s *Store) SampleEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sample_id, embedding::text
		FROM samples WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list sample embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id, literal string
		if err := rows.Scan(&id, &literal); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := parseVector(literal)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", id, err)
		}
		out[id] = vec
	}
	return out, rows.Err()
}

// SaveSampleEmbeddings persists freshly computed embeddings.
func (s *Store) SaveSampleEmbeddings(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for id, vec := range vectors {
		_, err = tx.Exec(ctx,
			`UPDATE samples SET embedding = $1::vector WHERE sample_id = $2`,
			pgVector(vec), id,
		)
		if err != nil {
			return fmt.Errorf("save embedding for %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
