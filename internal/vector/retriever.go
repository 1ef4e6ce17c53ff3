package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumenware/triage/internal/sample"
)

// Embedder turns text into fixed-dimension vectors. Samples and
// conversations must go through the same embedder so their vectors are
// comparable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever finds the library samples most similar to a conversation's
// representative text.
type Retriever struct {
	embedder Embedder
	index    *Index
	logger   *slog.Logger
}

func NewRetriever(embedder Embedder, index *Index, logger *slog.Logger) *Retriever {
	return &Retriever{embedder: embedder, index: index, logger: logger}
}

// Retrieve embeds text and returns at most k matches above the similarity
// floor. An empty result means the caller should proceed with an explicit
// "no reference samples" marker, not fail.
func (r *Retriever) Retrieve(ctx context.Context, text string, k int, floor float64) ([]Match, error) {
	if r.index.Len() == 0 {
		return nil, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(vecs))
	}

	matches := r.index.Search(vecs[0], k, floor)
	r.logger.Debug("sample retrieval", "matches", len(matches), "k", k, "floor", floor)
	return matches, nil
}

// Rebuild embeds every library record and atomically swaps the index.
// Records whose persisted embedding is already known are passed in via
// cached and skip re-embedding.
func (r *Retriever) Rebuild(ctx context.Context, lib *sample.Library, cached map[string][]float32) (map[string][]float32, error) {
	records := lib.Records()

	entries := make([]Entry, 0, len(records))
	var missing []sample.Record
	for _, rec := range records {
		if vec, ok := cached[rec.SampleID]; ok && len(vec) > 0 {
			entries = append(entries, entryFor(rec, vec))
			continue
		}
		missing = append(missing, rec)
	}

	fresh := make(map[string][]float32, len(missing))
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, rec := range missing {
			texts[i] = rec.EmbeddingText()
		}
		vecs, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %d samples: %w", len(missing), err)
		}
		if len(vecs) != len(missing) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
		}
		for i, rec := range missing {
			entries = append(entries, entryFor(rec, vecs[i]))
			fresh[rec.SampleID] = vecs[i]
		}
	}

	r.index.Swap(entries)
	r.logger.Info("vector index rebuilt",
		"entries", len(entries),
		"embedded", len(missing),
		"reused", len(entries)-len(missing),
	)
	return fresh, nil
}

func entryFor(rec sample.Record, vec []float32) Entry {
	return Entry{
		SampleID: rec.SampleID,
		Label:    rec.PrimaryLabel(),
		Summary:  rec.Summary,
		Snippet:  rec.Text,
		Vector:   vec,
	}
}
