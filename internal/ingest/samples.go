package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumenware/triage/internal/sample"
	"github.com/lumenware/triage/internal/vector"
)

// SampleStore is the persistence the sample pipeline needs.
type SampleStore interface {
	UpsertSamples(ctx context.Context, records []sample.Record) error
	ListSamples(ctx context.Context) ([]sample.Record, error)
	SampleEmbeddings(ctx context.Context) (map[string][]float32, error)
	SaveSampleEmbeddings(ctx context.Context, vectors map[string][]float32) error
}

// SampleSync keeps the in-memory library and vector index aligned with the
// persisted sample set. Readers keep serving the previous library and index
// until Swap; a mid-reload crash leaves them on the old snapshot.
type SampleSync struct {
	store     SampleStore
	holder    *sample.Holder
	retriever *vector.Retriever
	logger    *slog.Logger
}

func NewSampleSync(store SampleStore, holder *sample.Holder, retriever *vector.Retriever, logger *slog.Logger) *SampleSync {
	return &SampleSync{store: store, holder: holder, retriever: retriever, logger: logger}
}

// Ingest validates and persists new sample records, then reloads the
// library and index.
func (s *SampleSync) Ingest(ctx context.Context, records []sample.Record) error {
	normalized, err := sample.Normalize(records)
	if err != nil {
		return fmt.Errorf("normalize samples: %w", err)
	}
	if err := s.store.UpsertSamples(ctx, normalized); err != nil {
		return fmt.Errorf("persist samples: %w", err)
	}
	s.logger.Info("samples ingested", "count", len(normalized))
	return s.Reload(ctx)
}

// Reload rebuilds the library and vector index from the store. Embeddings
// already persisted are reused; only new or changed samples are embedded,
// and their vectors are written back so the next reload is cheap.
func (s *SampleSync) Reload(ctx context.Context) error {
	records, err := s.store.ListSamples(ctx)
	if err != nil {
		return fmt.Errorf("list samples: %w", err)
	}

	lib := sample.NewLibrary(records)

	cached, err := s.store.SampleEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("load sample embeddings: %w", err)
	}

	fresh, err := s.retriever.Rebuild(ctx, lib, cached)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	if len(fresh) > 0 {
		if err := s.store.SaveSampleEmbeddings(ctx, fresh); err != nil {
			return fmt.Errorf("persist sample embeddings: %w", err)
		}
	}

	s.holder.Swap(lib)
	s.logger.Info("sample library reloaded", "samples", lib.Len(), "labels", len(lib.Vocabulary()))
	return nil
}
