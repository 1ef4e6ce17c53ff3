package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LoadCursor returns the last durably saved cursor for a stream, or the
// empty string when the stream starts from the beginning.
func (s *Store) LoadCursor(ctx context.Context, streamID string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM cursors WHERE stream_id = $1`,
		streamID,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load cursor %s: %w", streamID, err)
	}
	return value, nil
}

// SaveCursor persists the cursor for a stream. Callers must only save
// after the corresponding page's items have been durably written, which
// keeps delivery at-least-once.
func (s *Store) SaveCursor(ctx context.Context, streamID, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cursors (stream_id, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (stream_id) DO UPDATE SET value = $2, updated_at = now()`,
		streamID, value,
	)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", streamID, err)
	}
	return nil
}
