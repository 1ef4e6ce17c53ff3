package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lumenware/triage/internal/conversation"
)

// UpsertConversation writes one canonical conversation and its messages,
// keyed by their upstream ids. Rerunning with the same input is a no-op,
// which is what makes ingestion replay safe.
func (s *Store) UpsertConversation(ctx context.Context, convo conversation.Conversation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, channel_id, created_at, closed_at, user_id, manager_ids, bot_ids, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			channel_id = $2, created_at = $3, closed_at = $4,
			user_id = $5, manager_ids = $6, bot_ids = $7, meta = $8`,
		convo.ID, convo.ChannelID, convo.CreatedAt, convo.ClosedAt,
		convo.Participants.UserID, convo.Participants.ManagerIDs, convo.Participants.BotIDs,
		convo.Meta,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", convo.ID, err)
	}

	for _, msg := range convo.Messages {
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, sender_type, sender_id, created_at, text, attachments, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (conversation_id, id) DO UPDATE SET
				sender_type = $3, sender_id = $4, created_at = $5,
				text = $6, attachments = $7, meta = $8`,
			msg.ID, msg.ConversationID, msg.SenderType, msg.SenderID,
			msg.CreatedAt, msg.Text, msg.Attachments, msg.Meta,
		)
		if err != nil {
			return fmt.Errorf("upsert message %s/%s: %w", convo.ID, msg.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetConversation loads one conversation with its messages in canonical
// order. The labeler always reads through here so retries see fresh state.
func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var convo conversation.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, created_at, closed_at, user_id, manager_ids, bot_ids, meta
		FROM conversations WHERE id = $1`,
		id,
	).Scan(
		&convo.ID, &convo.ChannelID, &convo.CreatedAt, &convo.ClosedAt,
		&convo.Participants.UserID, &convo.Participants.ManagerIDs, &convo.Participants.BotIDs,
		&convo.Meta,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_type, sender_id, created_at, text, attachments, meta
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg conversation.Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderType, &msg.SenderID,
			&msg.CreatedAt, &msg.Text, &msg.Attachments, &msg.Meta,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		convo.Messages = append(convo.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return &convo, nil
}

// KnownConversationIDs returns the set of conversation ids already
// persisted; the factory uses it to compute new ids.
func (s *Store) KnownConversationIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("list conversation ids: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		known[id] = true
	}
	return known, rows.Err()
}
