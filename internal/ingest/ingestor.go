// Package ingest drives cursor-based incremental ingestion: pull pages
// from the upstream API, build canonical conversations, persist them, and
// hand the new ids to the labeler over NATS.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenware/triage/internal/conversation"
	"github.com/lumenware/triage/internal/events"
	"github.com/lumenware/triage/internal/source"
)

const chatListStream = "user-chats"

// messageStream returns the cursor stream id for one conversation's
// message listing.
func messageStream(chatID string) string {
	return "messages:" + chatID
}

// Source is the upstream paginated API.
type Source interface {
	FetchChatPage(ctx context.Context, window source.Window, cursor string) ([]source.Chat, string, error)
	FetchMessagePage(ctx context.Context, chatID, cursor string) ([]source.Message, string, error)
}

// Store is the persistence the ingestor needs.
type Store interface {
	LoadCursor(ctx context.Context, streamID string) (string, error)
	SaveCursor(ctx context.Context, streamID, value string) error
	UpsertConversation(ctx context.Context, convo conversation.Conversation) error
	KnownConversationIDs(ctx context.Context) (map[string]bool, error)
}

// Publisher emits ingestion events.
type Publisher interface {
	Publish(subject string, data any) error
}

type Ingestor struct {
	src         Source
	store       Store
	factory     *conversation.Factory
	events      Publisher // optional
	maxParallel int       // concurrent per-chat message fetches
	logger      *slog.Logger
}

func New(src Source, store Store, factory *conversation.Factory, ev Publisher, maxParallel int, logger *slog.Logger) *Ingestor {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Ingestor{
		src:         src,
		store:       store,
		factory:     factory,
		events:      ev,
		maxParallel: maxParallel,
		logger:      logger,
	}
}

// Run ingests one window. The chat-list cursor advances strictly after
// each page's conversations are durably written, so an aborted run
// resumes from the last saved point with no loss; duplicates are absorbed
// by upsert-on-id. Returns the ids of newly built labelable conversations.
func (i *Ingestor) Run(ctx context.Context, window source.Window) ([]string, error) {
	known, err := i.store.KnownConversationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load known ids: %w", err)
	}

	cursor, err := i.store.LoadCursor(ctx, chatListStream)
	if err != nil {
		return nil, fmt.Errorf("load chat cursor: %w", err)
	}

	var allNew []string
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return allNew, err
		}

		chats, next, err := i.src.FetchChatPage(ctx, window, cursor)
		if err != nil {
			// Cursor untouched; the next run resumes from the same point.
			return allNew, fmt.Errorf("fetch chat page: %w", err)
		}
		pages++
		if len(chats) == 0 && next == "" {
			break
		}

		newIDs, err := i.processPage(ctx, chats, known)
		if err != nil {
			return allNew, err
		}
		allNew = append(allNew, newIDs...)
		for _, id := range newIDs {
			known[id] = true
		}

		if next == "" {
			break
		}
		if err := i.store.SaveCursor(ctx, chatListStream, next); err != nil {
			return allNew, fmt.Errorf("save chat cursor: %w", err)
		}
		cursor = next
	}

	i.logger.Info("ingestion complete",
		"pages", pages,
		"new_conversations", len(allNew),
	)

	if len(allNew) > 0 && i.events != nil {
		payload := events.ConversationsReady{
			ConversationIDs: allNew,
			IngestedAt:      time.Now().UTC(),
		}
		if err := i.events.Publish(events.SubjectConversationsReady, payload); err != nil {
			i.logger.Warn("failed to publish conversations ready", "error", err)
		}
	}

	return allNew, nil
}

// processPage fetches messages for each chat on the page with bounded
// parallelism, builds canonical conversations, and persists them.
func (i *Ingestor) processPage(ctx context.Context, chats []source.Chat, known map[string]bool) ([]string, error) {
	var mu sync.Mutex
	allMsgs := make([]source.Message, 0, len(chats)*8)
	msgCursors := make(map[string]string, len(chats))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.maxParallel)
	for _, chat := range chats {
		chat := chat
		g.Go(func() error {
			msgs, lastCursor, err := i.collectMessages(gctx, chat.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			allMsgs = append(allMsgs, msgs...)
			if lastCursor != "" {
				msgCursors[chat.ID] = lastCursor
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	result := i.factory.Build(chats, allMsgs, known)

	for _, convo := range result.Conversations {
		if err := i.store.UpsertConversation(ctx, convo); err != nil {
			return nil, fmt.Errorf("persist conversation %s: %w", convo.ID, err)
		}
	}

	// Message cursors advance only now that the page is durable.
	for chatID, cur := range msgCursors {
		if err := i.store.SaveCursor(ctx, messageStream(chatID), cur); err != nil {
			return nil, fmt.Errorf("save message cursor for %s: %w", chatID, err)
		}
	}

	for _, id := range result.Unlabelable {
		i.logger.Warn("conversation persisted without usable messages", "conversation_id", id)
	}

	return result.NewIDs, nil
}

// collectMessages drains the message stream of one chat from its saved
// cursor, returning the last non-empty cursor seen.
func (i *Ingestor) collectMessages(ctx context.Context, chatID string) ([]source.Message, string, error) {
	cursor, err := i.store.LoadCursor(ctx, messageStream(chatID))
	if err != nil {
		return nil, "", err
	}
	lastSaved := cursor

	var all []source.Message
	for {
		msgs, next, err := i.src.FetchMessagePage(ctx, chatID, cursor)
		if err != nil {
			return nil, "", err
		}
		all = append(all, msgs...)
		if next == "" {
			break
		}
		cursor = next
		lastSaved = next
	}
	return all, lastSaved, nil
}
