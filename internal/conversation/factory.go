package conversation

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/lumenware/triage/internal/pii"
	"github.com/lumenware/triage/internal/source"
)

// Factory joins raw chat headers with their messages into canonical
// conversations. Building is deterministic: the same raw input always
// produces the same output, so reruns are safe.
type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger}
}

// BuildResult is the outcome of one factory pass.
type BuildResult struct {
	Conversations []Conversation
	// NewIDs lists conversations not previously known that have at least
	// one usable message. These are the ids handed to the labeler.
	NewIDs []string
	// Unlabelable lists conversations whose messages were all dropped.
	// They are still persisted but flagged for manual inspection.
	Unlabelable []string
}

// Build normalizes raw pages into conversations. known holds conversation
// ids already present in the store; only unseen labelable ids end up in
// NewIDs.
func (f *Factory) Build(chats []source.Chat, msgs []source.Message, known map[string]bool) BuildResult {
	byChat := make(map[string][]source.Message, len(chats))
	headerIDs := make(map[string]bool, len(chats))
	for _, c := range chats {
		headerIDs[c.ID] = true
	}

	for _, m := range msgs {
		if m.ID == "" || m.ChatID == "" {
			f.logger.Warn("dropping malformed raw message", "id", m.ID, "chat_id", m.ChatID)
			continue
		}
		if !headerIDs[m.ChatID] {
			f.logger.Warn("dropping orphan message without header", "id", m.ID, "chat_id", m.ChatID)
			continue
		}
		byChat[m.ChatID] = append(byChat[m.ChatID], m)
	}

	var result BuildResult
	for _, chat := range chats {
		if chat.ID == "" {
			f.logger.Warn("dropping chat header without id")
			continue
		}

		convo := Conversation{
			ID:        chat.ID,
			ChannelID: chat.ChannelID,
			CreatedAt: chat.OpenedAt,
			ClosedAt:  chat.ClosedAt,
			Participants: Participants{
				UserID: chat.UserID,
			},
			Meta: chat.Raw,
		}
		convo.Messages = f.normalizeMessages(chat.ID, byChat[chat.ID], &convo.Participants)

		if !convo.Labelable() {
			f.logger.Warn("conversation has no usable messages", "conversation_id", chat.ID)
			result.Unlabelable = append(result.Unlabelable, chat.ID)
		} else if !known[chat.ID] {
			result.NewIDs = append(result.NewIDs, chat.ID)
		}
		result.Conversations = append(result.Conversations, convo)
	}

	sort.Strings(result.NewIDs)
	sort.Strings(result.Unlabelable)
	return result
}

// normalizeMessages deduplicates by id, orders by created_at with id as
// tiebreak, drops empty-text messages and masks PII in the survivors.
func (f *Factory) normalizeMessages(chatID string, raw []source.Message, parts *Participants) []Message {
	seen := make(map[string]bool, len(raw))
	managers := make(map[string]bool)
	bots := make(map[string]bool)

	msgs := make([]Message, 0, len(raw))
	for _, m := range raw {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true

		if strings.TrimSpace(m.PlainText) == "" {
			f.logger.Warn("dropping empty-text message", "conversation_id", chatID, "message_id", m.ID)
			continue
		}

		switch m.PersonType {
		case "manager":
			if m.PersonID != "" {
				managers[m.PersonID] = true
			}
		case "bot":
			if m.PersonID != "" {
				bots[m.PersonID] = true
			}
		}

		attachments := make([]Attachment, 0, len(m.Files))
		for _, a := range m.Files {
			attachments = append(attachments, Attachment{Type: a.Type, URL: a.URL, Name: a.Name})
		}

		msgs = append(msgs, Message{
			ID:             m.ID,
			ConversationID: chatID,
			SenderType:     m.PersonType,
			SenderID:       m.PersonID,
			CreatedAt:      m.CreatedAt,
			Text:           pii.Mask(m.PlainText),
			Attachments:    attachments,
			Meta:           m.Raw,
		})
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	parts.ManagerIDs = sortedKeys(managers)
	parts.BotIDs = sortedKeys(bots)
	return msgs
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
