package conversation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lumenware/triage/internal/source"
)

func testFactory() *Factory {
	return NewFactory(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ts(min int) time.Time {
	return time.Date(2026, 8, 1, 9, min, 0, 0, time.UTC)
}

func TestBuild_OrdersMessagesChronologically(t *testing.T) {
	chats := []source.Chat{{ID: "chat_1", UserID: "u1", OpenedAt: ts(0)}}
	msgs := []source.Message{
		{ID: "m3", ChatID: "chat_1", PersonType: "user", PlainText: "third", CreatedAt: ts(3)},
		{ID: "m1", ChatID: "chat_1", PersonType: "user", PlainText: "first", CreatedAt: ts(1)},
		{ID: "m2", ChatID: "chat_1", PersonType: "manager", PersonID: "mgr1", PlainText: "second", CreatedAt: ts(2)},
	}

	result := testFactory().Build(chats, msgs, nil)

	if len(result.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(result.Conversations))
	}
	convo := result.Conversations[0]
	if len(convo.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(convo.Messages))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if convo.Messages[i].ID != want {
			t.Errorf("message %d = %s, want %s", i, convo.Messages[i].ID, want)
		}
	}
	for i := 1; i < len(convo.Messages); i++ {
		if convo.Messages[i].CreatedAt.Before(convo.Messages[i-1].CreatedAt) {
			t.Errorf("messages not in ascending created_at order at %d", i)
		}
	}
	if got := convo.Participants.ManagerIDs; len(got) != 1 || got[0] != "mgr1" {
		t.Errorf("manager ids = %v", got)
	}
}

func TestBuild_TieBrokenByMessageID(t *testing.T) {
	chats := []source.Chat{{ID: "chat_1", OpenedAt: ts(0)}}
	msgs := []source.Message{
		{ID: "m_b", ChatID: "chat_1", PersonType: "user", PlainText: "b", CreatedAt: ts(1)},
		{ID: "m_a", ChatID: "chat_1", PersonType: "user", PlainText: "a", CreatedAt: ts(1)},
	}

	result := testFactory().Build(chats, msgs, nil)
	got := result.Conversations[0].Messages
	if got[0].ID != "m_a" || got[1].ID != "m_b" {
		t.Errorf("tie not broken by id: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestBuild_DropsEmptyTextAndExcludesFromNewIDs(t *testing.T) {
	chats := []source.Chat{
		{ID: "chat_ok", OpenedAt: ts(0)},
		{ID: "chat_empty", OpenedAt: ts(0)},
	}
	msgs := []source.Message{
		{ID: "m1", ChatID: "chat_ok", PersonType: "user", PlainText: "hello", CreatedAt: ts(1)},
		{ID: "m2", ChatID: "chat_empty", PersonType: "user", PlainText: "   ", CreatedAt: ts(1)},
		{ID: "m3", ChatID: "chat_empty", PersonType: "bot", PlainText: "", CreatedAt: ts(2)},
	}

	result := testFactory().Build(chats, msgs, nil)

	if len(result.Conversations) != 2 {
		t.Fatalf("both conversations should be persisted, got %d", len(result.Conversations))
	}
	if len(result.NewIDs) != 1 || result.NewIDs[0] != "chat_ok" {
		t.Errorf("new ids = %v, want [chat_ok]", result.NewIDs)
	}
	if len(result.Unlabelable) != 1 || result.Unlabelable[0] != "chat_empty" {
		t.Errorf("unlabelable = %v, want [chat_empty]", result.Unlabelable)
	}
}

func TestBuild_KnownIDsExcluded(t *testing.T) {
	chats := []source.Chat{{ID: "chat_1", OpenedAt: ts(0)}}
	msgs := []source.Message{
		{ID: "m1", ChatID: "chat_1", PersonType: "user", PlainText: "hi", CreatedAt: ts(1)},
	}

	result := testFactory().Build(chats, msgs, map[string]bool{"chat_1": true})
	if len(result.NewIDs) != 0 {
		t.Errorf("known conversation must not reappear in new ids: %v", result.NewIDs)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	chats := []source.Chat{{ID: "chat_1", OpenedAt: ts(0)}}
	msgs := []source.Message{
		{ID: "m1", ChatID: "chat_1", PersonType: "user", PlainText: "hi", CreatedAt: ts(1)},
		{ID: "m2", ChatID: "chat_1", PersonType: "manager", PlainText: "hello", CreatedAt: ts(2)},
		// duplicate delivery of m1, tolerated via dedup by id
		{ID: "m1", ChatID: "chat_1", PersonType: "user", PlainText: "hi", CreatedAt: ts(1)},
	}

	f := testFactory()
	first := f.Build(chats, msgs, nil)
	second := f.Build(chats, msgs, nil)

	if len(first.Conversations[0].Messages) != 2 {
		t.Errorf("duplicate message not deduplicated: %d", len(first.Conversations[0].Messages))
	}
	if len(first.Conversations[0].Messages) != len(second.Conversations[0].Messages) {
		t.Errorf("rebuild changed message count")
	}
	if len(first.NewIDs) != len(second.NewIDs) {
		t.Errorf("rebuild changed new ids")
	}
}

func TestBuild_OrphanMessagesSkipped(t *testing.T) {
	chats := []source.Chat{{ID: "chat_1", OpenedAt: ts(0)}}
	msgs := []source.Message{
		{ID: "m1", ChatID: "chat_1", PersonType: "user", PlainText: "hi", CreatedAt: ts(1)},
		{ID: "m9", ChatID: "chat_unknown", PersonType: "user", PlainText: "lost", CreatedAt: ts(1)},
	}

	result := testFactory().Build(chats, msgs, nil)
	if len(result.Conversations) != 1 {
		t.Fatalf("conversations = %d", len(result.Conversations))
	}
	if len(result.Conversations[0].Messages) != 1 {
		t.Errorf("orphan message leaked into conversation")
	}
}

func TestBuild_MasksPII(t *testing.T) {
	chats := []source.Chat{{ID: "chat_1", OpenedAt: ts(0)}}
	msgs := []source.Message{
		{ID: "m1", ChatID: "chat_1", PersonType: "user", PlainText: "my number is 010-1234-5678", CreatedAt: ts(1)},
	}

	result := testFactory().Build(chats, msgs, nil)
	got := result.Conversations[0].Messages[0].Text
	if got == "my number is 010-1234-5678" {
		t.Errorf("PII not masked: %q", got)
	}
}

// Ingest→Normalize scenario: one conversation with out-of-order messages,
// one with only empty-text messages.
func TestBuild_EndToEndScenario(t *testing.T) {
	chats := []source.Chat{
		{ID: "chat_a", OpenedAt: ts(0)},
		{ID: "chat_b", OpenedAt: ts(0)},
	}
	msgs := []source.Message{
		{ID: "a3", ChatID: "chat_a", PersonType: "manager", PlainText: "resolved", CreatedAt: ts(5)},
		{ID: "a1", ChatID: "chat_a", PersonType: "user", PlainText: "where is my order", CreatedAt: ts(1)},
		{ID: "a2", ChatID: "chat_a", PersonType: "bot", PlainText: "checking", CreatedAt: ts(3)},
		{ID: "b1", ChatID: "chat_b", PersonType: "user", PlainText: "", CreatedAt: ts(1)},
		{ID: "b2", ChatID: "chat_b", PersonType: "user", PlainText: " ", CreatedAt: ts(2)},
	}

	result := testFactory().Build(chats, msgs, nil)

	if len(result.NewIDs) != 1 || result.NewIDs[0] != "chat_a" {
		t.Fatalf("new ids = %v, want exactly [chat_a]", result.NewIDs)
	}
	var a *Conversation
	for i := range result.Conversations {
		if result.Conversations[i].ID == "chat_a" {
			a = &result.Conversations[i]
		}
	}
	if a == nil || len(a.Messages) != 3 {
		t.Fatalf("chat_a should have 3 messages")
	}
	for i, want := range []string{"a1", "a2", "a3"} {
		if a.Messages[i].ID != want {
			t.Errorf("message %d = %s, want %s", i, a.Messages[i].ID, want)
		}
	}
}
