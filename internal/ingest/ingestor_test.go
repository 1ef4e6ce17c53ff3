package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lumenware/triage/internal/conversation"
	"github.com/lumenware/triage/internal/source"
)

type fakeSource struct {
	mu        sync.Mutex
	chatPages map[string]chatResult    // cursor -> page
	msgPages  map[string]messageResult // chatID+"|"+cursor -> page
	chatCalls []string
	failPage  string // cursor at which FetchChatPage errors
}

type chatResult struct {
	chats []source.Chat
	next  string
}

type messageResult struct {
	msgs []source.Message
	next string
}

func (f *fakeSource) FetchChatPage(_ context.Context, _ source.Window, cursor string) ([]source.Chat, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls = append(f.chatCalls, cursor)
	if f.failPage != "" && cursor == f.failPage {
		return nil, "", fmt.Errorf("upstream unavailable")
	}
	page := f.chatPages[cursor]
	return page.chats, page.next, nil
}

func (f *fakeSource) FetchMessagePage(_ context.Context, chatID, cursor string) ([]source.Message, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := f.msgPages[chatID+"|"+cursor]
	return page.msgs, page.next, nil
}

type fakeIngestStore struct {
	mu      sync.Mutex
	cursors map[string]string
	convos  map[string]conversation.Conversation
	known   map[string]bool
}

func newFakeIngestStore() *fakeIngestStore {
	return &fakeIngestStore{
		cursors: make(map[string]string),
		convos:  make(map[string]conversation.Conversation),
		known:   make(map[string]bool),
	}
}

func (f *fakeIngestStore) LoadCursor(_ context.Context, streamID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[streamID], nil
}

func (f *fakeIngestStore) SaveCursor(_ context.Context, streamID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[streamID] = value
	return nil
}

func (f *fakeIngestStore) UpsertConversation(_ context.Context, convo conversation.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convos[convo.ID] = convo
	return nil
}

func (f *fakeIngestStore) KnownConversationIDs(_ context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.known))
	for k, v := range f.known {
		out[k] = v
	}
	return out, nil
}

type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (c *capturingPublisher) Publish(subject string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func testChat(id string) source.Chat {
	return source.Chat{
		ID:        id,
		ChannelID: "ch1",
		UserID:    "u1",
		State:     "closed",
		OpenedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func testMessage(id, chatID, text string, minute int) source.Message {
	return source.Message{
		ID:         id,
		ChatID:     chatID,
		PersonType: "user",
		PersonID:   "u1",
		PlainText:  text,
		CreatedAt:  time.Date(2026, 3, 1, 10, minute, 0, 0, time.UTC),
	}
}

func testIngestor(src Source, store Store, pub Publisher) *Ingestor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(src, store, conversation.NewFactory(logger), pub, 2, logger)
}

func TestRun_PaginatesAndPersists(t *testing.T) {
	src := &fakeSource{
		chatPages: map[string]chatResult{
			"":   {chats: []source.Chat{testChat("c1")}, next: "p2"},
			"p2": {chats: []source.Chat{testChat("c2")}, next: ""},
		},
		msgPages: map[string]messageResult{
			"c1|": {msgs: []source.Message{testMessage("m1", "c1", "hello", 1)}},
			"c2|": {msgs: []source.Message{testMessage("m2", "c2", "hi", 1)}},
		},
	}
	store := newFakeIngestStore()
	pub := &capturingPublisher{}

	newIDs, err := testIngestor(src, store, pub).Run(context.Background(), source.Window{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(newIDs) != 2 {
		t.Fatalf("new ids = %v, want 2", newIDs)
	}
	if len(store.convos) != 2 {
		t.Errorf("persisted = %d conversations, want 2", len(store.convos))
	}
	if store.cursors[chatListStream] != "p2" {
		t.Errorf("chat cursor = %q, want p2", store.cursors[chatListStream])
	}
	if len(pub.subjects) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.subjects))
	}
}

func TestRun_CursorSavedOnlyAfterDurableWrite(t *testing.T) {
	// Page 1 persists and its cursor is saved; page 2 fails upstream, so
	// the saved cursor still points at page 2 for the next run.
	src := &fakeSource{
		chatPages: map[string]chatResult{
			"":   {chats: []source.Chat{testChat("c1")}, next: "p2"},
			"p2": {chats: []source.Chat{testChat("c2")}, next: ""},
		},
		msgPages: map[string]messageResult{
			"c1|": {msgs: []source.Message{testMessage("m1", "c1", "hello", 1)}},
		},
		failPage: "p2",
	}
	store := newFakeIngestStore()

	_, err := testIngestor(src, store, nil).Run(context.Background(), source.Window{})
	if err == nil {
		t.Fatal("expected error from failed page")
	}
	if len(store.convos) != 1 {
		t.Errorf("persisted = %d, want 1 (first page only)", len(store.convos))
	}
	if store.cursors[chatListStream] != "p2" {
		t.Errorf("cursor = %q, want p2", store.cursors[chatListStream])
	}

	// Second run resumes from p2 without refetching page 1.
	src.failPage = ""
	src.msgPages["c2|"] = messageResult{msgs: []source.Message{testMessage("m2", "c2", "hi", 1)}}
	newIDs, err := testIngestor(src, store, nil).Run(context.Background(), source.Window{})
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if len(newIDs) != 1 || newIDs[0] != "c2" {
		t.Errorf("resumed new ids = %v, want [c2]", newIDs)
	}
	if src.chatCalls[len(src.chatCalls)-1] != "p2" {
		t.Errorf("resume fetched from %q, want p2", src.chatCalls[len(src.chatCalls)-1])
	}
}

func TestRun_KnownConversationsNotRepublished(t *testing.T) {
	src := &fakeSource{
		chatPages: map[string]chatResult{
			"": {chats: []source.Chat{testChat("seen"), testChat("fresh")}},
		},
		msgPages: map[string]messageResult{
			"seen|":  {msgs: []source.Message{testMessage("m1", "seen", "old", 1)}},
			"fresh|": {msgs: []source.Message{testMessage("m2", "fresh", "new", 1)}},
		},
	}
	store := newFakeIngestStore()
	store.known["seen"] = true
	pub := &capturingPublisher{}

	newIDs, err := testIngestor(src, store, pub).Run(context.Background(), source.Window{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(newIDs) != 1 || newIDs[0] != "fresh" {
		t.Errorf("new ids = %v, want [fresh]", newIDs)
	}
	// Both still persisted; dedup affects labeling, not storage.
	if len(store.convos) != 2 {
		t.Errorf("persisted = %d, want 2", len(store.convos))
	}
}

func TestRun_MessagePaginationAndCursor(t *testing.T) {
	src := &fakeSource{
		chatPages: map[string]chatResult{
			"": {chats: []source.Chat{testChat("c1")}},
		},
		msgPages: map[string]messageResult{
			"c1|":   {msgs: []source.Message{testMessage("m1", "c1", "one", 1)}, next: "mp2"},
			"c1|mp2": {msgs: []source.Message{testMessage("m2", "c1", "two", 2)}},
		},
	}
	store := newFakeIngestStore()

	_, err := testIngestor(src, store, nil).Run(context.Background(), source.Window{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(store.convos["c1"].Messages); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
	if store.cursors[messageStream("c1")] != "mp2" {
		t.Errorf("message cursor = %q, want mp2", store.cursors[messageStream("c1")])
	}
}

func TestRun_EmptyUpstream(t *testing.T) {
	src := &fakeSource{chatPages: map[string]chatResult{}}
	store := newFakeIngestStore()
	pub := &capturingPublisher{}

	newIDs, err := testIngestor(src, store, pub).Run(context.Background(), source.Window{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(newIDs) != 0 {
		t.Errorf("new ids = %v, want none", newIDs)
	}
	if len(pub.subjects) != 0 {
		t.Errorf("no event expected for empty ingest, got %v", pub.subjects)
	}
}
