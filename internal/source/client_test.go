package source

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWindow() Window {
	return Window{
		From: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestFetchChatPage_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Access-Key"); got != "ak" {
			t.Errorf("access key header = %q", got)
		}
		switch r.URL.Query().Get("since") {
		case "":
			w.Write([]byte(`{"userChats":[{"id":"chat_1","userId":"u1","state":"closed","openedAt":"2026-08-01T09:00:00Z","tags":["refund"]}],"next":"cur-2"}`))
		case "cur-2":
			w.Write([]byte(`{"userChats":[{"id":"chat_2","userId":"u2","state":"open","openedAt":"2026-08-01T10:00:00Z"}],"next":""}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("since"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "ak", "as", 100, 2, testLogger())

	chats, next, err := c.FetchChatPage(context.Background(), testWindow(), "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != "chat_1" {
		t.Fatalf("first page chats = %+v", chats)
	}
	if next != "cur-2" {
		t.Fatalf("next = %q", next)
	}
	if chats[0].Raw["userId"] != "u1" {
		t.Errorf("raw payload not preserved: %+v", chats[0].Raw)
	}

	chats, next, err = c.FetchChatPage(context.Background(), testWindow(), next)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != "chat_2" {
		t.Fatalf("second page chats = %+v", chats)
	}
	if next != "" {
		t.Errorf("expected end of stream, next = %q", next)
	}
}

func TestFetchMessagePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/open/v5/user-chats/chat_1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"messages":[{"id":"m1","chatId":"chat_1","personType":"user","plainText":"hello","createdAt":"2026-08-01T09:00:01Z"}],"next":""}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "ak", "as", 100, 2, testLogger())
	msgs, next, err := c.FetchMessagePage(context.Background(), "chat_1", "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].PlainText != "hello" {
		t.Fatalf("msgs = %+v", msgs)
	}
	if next != "" {
		t.Errorf("next = %q", next)
	}
}

func TestFetchChatPage_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"userChats":[],"next":""}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "ak", "as", 100, 3, testLogger())
	c.client.Timeout = 5 * time.Second

	_, _, err := c.FetchChatPage(context.Background(), testWindow(), "")
	if err != nil {
		t.Fatalf("expected retry success, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestFetchChatPage_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "ak", "as", 100, 2, testLogger())

	_, _, err := c.FetchChatPage(context.Background(), testWindow(), "")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", calls.Load())
	}
}

func TestFetchChatPage_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "ak", "as", 100, 3, testLogger())

	_, _, err := c.FetchChatPage(context.Background(), testWindow(), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected no retry on 401, got %d calls", calls.Load())
	}
}
