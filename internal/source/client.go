package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const initialBackoff = 500 * time.Millisecond

// Client pulls paginated pages from the upstream support-chat API.
// It never persists cursors itself; callers decide when a page has been
// durably written and only then advance their cursor.
type Client struct {
	baseURL      string
	accessKey    string
	accessSecret string
	pageSize     int
	maxRetries   int
	client       *http.Client
	logger       *slog.Logger
}

func NewClient(baseURL, accessKey, accessSecret string, pageSize, maxRetries int, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		accessKey:    accessKey,
		accessSecret: accessSecret,
		pageSize:     pageSize,
		maxRetries:   maxRetries,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

// FetchChatPage returns one page of conversation headers within the window.
// An empty next cursor signals end-of-stream for this poll.
func (c *Client) FetchChatPage(ctx context.Context, window Window, cursor string) ([]Chat, string, error) {
	q := url.Values{}
	q.Set("createdFrom", window.From.UTC().Format(time.RFC3339))
	q.Set("createdTo", window.To.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("since", cursor)
	}

	var page chatPage
	if err := c.get(ctx, "/open/v5/user-chats", q, &page); err != nil {
		return nil, "", fmt.Errorf("fetch chat page: %w", err)
	}
	return page.UserChats, page.Next, nil
}

// FetchMessagePage returns one page of messages for a conversation,
// oldest first.
func (c *Client) FetchMessagePage(ctx context.Context, chatID, cursor string) ([]Message, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("sortOrder", "asc")
	if cursor != "" {
		q.Set("since", cursor)
	}

	var page messagePage
	if err := c.get(ctx, "/open/v5/user-chats/"+url.PathEscape(chatID)+"/messages", q, &page); err != nil {
		return nil, "", fmt.Errorf("fetch message page for %s: %w", chatID, err)
	}
	return page.Messages, page.Next, nil
}

// get performs a GET with bounded exponential backoff on transient failures.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying upstream request",
				"path", path,
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		retryable, err := c.doOnce(ctx, path, query, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) doOnce(ctx context.Context, path string, query url.Values, out any) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Access-Key", c.accessKey)
	req.Header.Set("X-Access-Secret", c.accessSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	default:
		return false, fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("unmarshal response: %w", err)
	}
	return false, nil
}
