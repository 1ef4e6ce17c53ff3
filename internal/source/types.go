package source

import (
	"encoding/json"
	"time"
)

// Chat is one conversation header as returned by the upstream list endpoint.
// Raw preserves the full source payload for forward-compatible metadata.
type Chat struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channelId"`
	UserID    string     `json:"userId"`
	State     string     `json:"state"`
	OpenedAt  time.Time  `json:"openedAt"`
	ClosedAt  *time.Time `json:"closedAt"`
	Tags      []string   `json:"tags"`

	Raw map[string]any `json:"-"`
}

func (c *Chat) UnmarshalJSON(data []byte) error {
	type alias Chat
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Chat(a)
	c.Raw = raw
	return nil
}

// Message is one utterance as returned by the upstream message endpoint.
type Message struct {
	ID         string       `json:"id"`
	ChatID     string       `json:"chatId"`
	PersonType string       `json:"personType"` // user | manager | bot | system
	PersonID   string       `json:"personId"`
	PlainText  string       `json:"plainText"`
	CreatedAt  time.Time    `json:"createdAt"`
	Files      []Attachment `json:"files"`

	Raw map[string]any `json:"-"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(a)
	m.Raw = raw
	return nil
}

type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Window bounds a conversation-list poll by creation time.
type Window struct {
	From time.Time
	To   time.Time
}

type chatPage struct {
	UserChats []Chat `json:"userChats"`
	Next      string `json:"next"`
}

type messagePage struct {
	Messages []Message `json:"messages"`
	Next     string    `json:"next"`
}
