package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Conversation is the canonical representation of one support thread.
// Identity is the stable upstream chat id; rebuilding from the same raw
// input always yields the same record.
type Conversation struct {
	ID           string
	ChannelID    string
	CreatedAt    time.Time
	ClosedAt     *time.Time
	Participants Participants
	Messages     []Message
	Meta         map[string]any
}

// Participants holds weak references by id; profiles are not owned here.
type Participants struct {
	UserID     string
	ManagerIDs []string
	BotIDs     []string
}

type Message struct {
	ID             string
	ConversationID string
	SenderType     string // user | manager | bot | system
	SenderID       string
	CreatedAt      time.Time
	Text           string
	Attachments    []Attachment
	Meta           map[string]any
}

type Attachment struct {
	Type string
	URL  string
	Name string
}

// Transcript renders the message sequence as "[sender] text" lines,
// oldest first. Messages are already in canonical order after Build.
func (c *Conversation) Transcript() string {
	var sb strings.Builder
	for _, msg := range c.Messages {
		sender := msg.SenderType
		if sender == "" {
			sender = "unknown"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", sender, msg.Text)
	}
	return sb.String()
}

// Labelable reports whether the conversation has any usable messages.
func (c *Conversation) Labelable() bool {
	return len(c.Messages) > 0
}
