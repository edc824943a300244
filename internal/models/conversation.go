package models

import (
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultTitle is the title of a conversation that has no user message yet.
const DefaultTitle = "New Chat"

// titleLimit is the number of runes of the first user message kept in a title.
const titleLimit = 20

// ErrInvalidRole is returned for roles outside user/assistant.
var ErrInvalidRole = errors.New("message role must be user or assistant")

// ParseRole validates a role received from outside the process.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAssistant:
		return r, nil
	default:
		return "", errors.Wrapf(ErrInvalidRole, "got %q", s)
	}
}

// Message represents a single chat message
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Conversation represents a chat conversation with messages
type Conversation struct {
	ID       int64
	Title    string
	Created  time.Time
	Messages []Message
}

// Timestamp renders the creation time for the conversation list.
func (c Conversation) Timestamp() string {
	return timestampAt(c.Created, time.Now())
}

func timestampAt(created, now time.Time) string {
	if now.Sub(created) < time.Minute {
		return "Just now"
	}
	return humanize.RelTime(created, now, "ago", "from now")
}

// Preview returns a shortened copy of the last message, or "" when empty.
func (c Conversation) Preview(limit int) string {
	if len(c.Messages) == 0 {
		return ""
	}
	return Truncate(c.Messages[len(c.Messages)-1].Content, limit)
}

// TitleFrom derives a conversation title from the first user message.
func TitleFrom(content string) string {
	return Truncate(content, titleLimit)
}

// Truncate keeps the first limit runes of s and appends "..." when it cut anything.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// HasUserMessage reports whether any message in msgs was written by the user.
func HasUserMessage(msgs []Message) bool {
	for _, m := range msgs {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// CloneMessages returns a copy of msgs that shares no backing array with it.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
