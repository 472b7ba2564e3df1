package api

import (
	"encoding/json"
	"strings"
	"time"
)

// Message is the backend-owned part of a chat message. Client-only view
// state lives in chatsync.Entry and never round-trips to the backend.
type Message struct {
	ID             int64
	ConversationID int64
	Author         string
	Content        string
	MediaURL       string
	MediaID        string
	SentAt         time.Time

	// badSentAt holds a sent_at value neither timestamp layout accepted.
	badSentAt string
}

func (m Message) HasMedia() bool {
	return strings.TrimSpace(m.MediaURL) != ""
}

// UnmarshalJSON accepts both payload generations: chat_id/sender_sub and
// conversation_id/author.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             int64   `json:"id"`
		ChatID         *int64  `json:"chat_id"`
		ConversationID *int64  `json:"conversation_id"`
		SenderSub      string  `json:"sender_sub"`
		Author         string  `json:"author"`
		Content        *string `json:"content"`
		MediaURL       *string `json:"media_url"`
		MediaID        *string `json:"media_id"`
		SentAt         *string `json:"sent_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{ID: raw.ID}
	if raw.SentAt != nil {
		if t, ok := parseSentAt(*raw.SentAt); ok {
			m.SentAt = t
		} else {
			m.badSentAt = *raw.SentAt
		}
	}
	switch {
	case raw.ChatID != nil:
		m.ConversationID = *raw.ChatID
	case raw.ConversationID != nil:
		m.ConversationID = *raw.ConversationID
	}
	m.Author = raw.SenderSub
	if m.Author == "" {
		m.Author = raw.Author
	}
	if raw.Content != nil {
		m.Content = *raw.Content
	}
	if raw.MediaURL != nil {
		m.MediaURL = *raw.MediaURL
	}
	if raw.MediaID != nil {
		m.MediaID = *raw.MediaID
	}
	return nil
}

// naiveLayout is what the backend emits for columns stored without a zone.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// parseSentAt reads RFC 3339 timestamps and naive ones, which are taken as UTC.
func parseSentAt(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(naiveLayout, v, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

type Participant struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (p Participant) Name() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Conversation struct {
	ID          int64       `json:"id"`
	Participant Participant `json:"participant"`
	Title       string      `json:"title,omitempty"`
}

func (c Conversation) DisplayName() string {
	if name := c.Participant.Name(); name != "" {
		return name
	}
	return strings.TrimSpace(c.Title)
}

type User struct {
	Sub       string `json:"sub"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
