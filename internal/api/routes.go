package api

import (
	"fmt"
	"net/url"
)

// Routes captures the two REST shapes the backend has shipped with.
type Routes struct {
	Layout           string
	ConversationsKey string
	MediaFileField   string
}

func RoutesFor(layout string) (Routes, error) {
	switch layout {
	case "", "chats":
		return Routes{Layout: "chats", ConversationsKey: "chat_id", MediaFileField: "media_file"}, nil
	case "conversations":
		return Routes{Layout: "conversations", ConversationsKey: "conversation_id", MediaFileField: "file"}, nil
	default:
		return Routes{}, fmt.Errorf("unknown route layout %q", layout)
	}
}

func (r Routes) ListConversations() string {
	if r.Layout == "conversations" {
		return "/api/conversations"
	}
	return "/api/chats"
}

func (r Routes) Messages(conversationID int64) string {
	if r.Layout == "conversations" {
		return fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	}
	return fmt.Sprintf("/api/messages/%d/", conversationID)
}

func (r Routes) SendText() string {
	if r.Layout == "conversations" {
		return "/api/messages"
	}
	return "/api/messages/text/"
}

func (r Routes) SendMedia() string {
	if r.Layout == "conversations" {
		return "/api/messages/media"
	}
	return "/api/messages/media/"
}

func (r Routes) SearchUsers(query string) string {
	return "/api/users/search?query=" + url.QueryEscape(query)
}

func (r Routes) CreateChat() string {
	return "/api/chats"
}

func (r Routes) RegisterUser() string {
	return "/api/users/register"
}
