package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatline/internal/api"
	"chatline/internal/chatsync"
	"chatline/internal/export"
	"chatline/internal/session"
	"chatline/internal/store"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	userSearchDebounce = 300 * time.Millisecond
	requestTimeout     = 20 * time.Second
	loginTimeout       = 5 * time.Minute
)

// Backend is the subset of the REST client the UI drives.
type Backend interface {
	ListConversations(ctx context.Context) ([]api.Conversation, error)
	SendText(ctx context.Context, conversationID int64, content string) (api.Message, error)
	SendMedia(ctx context.Context, conversationID int64, filename string, r io.Reader) (api.Message, error)
	SearchUsers(ctx context.Context, query string) ([]api.User, error)
	CreateChat(ctx context.Context, targetUserSub string) (api.Conversation, error)
	RegisterUser(ctx context.Context) error
}

type Syncer interface {
	Subscribe() (<-chan chatsync.View, func())
	Select(conversationID int64)
	Refresh()
	Deselect()
}

type Auth interface {
	IsAuthenticated() bool
	Claims() (session.Claims, bool)
	Logout(ctx context.Context) (string, error)
}

type LoginFlow interface {
	Login(ctx context.Context, open func(string) error) error
}

type MessageSearcher interface {
	SearchMessages(query string, limit int) ([]store.SearchHit, error)
}

type viewMsg struct{ view chatsync.View }
type viewsClosedMsg struct{}

type conversationsMsg struct {
	convs    []api.Conversation
	selectID int64
	err      error
}
type loginMsg struct{ err error }
type logoutMsg struct{ err error }
type sendMsg struct {
	conversationID int64
	err            error
}
type userDebounceMsg struct{ seq int }
type usersMsg struct {
	seq   int
	query string
	users []api.User
	err   error
}
type chatCreatedMsg struct {
	conv api.Conversation
	err  error
}
type searchMsg struct {
	query string
	hits  []store.SearchHit
	err   error
}
type exportMsg struct {
	path string
	err  error
}
type copyMsg struct{ err error }

func waitForView(ch <-chan chatsync.View) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return viewsClosedMsg{}
		}
		return viewMsg{view: v}
	}
}

func (m Model) conversationsCmd(selectID int64) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		convs, err := backend.ListConversations(ctx)
		return conversationsMsg{convs: convs, selectID: selectID, err: err}
	}
}

// loginCmd runs the browser login and then registers the user with the
// backend, as the callback page does.
func (m Model) loginCmd() tea.Cmd {
	flow, backend, openURL := m.login, m.backend, m.openURL
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()
		err := flow.Login(ctx, func(url string) error { return openURL(ctx, url) })
		if err != nil {
			return loginMsg{err: err}
		}
		return loginMsg{err: backend.RegisterUser(ctx)}
	}
}

func (m Model) logoutCmd() tea.Cmd {
	auth, openURL, logger := m.auth, m.openURL, m.logger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		url, err := auth.Logout(ctx)
		if err != nil {
			return logoutMsg{err: err}
		}
		if err := openURL(ctx, url); err != nil {
			logger.WithError(err).Warn("could not open logout url")
		}
		return logoutMsg{}
	}
}

func (m Model) sendTextCmd(conversationID int64, text string) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, err := backend.SendText(ctx, conversationID, text)
		return sendMsg{conversationID: conversationID, err: err}
	}
}

func (m Model) sendMediaCmd(conversationID int64, path string) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return sendMsg{conversationID: conversationID, err: fmt.Errorf("open media file: %w", err)}
		}
		defer f.Close()

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, err = backend.SendMedia(ctx, conversationID, filepath.Base(path), f)
		return sendMsg{conversationID: conversationID, err: err}
	}
}

func debounceUsersCmd(seq int) tea.Cmd {
	return tea.Tick(userSearchDebounce, func(time.Time) tea.Msg {
		return userDebounceMsg{seq: seq}
	})
}

func (m Model) searchUsersCmd(seq int, query string) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		users, err := backend.SearchUsers(ctx, query)
		return usersMsg{seq: seq, query: query, users: users, err: err}
	}
}

func (m Model) createChatCmd(sub string) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		conv, err := backend.CreateChat(ctx, sub)
		return chatCreatedMsg{conv: conv, err: err}
	}
}

func (m Model) searchCmd(query string) tea.Cmd {
	if m.searcher == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	searcher := m.searcher
	return func() tea.Msg {
		hits, err := searcher.SearchMessages(query, 200)
		return searchMsg{query: query, hits: hits, err: err}
	}
}

func (m Model) exportCmd() tea.Cmd {
	if m.exporter == nil || m.selected.ID == 0 {
		return nil
	}
	exp := m.exporter
	conv, entries := m.selected, m.view.Entries
	return func() tea.Msg {
		path, err := exp.Export(conv, entries)
		return exportMsg{path: path, err: err}
	}
}

func (m Model) copyCmd() tea.Cmd {
	if m.selected.ID == 0 {
		return nil
	}
	cp := m.copyText
	text := export.BuildTranscriptMarkdown(m.view.Entries)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return copyMsg{err: cp(ctx, text)}
	}
}
