package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var ErrEmptyMessage = errors.New("message body is empty")

// StatusError is returned for any non-2xx API response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, body)
}

type Client struct {
	baseURL string
	routes  Routes
	http    *http.Client
	logger  *logrus.Logger
}

func NewClient(baseURL string, routes Routes, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		routes:  routes,
		http:    httpClient,
		logger:  logger,
	}
}

func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.do(ctx, http.MethodGet, c.routes.ListConversations(), nil, "", &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func (c *Client) Messages(ctx context.Context, conversationID int64) ([]Message, error) {
	var out []Message
	if err := c.do(ctx, http.MethodGet, c.routes.Messages(conversationID), nil, "", &out); err != nil {
		return nil, fmt.Errorf("fetch messages for %d: %w", conversationID, err)
	}
	c.warnBadTimestamps(out...)
	return out, nil
}

func (c *Client) SendText(ctx context.Context, conversationID int64, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyMessage
	}
	body, err := json.Marshal(map[string]any{
		c.routes.ConversationsKey: conversationID,
		"content":                 content,
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode text message: %w", err)
	}
	var out Message
	if err := c.do(ctx, http.MethodPost, c.routes.SendText(), bytes.NewReader(body), "application/json", &out); err != nil {
		return Message{}, fmt.Errorf("send text message: %w", err)
	}
	c.warnBadTimestamps(out)
	return out, nil
}

func (c *Client) SendMedia(ctx context.Context, conversationID int64, filename string, r io.Reader) (Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(c.routes.ConversationsKey, strconv.FormatInt(conversationID, 10)); err != nil {
		return Message{}, fmt.Errorf("write media form: %w", err)
	}
	part, err := mw.CreateFormFile(c.routes.MediaFileField, filename)
	if err != nil {
		return Message{}, fmt.Errorf("create media form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return Message{}, fmt.Errorf("copy media body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Message{}, fmt.Errorf("close media form: %w", err)
	}

	var out Message
	if err := c.do(ctx, http.MethodPost, c.routes.SendMedia(), &buf, mw.FormDataContentType(), &out); err != nil {
		return Message{}, fmt.Errorf("send media message: %w", err)
	}
	c.warnBadTimestamps(out)
	return out, nil
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var out []User
	if err := c.do(ctx, http.MethodGet, c.routes.SearchUsers(query), nil, "", &out); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return out, nil
}

func (c *Client) CreateChat(ctx context.Context, targetUserSub string) (Conversation, error) {
	body, err := json.Marshal(map[string]string{"target_user_sub": targetUserSub})
	if err != nil {
		return Conversation{}, fmt.Errorf("encode create chat: %w", err)
	}
	var out Conversation
	if err := c.do(ctx, http.MethodPost, c.routes.CreateChat(), bytes.NewReader(body), "application/json", &out); err != nil {
		return Conversation{}, fmt.Errorf("create chat: %w", err)
	}
	return out, nil
}

func (c *Client) RegisterUser(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, c.routes.RegisterUser(), nil, "", nil); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

func (c *Client) warnBadTimestamps(msgs ...Message) {
	for _, m := range msgs {
		if m.badSentAt == "" {
			continue
		}
		c.logger.WithFields(logrus.Fields{
			"message_id": m.ID,
			"sent_at":    m.badSentAt,
		}).Warn("unparseable message timestamp")
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   req.URL.Path,
			"status": resp.StatusCode,
		}).Warn("api returned error status")
		return &StatusError{Method: method, Path: req.URL.Path, Code: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
