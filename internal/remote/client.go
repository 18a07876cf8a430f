// Package remote is the REST client for the chat server. The server is a
// black box: this package only knows the request/response shapes and
// normalizes wire payloads into store types.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatup-app/chatup/internal/store"
)

// TokenSource yields the opaque bearer credential for API calls. The daemon
// never refreshes or validates it.
type TokenSource interface {
	Token() (string, error)
}

// FileTokenSource reads the credential from a file on every call, so an
// external login can rotate it without restarting the daemon.
type FileTokenSource struct {
	Path string
}

func (s *FileTokenSource) Token() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// StaticTokenSource returns a fixed credential. Used in tests.
type StaticTokenSource string

func (s StaticTokenSource) Token() (string, error) { return string(s), nil }

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Client talks to the chat server REST API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

// New creates a client for the API rooted at baseURL (no trailing slash).
func New(baseURL string, tokens TokenSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		logger:  logger,
	}
}

// FetchChats retrieves the full chat list.
func (c *Client) FetchChats(ctx context.Context) ([]store.Chat, error) {
	var wire []wireChat
	if err := c.do(ctx, http.MethodGet, "/chat", nil, &wire); err != nil {
		return nil, err
	}
	chats := make([]store.Chat, 0, len(wire))
	for _, w := range wire {
		chats = append(chats, w.toStore())
	}
	return chats, nil
}

// FetchMessages retrieves all messages for one chat.
func (c *Client) FetchMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	var wire []wireMessage
	if err := c.do(ctx, http.MethodGet, "/message/"+chatID, nil, &wire); err != nil {
		return nil, err
	}
	msgs := make([]store.Message, 0, len(wire))
	for _, w := range wire {
		msgs = append(msgs, w.toStore())
	}
	return msgs, nil
}

// SendMessage posts a new message and returns the server-assigned record.
func (c *Client) SendMessage(ctx context.Context, chatID, content string) (*store.Message, error) {
	body := map[string]string{"content": content, "chatId": chatID}
	var wire wireMessage
	if err := c.do(ctx, http.MethodPost, "/message", body, &wire); err != nil {
		return nil, err
	}
	m := wire.toStore()
	return &m, nil
}

// DeleteMessage asks the server to delete a message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/message/delete/"+id, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
