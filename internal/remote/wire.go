package remote

import (
	"encoding/json"
	"time"

	"github.com/chatup-app/chatup/internal/store"
)

// Wire shapes mirror the server's Mongo-flavored JSON. Timestamps arrive as
// RFC3339 strings and are normalized to unix milliseconds.

type wireChat struct {
	ID            string       `json:"_id"`
	ChatName      string       `json:"chatName"`
	IsGroupChat   bool         `json:"isGroupChat"`
	Users         []store.User `json:"users"`
	LatestMessage *wireMessage `json:"latestMessage"`
	GroupAdmin    *store.User  `json:"groupAdmin"`
	CreatedAt     string       `json:"createdAt"`
	UpdatedAt     string       `json:"updatedAt"`
}

type wireMessage struct {
	ID        string     `json:"_id"`
	Sender    store.User `json:"sender"`
	Content   string     `json:"content"`
	Chat      *wireRef   `json:"chat"`
	ChatID    string     `json:"chatId"`
	CreatedAt string     `json:"createdAt"`
	UpdatedAt string     `json:"updatedAt"`
}

// wireRef tolerates both a populated chat object and a bare id string,
// which is how unpopulated references arrive.
type wireRef struct {
	ID string
}

func (r *wireRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

func (w *wireChat) toStore() store.Chat {
	c := store.Chat{
		ID:         w.ID,
		Name:       w.ChatName,
		IsGroup:    w.IsGroupChat,
		Users:      w.Users,
		GroupAdmin: w.GroupAdmin,
		CreatedAt:  parseTime(w.CreatedAt),
		UpdatedAt:  parseTime(w.UpdatedAt),
	}
	if w.LatestMessage != nil {
		m := w.LatestMessage.toStore()
		if m.ChatID == "" {
			m.ChatID = w.ID
		}
		c.LatestMessage = &m
	}
	return c
}

func (w *wireMessage) toStore() store.Message {
	chatID := w.ChatID
	if chatID == "" && w.Chat != nil {
		chatID = w.Chat.ID
	}
	return store.Message{
		ID:        w.ID,
		ChatID:    chatID,
		Content:   w.Content,
		Sender:    w.Sender,
		CreatedAt: parseTime(w.CreatedAt),
		UpdatedAt: parseTime(w.UpdatedAt),
	}
}

func parseTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
