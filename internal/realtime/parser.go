package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatup-app/chatup/internal/bus"
	"github.com/chatup-app/chatup/internal/store"
)

// Wire event names, per the server's socket protocol.
const (
	evtMessageReceived = "message received"
	evtTyping          = "typing"
	evtStopTyping      = "stop typing"
	evtSetup           = "setup"
	evtJoinChat        = "join chat"
	evtNewMessage      = "new message"
)

// frame is the JSON envelope for every socket message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Typing is the payload for typing and stop-typing bus events.
type Typing struct {
	ChatID string
	User   store.User
}

type wireTyping struct {
	ChatID string     `json:"chatId"`
	User   store.User `json:"user"`
}

// wireMessage mirrors the server's socket message payload. The chat arrives
// either populated or as a bare id.
type wireMessage struct {
	ID      string     `json:"_id"`
	Sender  store.User `json:"sender"`
	Content string     `json:"content"`
	Chat    *struct {
		ID string `json:"_id"`
	} `json:"chat"`
	ChatID    string `json:"chatId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// parseFrame decodes one socket frame into a bus event. Unknown events
// return ok=false and are skipped.
func parseFrame(data []byte) (bus.Event, bool, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return bus.Event{}, false, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case evtMessageReceived:
		var w wireMessage
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode message payload: %w", err)
		}
		m := w.toStore()
		return bus.NewEvent(bus.KindRealtimeMessage, &m), true, nil
	case evtTyping, evtStopTyping:
		var w wireTyping
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode typing payload: %w", err)
		}
		kind := bus.KindRealtimeTyping
		if f.Event == evtStopTyping {
			kind = bus.KindRealtimeStopTyping
		}
		return bus.NewEvent(kind, Typing{ChatID: w.ChatID, User: w.User}), true, nil
	default:
		return bus.Event{}, false, nil
	}
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
