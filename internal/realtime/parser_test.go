package realtime

import (
	"testing"

	"github.com/chatup-app/chatup/internal/bus"
	"github.com/chatup-app/chatup/internal/store"
)

func TestParseMessageReceived(t *testing.T) {
	data := []byte(`{
		"event": "message received",
		"data": {
			"_id": "m1",
			"content": "hello",
			"sender": {"_id": "u2", "name": "Bob"},
			"chat": {"_id": "c1"},
			"createdAt": "2026-03-01T10:00:00.000Z",
			"updatedAt": "2026-03-01T10:00:00.000Z"
		}
	}`)

	evt, ok, err := parseFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("frame not recognized")
	}
	if evt.Kind != bus.KindRealtimeMessage {
		t.Errorf("kind = %q, want %q", evt.Kind, bus.KindRealtimeMessage)
	}
	m, ok := evt.Payload.(*store.Message)
	if !ok {
		t.Fatalf("payload type = %T, want *store.Message", evt.Payload)
	}
	if m.ID != "m1" || m.ChatID != "c1" || m.Content != "hello" {
		t.Errorf("message = %+v", m)
	}
	if m.Sender.ID != "u2" {
		t.Errorf("sender = %+v, want u2", m.Sender)
	}
	if m.CreatedAt == 0 {
		t.Error("createdAt not parsed")
	}
}

func TestParseTypingEvents(t *testing.T) {
	tests := []struct {
		event string
		kind  string
	}{
		{"typing", bus.KindRealtimeTyping},
		{"stop typing", bus.KindRealtimeStopTyping},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			data := []byte(`{"event": "` + tt.event + `", "data": {"chatId": "c1", "user": {"_id": "u2", "name": "Bob"}}}`)
			evt, ok, err := parseFrame(data)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("frame not recognized")
			}
			if evt.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", evt.Kind, tt.kind)
			}
			typing, ok := evt.Payload.(Typing)
			if !ok {
				t.Fatalf("payload type = %T, want Typing", evt.Payload)
			}
			if typing.ChatID != "c1" || typing.User.ID != "u2" {
				t.Errorf("typing = %+v", typing)
			}
		})
	}
}

func TestParseUnknownEventSkipped(t *testing.T) {
	evt, ok, err := parseFrame([]byte(`{"event": "connected", "data": null}`))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Errorf("unknown event produced %+v, want skip", evt)
	}
}

func TestParseMalformedFrame(t *testing.T) {
	_, _, err := parseFrame([]byte(`not json`))
	if err == nil {
		t.Error("malformed frame should error")
	}
}

func TestParseBareChatID(t *testing.T) {
	data := []byte(`{"event": "message received", "data": {"_id": "m1", "content": "x",
		"sender": {"_id": "u1"}, "chatId": "c7",
		"createdAt": "2026-03-01T10:00:00Z", "updatedAt": "2026-03-01T10:00:00Z"}}`)
	evt, ok, err := parseFrame(data)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	m := evt.Payload.(*store.Message)
	if m.ChatID != "c7" {
		t.Errorf("chat id = %q, want c7", m.ChatID)
	}
}
