package store

import "encoding/json"

// User is a chat participant. Users are denormalized as JSON onto chat and
// message rows; the server owns the canonical records.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Pic   string `json:"pic,omitempty"`
}

// Chat is a synced chat. Direct chats have exactly two users; group chats
// carry a name and an admin.
type Chat struct {
	ID            string
	Name          string
	IsGroup       bool
	Users         []User
	LatestMessage *Message
	GroupAdmin    *User
	CreatedAt     int64 // unix ms
	UpdatedAt     int64
	LastSynced    int64 // set on every successful write
}

// Message is a server-acknowledged message. Pending is set only on in-memory
// projections of outbox entries (see OutboxEntry.Message); persisted rows
// never carry it.
type Message struct {
	ID         string
	ChatID     string
	Content    string
	Sender     User
	CreatedAt  int64
	UpdatedAt  int64
	Deleted    bool
	Pending    bool
	LastSynced int64
}

// OutboxEntry is a message composed locally and not yet acknowledged by the
// server. It lives in its own table under a temporary id; promotion deletes
// the entry and inserts a Message under the server id in one transaction.
type OutboxEntry struct {
	TempID    string
	ChatID    string
	Content   string
	Sender    User
	CreatedAt int64
	UpdatedAt int64
}

// Message returns the entry projected as a pending message for rendering
// after a chat's synced messages.
func (e *OutboxEntry) Message() Message {
	return Message{
		ID:        e.TempID,
		ChatID:    e.ChatID,
		Content:   e.Content,
		Sender:    e.Sender,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Pending:   true,
	}
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}

func encodeJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeJSON(data string, v any) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}
