package store

import (
	"database/sql"
	"fmt"
	"time"
)

const chatColumns = `id, chat_name, is_group, users, latest_message, group_admin, created_at, updated_at, last_synced`

// ReplaceChats replaces the entire chat set with the given list. The chat
// list is small and always fetched in full, so full replace avoids merge
// complexity and stale entries. Runs in one transaction: a failure leaves the
// previous set intact.
func (db *DB) ReplaceChats(chats []Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM chats`); err != nil {
		return fmt.Errorf("clear chats: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range chats {
		var latest, admin any
		if c.LatestMessage != nil {
			latest = encodeJSON(c.LatestMessage)
		}
		if c.GroupAdmin != nil {
			admin = encodeJSON(c.GroupAdmin)
		}
		if _, err := tx.Exec(`
			INSERT INTO chats (id, chat_name, is_group, users, latest_message, group_admin, created_at, updated_at, last_synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.IsGroup, encodeJSON(c.Users), latest, admin, c.CreatedAt, c.UpdatedAt, now); err != nil {
			return fmt.Errorf("insert chat %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListChats returns all chats ordered by most recently updated first.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`SELECT ` + chatColumns + ` FROM chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, or nil if absent.
func (db *DB) GetChat(id string) (*Chat, error) {
	row := db.QueryRow(`SELECT `+chatColumns+` FROM chats WHERE id = ?`, id)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteChat removes a chat row. Its messages are left for MarkMessageDeleted
// or the next full replace.
func (db *DB) DeleteChat(id string) error {
	_, err := db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	return err
}

// ClearChats removes all chat rows.
func (db *DB) ClearChats() error {
	_, err := db.Exec(`DELETE FROM chats`)
	return err
}

// UpdateChatLatestMessage refreshes the denormalized latest-message snapshot
// used by chat-list rendering.
func (db *DB) UpdateChatLatestMessage(chatID string, m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE chats SET latest_message = ?, updated_at = ?, last_synced = ?
		WHERE id = ?`,
		encodeJSON(m), m.CreatedAt, now, chatID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var c Chat
	var users string
	var latest, admin sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.IsGroup, &users, &latest, &admin,
		&c.CreatedAt, &c.UpdatedAt, &c.LastSynced); err != nil {
		return nil, err
	}
	decodeJSON(users, &c.Users)
	if latest.Valid && latest.String != "" {
		var m Message
		decodeJSON(latest.String, &m)
		c.LatestMessage = &m
	}
	if admin.Valid && admin.String != "" {
		var u User
		decodeJSON(admin.String, &u)
		c.GroupAdmin = &u
	}
	return &c, nil
}
