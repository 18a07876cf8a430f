package store

import (
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `id, chat_id, content, sender, created_at, updated_at, is_deleted, last_synced`

// ReplaceMessages replaces one chat's synced messages with the given list in
// a single transaction. Outbox entries for the same chat live in their own
// table and are never touched.
func (db *DB) ReplaceMessages(chatID string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (id, chat_id, content, sender, created_at, updated_at, is_deleted, last_synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, chatID, m.Content, encodeJSON(m.Sender), m.CreatedAt, m.UpdatedAt, m.Deleted, now); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListMessages returns a chat's synced messages ordered oldest first,
// excluding soft-deleted rows.
func (db *DB) ListMessages(chatID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? AND is_deleted = 0
		ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a message by id regardless of deletion state, or nil if
// absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpsertMessage inserts or overwrites a message by id. Used for realtime and
// freshly-acknowledged messages; applying it twice with the same message
// leaves the store unchanged.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_id, content, sender, created_at, updated_at, is_deleted, last_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			sender = excluded.sender,
			updated_at = excluded.updated_at,
			last_synced = excluded.last_synced`,
		m.ID, m.ChatID, m.Content, encodeJSON(m.Sender), m.CreatedAt, m.UpdatedAt, m.Deleted, now)
	return err
}

// MarkMessageDeleted sets the soft-delete flag; the row is retained.
func (db *DB) MarkMessageDeleted(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE messages SET is_deleted = 1, last_synced = ? WHERE id = ?`, now, id)
	return err
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var sender string
	if err := row.Scan(&m.ID, &m.ChatID, &m.Content, &sender,
		&m.CreatedAt, &m.UpdatedAt, &m.Deleted, &m.LastSynced); err != nil {
		return nil, err
	}
	decodeJSON(sender, &m.Sender)
	return &m, nil
}
