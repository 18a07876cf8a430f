package store

import (
	"fmt"
	"time"
)

// QueueOutbox inserts a pending entry. Insert-only: a duplicate temp id is an
// error the caller must not retry with the same id.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	if !IsTempID(e.TempID) {
		return fmt.Errorf("queue outbox: %q is not a temporary id", e.TempID)
	}
	_, err := db.Exec(`
		INSERT INTO outbox (temp_id, chat_id, content, sender, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.TempID, e.ChatID, e.Content, encodeJSON(e.Sender), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("queue outbox %s: %w", e.TempID, err)
	}
	return nil
}

// PendingOutbox returns a chat's queued entries oldest first. Drain order
// must follow this order.
func (db *DB) PendingOutbox(chatID string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT temp_id, chat_id, content, sender, created_at, updated_at
		FROM outbox WHERE chat_id = ? ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var sender string
		if err := rows.Scan(&e.TempID, &e.ChatID, &e.Content, &sender, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		decodeJSON(sender, &e.Sender)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PendingChats returns the ids of chats that have queued entries, oldest
// entry first.
func (db *DB) PendingChats() ([]string, error) {
	rows, err := db.Query(`
		SELECT chat_id FROM outbox GROUP BY chat_id ORDER BY MIN(created_at) ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PromoteOutbox atomically replaces the outbox entry tempID with serverMsg as
// a synced message. Either both the delete and the insert happen or neither
// does; a missing entry fails the whole operation.
func (db *DB) PromoteOutbox(tempID string, serverMsg *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`DELETE FROM outbox WHERE temp_id = ?`, tempID)
	if err != nil {
		return fmt.Errorf("delete outbox %s: %w", tempID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("promote outbox: no entry %s", tempID)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (id, chat_id, content, sender, created_at, updated_at, is_deleted, last_synced)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			sender = excluded.sender,
			updated_at = excluded.updated_at,
			last_synced = excluded.last_synced`,
		serverMsg.ID, serverMsg.ChatID, serverMsg.Content, encodeJSON(serverMsg.Sender),
		serverMsg.CreatedAt, serverMsg.UpdatedAt, now); err != nil {
		return fmt.Errorf("insert promoted message %s: %w", serverMsg.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CancelOutbox removes a queued entry before it was ever sent. Returns an
// error if no such entry exists.
func (db *DB) CancelOutbox(tempID string) error {
	res, err := db.Exec(`DELETE FROM outbox WHERE temp_id = ?`, tempID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cancel outbox: no entry %s", tempID)
	}
	return nil
}
