package store

// SearchMessages performs a full-text search on message content, excluding
// soft-deleted rows. chatID narrows the search to one chat when non-empty.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.chat_id, m.content, m.sender, m.created_at, m.updated_at, m.is_deleted, m.last_synced,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		WHERE messages_fts MATCH ? AND m.is_deleted = 0`

	args := []any{query}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var sender string
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ChatID, &r.Message.Content, &sender,
			&r.Message.CreatedAt, &r.Message.UpdatedAt, &r.Message.Deleted,
			&r.Message.LastSynced, &r.Snippet,
		); err != nil {
			return nil, err
		}
		decodeJSON(sender, &r.Message.Sender)
		results = append(results, r)
	}
	return results, rows.Err()
}
