package store

import "context"

// Stats summarizes store contents for status reporting.
type Stats struct {
	Messages int64
	Contacts int64
	Unread   int64
}

// Stats counts messages, distinct contacts and unread messages.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT contact_id),
			COALESCE(SUM(CASE WHEN direction = 'received' AND is_read = 0 THEN 1 ELSE 0 END), 0)
		FROM messages`).Scan(&s.Messages, &s.Contacts, &s.Unread)
	return s, wrap("stats", err)
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	s, err := db.Stats(ctx)
	return s.Messages, err
}

// ContactCount returns the number of distinct conversations.
func (db *DB) ContactCount(ctx context.Context) (int64, error) {
	s, err := db.Stats(ctx)
	return s.Contacts, err
}
