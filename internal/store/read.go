package store

import (
	"context"

	"github.com/matheus3301/berry/internal/jid"
)

// MarkRead flags every unread received message of a conversation as read
// and returns how many rows changed.
func (db *DB) MarkRead(ctx context.Context, contactID string) (int64, error) {
	return db.exec(ctx, "mark read", `
		UPDATE messages SET is_read = 1
		WHERE contact_id = ? AND direction = 'received' AND is_read = 0`,
		jid.Normalize(contactID))
}

// UnreadCount returns the number of unread received messages for one contact.
func (db *DB) UnreadCount(ctx context.Context, contactID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE contact_id = ? AND direction = 'received' AND is_read = 0`,
		jid.Normalize(contactID)).Scan(&n)
	return n, wrap("unread count", err)
}

// UnreadCounts returns unread totals for every contact with at least one
// unread message, in a single aggregate query.
func (db *DB) UnreadCounts(ctx context.Context) (map[string]int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT contact_id, COUNT(*) FROM messages
		WHERE direction = 'received' AND is_read = 0
		GROUP BY contact_id`)
	if err != nil {
		return nil, wrap("unread counts", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var (
			contact string
			n       int
		)
		if err := rows.Scan(&contact, &n); err != nil {
			return nil, wrap("unread counts", err)
		}
		out[contact] = n
	}
	return out, wrap("unread counts", rows.Err())
}
