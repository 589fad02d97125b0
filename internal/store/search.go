package store

import (
	"context"
	"strings"

	"github.com/matheus3301/berry/internal/jid"
)

// DefaultSearchLimit caps search results when the caller passes no limit.
const DefaultSearchLimit = 50

// Search performs a case-insensitive substring match on message bodies,
// newest first. An empty contactID searches every conversation.
func (db *DB) Search(ctx context.Context, query, contactID string, limit int) ([]Message, error) {
	// Whitespace is part of the match; it only decides blankness.
	if strings.TrimSpace(query) == "" {
		return []Message{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	q := `SELECT ` + messageColumns + ` FROM messages WHERE body LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if contact := jid.Normalize(contactID); contact != "" {
		q += " AND contact_id = ?"
		args = append(args, contact)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("search", err)
	}
	msgs, err := scanMessages(rows)
	return msgs, wrap("search", err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
