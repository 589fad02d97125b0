package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/matheus3301/berry/internal/jid"
)

const messageColumns = `id, contact_id, body, direction, created_at, attachment_url, protocol_id, is_read, edited_at`

// Insert stores a message and returns its id. The contact id is normalized
// and the read flag follows the direction.
func (db *DB) Insert(ctx context.Context, m NewMessage) (int64, error) {
	contact := jid.Normalize(m.ContactID)
	if contact == "" {
		return 0, &Error{Op: "insert", Err: ErrEmptyContact}
	}
	if strings.TrimSpace(m.Body) == "" {
		return 0, &Error{Op: "insert", Err: ErrEmptyBody}
	}
	if m.Direction != Sent && m.Direction != Received {
		return 0, &Error{Op: "insert", Err: errors.New("invalid direction " + string(m.Direction))}
	}
	createdAt := m.CreatedAt
	if createdAt <= 0 {
		createdAt = time.Now().UnixMilli()
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO messages (contact_id, body, direction, created_at, attachment_url, protocol_id, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		contact, m.Body, m.Direction, createdAt, nullString(m.AttachmentURL), nullString(m.ProtocolID), m.Direction == Sent)
	if err != nil {
		return 0, wrap("insert", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("insert", err)
}

// Get returns a message by id, or ErrNotFound.
func (db *DB) Get(ctx context.Context, id int64) (*Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, wrap("get", err)
}

// ListByContact returns a conversation in ascending (created_at, id) order.
// With limit > 0 only the most recent limit messages are returned.
func (db *DB) ListByContact(ctx context.Context, contactID string, limit int) ([]Message, error) {
	contact := jid.Normalize(contactID)

	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.conn.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM (
				SELECT `+messageColumns+` FROM messages
				WHERE contact_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			) ORDER BY created_at ASC, id ASC`, contact, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE contact_id = ?
			ORDER BY created_at ASC, id ASC`, contact)
	}
	if err != nil {
		return nil, wrap("list", err)
	}
	msgs, err := scanMessages(rows)
	return msgs, wrap("list", err)
}

// LastPerContact returns the newest message of every conversation in a
// single query. Ties on created_at resolve to the highest id.
func (db *DB) LastPerContact(ctx context.Context) (map[string]Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`,
				ROW_NUMBER() OVER (PARTITION BY contact_id ORDER BY created_at DESC, id DESC) AS rn
			FROM messages
		) WHERE rn = 1`)
	if err != nil {
		return nil, wrap("last per contact", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, wrap("last per contact", err)
	}
	out := make(map[string]Message, len(msgs))
	for _, m := range msgs {
		out[m.ContactID] = m
	}
	return out, nil
}

// FindByProtocolID returns the message carrying the given protocol id, or ErrNotFound.
func (db *DB) FindByProtocolID(ctx context.Context, protocolID string) (*Message, error) {
	if protocolID == "" {
		return nil, ErrNotFound
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE protocol_id = ?
		ORDER BY id ASC LIMIT 1`, protocolID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, wrap("find by protocol id", err)
}

// DeleteByProtocolID removes the message carrying protocolID and returns it.
// Lookup and delete run in one transaction.
func (db *DB) DeleteByProtocolID(ctx context.Context, protocolID string) (*Message, error) {
	if protocolID == "" {
		return nil, ErrNotFound
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("delete by protocol id", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE protocol_id = ?
		ORDER BY id ASC LIMIT 1`, protocolID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("delete by protocol id", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, m.ID); err != nil {
		return nil, wrap("delete by protocol id", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap("delete by protocol id", err)
	}
	return m, nil
}

// Delete removes one message. It reports false when no row matched.
func (db *DB) Delete(ctx context.Context, id int64) (bool, error) {
	n, err := db.exec(ctx, "delete", `DELETE FROM messages WHERE id = ?`, id)
	return n > 0, err
}

// Update replaces the body of one message and stamps edited_at.
func (db *DB) Update(ctx context.Context, id int64, newBody string) (bool, error) {
	if strings.TrimSpace(newBody) == "" {
		return false, &Error{Op: "update", Err: ErrEmptyBody}
	}
	n, err := db.exec(ctx, "update",
		`UPDATE messages SET body = ?, edited_at = ? WHERE id = ?`,
		newBody, time.Now().UnixMilli(), id)
	return n > 0, err
}

// DeleteAll clears a conversation and returns how many rows were removed.
func (db *DB) DeleteAll(ctx context.Context, contactID string) (int64, error) {
	return db.exec(ctx, "delete all", `DELETE FROM messages WHERE contact_id = ?`, jid.Normalize(contactID))
}

func (db *DB) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrap(op, err)
	}
	n, err := res.RowsAffected()
	return n, wrap(op, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var (
		m          Message
		attachment sql.NullString
		protocolID sql.NullString
		editedAt   sql.NullInt64
	)
	if err := s.Scan(&m.ID, &m.ContactID, &m.Body, &m.Direction, &m.CreatedAt,
		&attachment, &protocolID, &m.Read, &editedAt); err != nil {
		return nil, err
	}
	if attachment.Valid && attachment.String != "" {
		m.AttachmentURL = &attachment.String
	}
	if protocolID.Valid && protocolID.String != "" {
		m.ProtocolID = &protocolID.String
	}
	if editedAt.Valid {
		m.EditedAt = &editedAt.Int64
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
