package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite message store. Writers serialize on the write lock;
// readers share it. The handle can be swapped by Relocate.
type DB struct {
	mu   sync.RWMutex
	conn *sql.DB
	path string
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Parent directories are created as needed.
func Open(path string) (*DB, error) {
	conn, err := openConn(path)
	if err != nil {
		return nil, err
	}
	return &DB{conn: conn, path: path}, nil
}

func openConn(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("open db: %w", err)}
	}
	// Verify connection.
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("ping db: %w", err)}
	}
	return conn, nil
}

// Path returns the physical location of the active store file.
func (db *DB) Path() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.path
}

// Close closes the underlying handle.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	return err
}
