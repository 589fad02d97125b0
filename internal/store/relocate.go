package store

import (
	"context"
	"fmt"
)

// Relocate moves the live store to a new location. Writers block on the
// write lock until the switch completes. On failure the store keeps serving
// from the old path.
func (db *DB) Relocate(ctx context.Context, cfg LocationConfig, r Resolver, to Descriptor) (*RelocateResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn == nil {
		return nil, &Error{Op: "relocate", Err: fmt.Errorf("store is closed")}
	}
	if _, err := db.conn.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return nil, wrap("relocate", fmt.Errorf("checkpoint: %w", err))
	}

	prev, err := cfg.LoadStorage()
	if err != nil {
		return nil, wrap("relocate", err)
	}
	res, err := MigrateLocation(cfg, r, to)
	if err != nil {
		return nil, err
	}
	if samePath(res.NewPath, db.path) {
		return res, nil
	}

	conn, err := openConn(res.NewPath)
	if err != nil {
		_ = cfg.SaveStorage(prev)
		return nil, err
	}
	old, oldPath := db.conn, db.path
	db.conn = conn
	db.path = res.NewPath
	if _, err := migrateConn(db); err != nil {
		db.conn = old
		db.path = oldPath
		_ = conn.Close()
		_ = cfg.SaveStorage(prev)
		return nil, wrap("relocate", err)
	}
	_ = old.Close()
	return res, nil
}
