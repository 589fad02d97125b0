package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/berry/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
	// Tolerated lists versions whose column already existed and were
	// recorded as applied without running.
	Tolerated []uint
}

// Migrate runs all pending migrations on the database. Re-running is safe:
// a migration failing only because its column already exists counts as applied.
func (db *DB) Migrate() (*MigrateResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := migrateConn(db)
	return res, wrap("migrate", err)
}

func migrateConn(db *DB) (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.conn, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	result := &MigrateResult{}
	for {
		err = m.Up()
		if err == nil {
			result.Changed = true
			break
		}
		if errors.Is(err, migrate.ErrNoChange) {
			break
		}
		if !isDuplicateColumn(err) {
			return nil, fmt.Errorf("migration up: %w", err)
		}
		version, dirty, verr := m.Version()
		if verr != nil || !dirty {
			return nil, fmt.Errorf("migration up: %w", err)
		}
		if ferr := m.Force(int(version)); ferr != nil {
			return nil, fmt.Errorf("force version %d: %w", version, ferr)
		}
		result.Changed = true
		result.Tolerated = append(result.Tolerated, version)
	}

	version, dirty, _ := m.Version()
	result.Version = version
	result.Dirty = dirty
	return result, nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
