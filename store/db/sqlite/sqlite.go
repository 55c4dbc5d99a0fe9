// Package sqlite implements the dev/test storage driver.
//
// SQLite support is best effort: vectors are stored as JSON blobs and there
// is no in-database similarity operator (the in-memory ANN index does all
// ranking). Concurrent writers are not supported. Prefer the postgres driver
// for anything beyond a single-user instance.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/savorhq/tastecore/internal/profile"
	"github.com/savorhq/tastecore/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the SQLite driver.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database at the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("sqlite", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	// WAL avoids writer/reader lock contention; a single connection avoids
	// SQLITE_BUSY under the process-internal write concurrency we do have.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, errors.Wrap(err, "failed to enable WAL")
	}
	return &DB{db: db, profile: profile}, nil
}

// GetDB returns the underlying sql.DB.
func (d *DB) GetDB() *sql.DB {
	return d.db
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate applies the embedded schema migrations in file order.
func (d *DB) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "failed to read migrations")
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration %s", file)
		}
		for _, stmt := range strings.Split(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", file, err)
			}
		}
	}
	return nil
}
