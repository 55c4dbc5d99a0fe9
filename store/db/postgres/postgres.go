// Package postgres implements the production storage driver on PostgreSQL
// with the pgvector extension for embedding columns.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/internal/profile"
	"github.com/savorhq/tastecore/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the PostgreSQL driver.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the database described by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres database")
	}
	db.SetMaxOpenConns(profile.DBPoolCeiling)
	db.SetMaxIdleConns(profile.DBPoolFloor)
	return &DB{db: db, profile: profile}, nil
}

// GetDB returns the underlying sql.DB.
func (d *DB) GetDB() *sql.DB {
	return d.db
}

// Close closes the database connection.
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
		stmt := renderMigration(string(content), d.profile.EmbeddingDimensions)
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to apply migration %s", file)
		}
	}
	return nil
}

// renderMigration fills migration placeholders with instance settings. The
// vector column width has to match the configured embedding dimensions or
// pgvector rejects every insert.
func renderMigration(content string, dimensions int) string {
	return strings.ReplaceAll(content, "{{dimensions}}", strconv.Itoa(dimensions))
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
