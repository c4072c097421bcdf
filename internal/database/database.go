package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/jordanhubbard/guardian/pkg/config"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

var (
	// ErrNotFound is returned when a point lookup or a conditional write matches no row.
	ErrNotFound = errors.New("not found")

	// ErrSkillbookExists is returned when a first-write insert loses to a concurrent writer.
	ErrSkillbookExists = errors.New("skillbook row already exists")
)

// Database represents the guardian learning store
type Database struct {
	db      *sql.DB
	dialect string
}

// New opens the database described by cfg and initializes the schema.
func New(cfg config.DatabaseConfig) (*Database, error) {
	switch cfg.Type {
	case DialectPostgres:
		return NewPostgres(cfg.DSN)
	case DialectSQLite:
		return NewSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// NewSQLite opens a SQLite database at path. Used for local development and tests.
func NewSQLite(path string) (*Database, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection serializes writes
	// and lets the unique constraint decide first-write races.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	d := &Database{db: db, dialect: DialectSQLite}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying connection pool.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Dialect reports "postgres" or "sqlite".
func (d *Database) Dialect() string {
	return d.dialect
}

// Ping verifies connectivity.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// q adapts a ?-placeholder query to the active dialect.
func (d *Database) q(query string) string {
	if d.dialect == DialectPostgres {
		return rebind(query)
	}
	return query
}

// initSchema creates the learning tables. The statements are valid for both
// PostgreSQL and SQLite.
func (d *Database) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS skillbooks (
			user_id TEXT PRIMARY KEY,
			skills_json TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			tier TEXT,
			outcome TEXT NOT NULL,
			question TEXT,
			reasoning_summary TEXT,
			metadata_json TEXT,
			learning_status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ghost_cards (
			id TEXT PRIMARY KEY,
			interaction_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_status ON interactions(learning_status)`,
		`CREATE INDEX IF NOT EXISTS idx_ghost_cards_interaction ON ghost_cards(interaction_id)`,
	}

	for _, stmt := range statements {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a primary-key or unique
// constraint failure on either dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
