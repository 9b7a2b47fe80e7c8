// Package sqlite is an embedded vectorstore.Backend on a single SQLite file.
// Search is a brute-force cosine scan, adequate up to roughly 100K vectors
// per collection.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/langserver/internal/vectorstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ vectorstore.Backend = (*Store)(nil)

// ErrCollectionNotFound is returned for operations on an unknown collection.
var ErrCollectionNotFound = errors.New("collection not found")

// Store keeps collections and points in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs pending migrations.
// Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// CreateCollection is a no-op when the collection already exists.
func (s *Store) CreateCollection(ctx context.Context, name string, size int) error {
	if size <= 0 {
		return fmt.Errorf("invalid vector size %d", size)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (name, vector_size, distance, created_at)
		VALUES (?, ?, 'cosine', ?)
		ON CONFLICT(name) DO NOTHING`,
		name, size, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM points WHERE collection = ?", name); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting points of %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *Store) vectorSize(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, collection string) (int, error) {
	var size int
	err := q.QueryRowContext(ctx, "SELECT vector_size FROM collections WHERE name = ?", collection).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return size, err
}

// Upsert writes all points in one transaction, replacing existing ids.
func (s *Store) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	size, err := s.vectorSize(ctx, tx, collection)
	if err != nil {
		tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (collection, id, embedding, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			embedding = excluded.embedding,
			payload = excluded.payload,
			updated_at = excluded.updated_at`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range points {
		if len(p.Vector) != size {
			tx.Rollback()
			return fmt.Errorf("point %s has dimension %d, collection %s expects %d", p.ID, len(p.Vector), collection, size)
		}
		payload, err := encodePayload(p.Payload)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding payload of %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, p.ID, encodeFloat32s(p.Vector), payload, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting point %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetPoint(ctx context.Context, collection, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM points WHERE collection = ? AND id = ?", collection, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up point %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.vectorSize(ctx, s.db, collection); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM points WHERE collection = ?", collection).Scan(&n)
	return n, err
}
