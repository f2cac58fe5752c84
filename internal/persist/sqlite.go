package persist

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps each collection document as one row in a documents table.
// The replace runs in a transaction, so a reader never sees a half-written
// document.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database and prepares the schema.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT PRIMARY KEY,
		body       TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "persist.sqlite").Logger(),
	}
	s.logger.Info().Str("path", dbPath).Msg("document store initialized")
	return s, nil
}

// Load reads the collection document into the given value.
func (s *SQLiteStore) Load(collection string, into any) error {
	var body string
	err := s.db.QueryRow(
		`SELECT body FROM documents WHERE collection = ?`, collection,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading collection %s: %w", collection, err)
	}
	if err := yaml.Unmarshal([]byte(body), into); err != nil {
		return fmt.Errorf("decoding collection %s: %w", collection, err)
	}
	return nil
}

// Save serializes the document and transactionally replaces the row.
func (s *SQLiteStore) Save(collection string, doc any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding collection %s: %w", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO documents (collection, body, updated_at) VALUES (?, ?, strftime('%s','now'))`,
		collection, string(data),
	)
	if err != nil {
		return fmt.Errorf("writing collection %s: %w", collection, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing collection %s: %w", collection, err)
	}

	s.logger.Debug().
		Str("collection", collection).
		Int("bytes", len(data)).
		Msg("collection saved")
	return nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
