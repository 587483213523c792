package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/todotree/internal/domain"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when the index holds no entry with the requested id.
var ErrNotFound = errors.New("entry not indexed")

// Store is a SQLite index of entry titles, rebuilt from the record files.
// The record files stay the source of truth.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Sync replaces the index contents with the given forest in one transaction.
// When an id occurs more than once the first occurrence in pre-order wins.
func (s *Store) Sync(roots []domain.Record) (retErr error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO entries (id, title, parent_id, depth, position, indexed_at) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var insert func(r domain.Record, parentID *string, depth, position int) error
	insert = func(r domain.Record, parentID *string, depth, position int) error {
		if _, err := stmt.Exec(r.ID, r.Title, parentID, depth, position, now); err != nil {
			return fmt.Errorf("insert entry %s: %w", r.ID, err)
		}
		id := r.ID
		for i, child := range r.Entries {
			if err := insert(child, &id, depth+1, i); err != nil {
				return err
			}
		}
		return nil
	}
	for i, root := range roots {
		if err := insert(root, nil, 0, i); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync: %w", err)
	}
	return nil
}

// GetEntry retrieves an indexed entry by ID
func (s *Store) GetEntry(id string) (*domain.IndexedEntry, error) {
	var e domain.IndexedEntry
	err := s.db.QueryRow(
		"SELECT id, title, parent_id, depth, position, indexed_at FROM entries WHERE id = ?",
		id,
	).Scan(&e.ID, &e.Title, &e.ParentID, &e.Depth, &e.Position, &e.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &e, nil
}

// ListEntries returns indexed entries ordered by depth, then parent, then position
func (s *Store) ListEntries(limit, offset int) ([]domain.IndexedEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, title, parent_id, depth, position, indexed_at
		FROM entries
		ORDER BY depth, parent_id, position
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Children returns the direct children of an entry in order
func (s *Store) Children(parentID string) ([]domain.IndexedEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, title, parent_id, depth, position, indexed_at
		FROM entries
		WHERE parent_id = ?
		ORDER BY position`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SearchEntries performs a simple case-insensitive title search
func (s *Store) SearchEntries(query string) ([]domain.IndexedEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, title, parent_id, depth, position, indexed_at
		FROM entries
		WHERE title LIKE ?
		ORDER BY depth, title`,
		"%"+query+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Count returns the number of indexed entries
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]domain.IndexedEntry, error) {
	var entries []domain.IndexedEntry
	for rows.Next() {
		var e domain.IndexedEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.ParentID, &e.Depth, &e.Position, &e.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
