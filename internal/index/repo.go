package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/convsync/internal/apperr"
)

// Row represents a row in the conventions table. Path is relative to the
// project root and uses forward slashes.
type Row struct {
	Path         string    `json:"path"`
	Title        string    `json:"title"`
	Category     string    `json:"category,omitempty"`
	ConventionID string    `json:"conventionId,omitempty"`
	Checksum     string    `json:"-"`
	Tags         []string  `json:"tags"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Stamp is what decides whether a file needs reindexing.
type Stamp struct {
	Checksum     string
	ConventionID string
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Upsert inserts or replaces a convention and its FTS entry within a transaction.
func (db *DB) Upsert(r Row, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	_, err = tx.Exec(`
		INSERT INTO conventions (path, title, category, convention_id, checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title         = excluded.title,
			category      = excluded.category,
			convention_id = excluded.convention_id,
			checksum      = excluded.checksum,
			tags          = excluded.tags,
			body          = excluded.body,
			updated_at    = excluded.updated_at
	`, r.Path, r.Title, r.Category, r.ConventionID, r.Checksum, string(tagsJSON), body, r.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("index: upsert convention: %w", err)
	}

	if err := ftsUpsert(tx, r.Path, r.Title, body, tags); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a convention and its FTS entry.
func (db *DB) Delete(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conventions WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete convention: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a path, or empty string if not indexed.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM conventions WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// Get returns one indexed convention.
func (db *DB) Get(path string) (*Row, error) {
	rows, err := db.query(`WHERE path = ?`, path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("index: %s: %w", path, apperr.ErrNotFound)
	}
	return &rows[0], nil
}

// List returns indexed conventions ordered by path, optionally restricted
// to one category directory.
func (db *DB) List(category string) ([]Row, error) {
	if category == "" {
		return db.query(``)
	}
	return db.query(`WHERE category = ?`, category)
}

func (db *DB) query(where string, args ...any) ([]Row, error) {
	rows, err := db.conn.Query(`
		SELECT path, title, category, convention_id, checksum, tags, updated_at
		FROM conventions `+where+`
		ORDER BY path`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r    Row
			tags string
		)
		if err := rows.Scan(&r.Path, &r.Title, &r.Category, &r.ConventionID, &r.Checksum, &tags, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("index: decode tags of %s: %w", r.Path, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllPaths returns every indexed path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	stamps, err := db.AllStamps()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(stamps))
	for p := range stamps {
		out[p] = struct{}{}
	}
	return out, nil
}

// AllStamps returns the checksum and tracked id of every indexed path.
func (db *DB) AllStamps() (map[string]Stamp, error) {
	rows, err := db.conn.Query(`SELECT path, checksum, convention_id FROM conventions`)
	if err != nil {
		return nil, fmt.Errorf("index: all stamps: %w", err)
	}
	defer rows.Close()
	out := make(map[string]Stamp)
	for rows.Next() {
		var (
			p string
			s Stamp
		)
		if err := rows.Scan(&p, &s.Checksum, &s.ConventionID); err != nil {
			return nil, err
		}
		out[p] = s
	}
	return out, rows.Err()
}
