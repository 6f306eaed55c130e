//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

// likeEscaper keeps user input from acting as LIKE wildcards.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; Search scans the conventions table directly.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _ string, _ []string) error {
	// conventions.body already holds everything the scan needs.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) error { return nil }

// Search matches every whitespace-separated term against title, body, tags
// and category. Hits whose title contains the first term sort first.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)*4+2)
	for _, term := range terms {
		like := "%" + likeEscaper.Replace(term) + "%"
		clauses = append(clauses,
			`(title LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\' OR category LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like, like)
	}
	args = append(args, "%"+likeEscaper.Replace(terms[0])+"%", limit)

	rows, err := db.conn.Query(`
		SELECT path, title, substr(body, 1, 200)
		FROM conventions
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY (title LIKE ? ESCAPE '\') DESC, path
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
