// Package corpus reads the (id, text) pairs used to build the index at startup.
package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// DefaultQuery selects book summaries from the marketplace schema.
const DefaultQuery = "SELECT id, summary FROM books"

// SQLite loads books with a two-column query against a SQLite file.
type SQLite struct {
	db    *sql.DB
	query string
}

// OpenSQLite opens the database read-only. An empty query uses DefaultQuery.
func OpenSQLite(path, query string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("corpus: empty sqlite path")
	}
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}
	return &SQLite{db: db, query: query}, nil
}

// Load returns every book. Rows with an empty text are skipped; a NULL text reads as empty.
func (s *SQLite) Load(ctx context.Context) (map[domain.BookID]string, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer func() { _ = rows.Close() }()

	books := make(map[domain.BookID]string)
	for rows.Next() {
		var (
			id   int64
			text sql.NullString
		)
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("scan corpus row: %w", err)
		}
		if strings.TrimSpace(text.String) == "" {
			continue
		}
		books[domain.BookID(id)] = text.String
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corpus: %w", err)
	}
	return books, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
