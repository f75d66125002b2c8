package catalog

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// PhraseQuery turns user input into a single FTS5 phrase. Embedded double
// quotes are doubled so the input can never leave the phrase or be read as
// query syntax.
func PhraseQuery(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

// hasToken reports whether q contains anything the unicode61 tokenizer would
// index: letters, numbers and private-use characters. A phrase without tokens
// matches nothing.
func hasToken(q string) bool {
	return strings.IndexFunc(q, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Co, r)
	}) >= 0
}

// Search finds files whose name contains query as an exact phrase, ignoring
// case. Substring and fuzzy matching are not supported: "rep" does not match
// "report.pdf". Results are in index rank order.
func (s *Service) Search(ctx context.Context, query string) ([]Match, error) {
	if !hasToken(query) {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.remote, f.path, f.filename
		FROM files_fts
		JOIN files f ON f.id = files_fts.rowid
		WHERE files_fts MATCH ?
		ORDER BY rank
	`, PhraseQuery(query))
	if err != nil {
		return nil, fmt.Errorf("searching files: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Remote, &m.Path, &m.Filename); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
