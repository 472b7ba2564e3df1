package store

import (
	"database/sql"
	"fmt"
	"strings"
)

type SearchHit struct {
	ConversationID int64
	Hits           int
}

// SearchMessages ranks conversations by how many cached messages match query.
func (s *Store) SearchMessages(query string, limit int) ([]SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 200
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	rows, err := s.searchRows(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SearchHit, 0, 16)
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ConversationID, &h.Hits); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return out, nil
}

func (s *Store) searchRows(query string, limit int) (*sql.Rows, error) {
	if s.ftsEnabled {
		rows, err := s.searchRowsFTS(query, limit)
		if err == nil {
			return rows, nil
		}
		fallback, fbErr := s.searchRowsLike(query, limit)
		if fbErr != nil {
			return nil, fmt.Errorf("search messages (fts and fallback failed): fts=%w, fallback=%v", err, fbErr)
		}
		return fallback, nil
	}
	return s.searchRowsLike(query, limit)
}

func (s *Store) searchRowsFTS(query string, limit int) (*sql.Rows, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, fmt.Errorf("empty fts query")
	}
	rows, err := s.db.Query(`
		SELECT conversation_id, COUNT(*) AS score
		FROM messages_fts
		WHERE messages_fts MATCH ?
		GROUP BY conversation_id
		ORDER BY score DESC, conversation_id
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query failed: %w", err)
	}
	return rows, nil
}

func (s *Store) searchRowsLike(query string, limit int) (*sql.Rows, error) {
	terms := tokenizeSearchTerms(query)
	if len(terms) == 0 {
		terms = []string{strings.ToLower(strings.TrimSpace(query))}
	}

	var b strings.Builder
	b.WriteString(`
		SELECT conversation_id, COUNT(*) AS score
		FROM messages
		WHERE `)
	args := make([]any, 0, len(terms)+1)
	for idx, term := range terms {
		if idx > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("LOWER(content) LIKE ?")
		args = append(args, "%"+term+"%")
	}
	b.WriteString(`
		GROUP BY conversation_id
		ORDER BY score DESC, conversation_id
		LIMIT ?
	`)
	args = append(args, limit)
	rows, err := s.db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("like query failed: %w", err)
	}
	return rows, nil
}

func buildFTSQuery(raw string) string {
	parts := tokenizeSearchTerms(raw)
	if len(parts) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(p, `"`, "")
		if p == "" {
			continue
		}
		quoted = append(quoted, fmt.Sprintf(`"%s"*`, p))
	}
	return strings.Join(quoted, " AND ")
}

func tokenizeSearchTerms(raw string) []string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "`\"'.,:;!?()[]{}<>|")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
