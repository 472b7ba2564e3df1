package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatline/internal/api"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store holds the client's local state: a sessionStorage-like key/value table
// and a cache of messages seen from the backend.
type Store struct {
	db         *sql.DB
	ephemeral  bool
	ftsEnabled bool
	logger     *logrus.Logger
	mu         sync.Mutex
}

func Open(dbPath string, ephemeral bool, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Store{db: db, ephemeral: ephemeral, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close clears session storage and cached messages first when the store is
// ephemeral, the way a browser drops sessionStorage when the tab goes away.
func (s *Store) Close() error {
	if s.ephemeral {
		if err := s.Clear(); err != nil {
			s.logger.WithError(err).Warn("clear ephemeral store")
		}
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS session_storage (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			conversation_id INTEGER NOT NULL,
			author TEXT,
			content TEXT,
			media_url TEXT,
			sent_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return s.ensureFTSTable()
}

func (s *Store) ensureFTSTable() error {
	var sqlDef string
	err := s.db.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'messages_fts'`).Scan(&sqlDef)
	if err == nil {
		lower := strings.ToLower(sqlDef)
		s.ftsEnabled = strings.Contains(lower, "virtual table") && strings.Contains(lower, "fts5")
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("inspect messages_fts table: %w", err)
	}

	_, err = s.db.Exec(`CREATE VIRTUAL TABLE messages_fts USING fts5(
		conversation_id UNINDEXED,
		content
	);`)
	if err == nil {
		s.ftsEnabled = true
		return nil
	}

	if !strings.Contains(strings.ToLower(err.Error()), "no such module: fts5") {
		return fmt.Errorf("create messages_fts: %w", err)
	}

	// Fallback for sqlite builds without FTS5 support.
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS messages_fts (
		rowid INTEGER PRIMARY KEY,
		conversation_id INTEGER,
		content TEXT
	);`); err != nil {
		return fmt.Errorf("create messages_fts fallback table: %w", err)
	}
	s.ftsEnabled = false
	return nil
}

// Keys returns all session storage keys in ascending order.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key FROM session_storage ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list session keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan session key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session keys: %w", err)
	}
	return out, nil
}

func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v string
	err := s.db.QueryRow(`SELECT value FROM session_storage WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read session key %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`
		INSERT INTO session_storage(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("write session key %s: %w", key, err)
	}
	return nil
}

// Clear drops session storage together with the message cache, which belongs
// to the user who owned the session.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin clear tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"session_storage", "messages", "messages_fts"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

// CacheMessages upserts the canonical fields of msgs. Only backend-owned data
// is stored here.
func (s *Store) CacheMessages(ctx context.Context, conversationID int64, msgs []api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache tx: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO messages(id, conversation_id, author, content, media_url, sent_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id=excluded.conversation_id,
			author=excluded.author,
			content=excluded.content,
			media_url=excluded.media_url,
			sent_at=excluded.sent_at
	`)
	if err != nil {
		return fmt.Errorf("prepare message upsert: %w", err)
	}
	defer upsert.Close()

	clearFTS, err := tx.PrepareContext(ctx, `DELETE FROM messages_fts WHERE rowid = ?`)
	if err != nil {
		return fmt.Errorf("prepare fts delete: %w", err)
	}
	defer clearFTS.Close()

	insertFTS, err := tx.PrepareContext(ctx, `INSERT INTO messages_fts(rowid, conversation_id, content) VALUES(?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fts insert: %w", err)
	}
	defer insertFTS.Close()

	for _, m := range msgs {
		convID := m.ConversationID
		if convID == 0 {
			convID = conversationID
		}
		if _, err := upsert.ExecContext(ctx, m.ID, convID, m.Author, m.Content, m.MediaURL, unixOrNil(m.SentAt)); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
		if _, err := clearFTS.ExecContext(ctx, m.ID); err != nil {
			return fmt.Errorf("clear fts row %d: %w", m.ID, err)
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if _, err := insertFTS.ExecContext(ctx, m.ID, convID, m.Content); err != nil {
			return fmt.Errorf("index message %d: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message cache: %w", err)
	}
	return nil
}

// CachedMessages returns the cached messages of one conversation in id order.
func (s *Store) CachedMessages(conversationID int64) ([]api.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, conversation_id, COALESCE(author, ''), COALESCE(content, ''), COALESCE(media_url, ''), COALESCE(sent_at, 0)
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query cached messages: %w", err)
	}
	defer rows.Close()

	out := make([]api.Message, 0, 64)
	for rows.Next() {
		var m api.Message
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Author, &m.Content, &m.MediaURL, &sentAt); err != nil {
			return nil, fmt.Errorf("scan cached message: %w", err)
		}
		if sentAt > 0 {
			m.SentAt = time.Unix(sentAt, 0).UTC()
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached messages: %w", err)
	}
	return out, nil
}

func unixOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
