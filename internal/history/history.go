// Package history provides a SQLite-backed audit log of chat messages.
// If opening the DB or executing queries fails, the store falls back to
// in-memory storage so the chat loop is never blocked by persistence.
package history

import (
	"database/sql"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/codexec/codebot/internal/logger"
)

// Store records chat messages. The zero value is unusable; use Open.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	messages []Message // in-memory fallback
	nextID   int64
}

const schema = `CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	role TEXT,
	content TEXT,
	created_at DATETIME
);`

// Open opens (creating if needed) the SQLite database at path. It never
// returns an error: on failure the store degrades to in-memory storage.
func Open(path string) *Store {
	s := &Store{nextID: 1}
	if path == "" {
		path = "history.db"
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		logger.L.Warn("sqlite open failed; using in-memory history", "path", path, "error", err)
		return s
	}
	if _, err := db.Exec(schema); err != nil {
		logger.L.Warn("sqlite table creation failed; using in-memory history", "path", path, "error", err)
		db.Close()
		return s
	}
	s.db = db
	logger.L.Debug("history store opened", "path", path)
	return s
}

// Save records a message. Failures are logged, never returned: the audit log
// must not interrupt the conversation.
func (s *Store) Save(msg Message) {
	if s.db != nil {
		_, err := s.db.Exec(
			`INSERT INTO messages (session_id, role, content, created_at) VALUES (?,?,?,?);`,
			msg.SessionID, msg.Role, msg.Content, msg.CreatedAt,
		)
		if err == nil {
			return
		}
		logger.L.Error("failed to store message in sqlite; falling back to memory", "error", err)
	}

	s.mu.Lock()
	msg.ID = s.nextID
	s.nextID++
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

// List returns all messages of a session in chronological order.
func (s *Store) List(sessionID string) []Message {
	if s.db != nil {
		rows, err := s.db.Query(
			`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC;`,
			sessionID,
		)
		if err == nil {
			defer rows.Close()
			var out []Message
			for rows.Next() {
				var m Message
				if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err == nil {
					out = append(out, m)
				}
			}
			return out
		}
		logger.L.Error("sqlite history query failed; falling back to memory", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

// Close releases the underlying database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
