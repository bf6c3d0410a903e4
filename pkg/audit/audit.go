// Package audit persists conversation turns to a relational archive for
// later review. Writes are queued to a single worker so stream handlers
// never block; a failed write is logged and dropped — auditing must not
// break the live conversation.
package audit

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups for unknown sessions.
var ErrNotFound = errors.New("audit: session not found")

const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	notes      TEXT
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES chat_sessions(id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	timestamp  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id);
`

type record struct {
	sessionID string
	role      string
	content   string
	timestamp time.Time
	barrier   chan struct{} // when set, the worker closes it instead of writing
}

// Store is the SQLite-backed conversation archive.
type Store struct {
	db    *sql.DB
	queue chan record
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// Open opens (or creates) the archive at path and starts the write worker.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string, queueSize int) (*Store, error) {
	if queueSize < 1 {
		queueSize = 1
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	// The write worker is the only writer; a single connection keeps
	// modernc's file locking simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}

	s := &Store{
		db:    db,
		queue: make(chan record, queueSize),
	}
	s.wg.Add(1)
	go s.worker()

	return s, nil
}

// RecordUser enqueues a user turn. The single FIFO worker guarantees the
// user row is committed before the assistant row enqueued later in the same
// turn.
func (s *Store) RecordUser(sessionID, content string) {
	s.enqueue(record{sessionID: sessionID, role: "user", content: content, timestamp: time.Now().UTC()})
}

// RecordAssistant enqueues an assistant turn. Content is the re-personalized
// text the user saw, not the anonymized form.
func (s *Store) RecordAssistant(sessionID, content string) {
	s.enqueue(record{sessionID: sessionID, role: "assistant", content: content, timestamp: time.Now().UTC()})
}

func (s *Store) enqueue(r record) {
	select {
	case s.queue <- r:
	default:
		slog.Error("Audit queue full, dropping record", "session", r.sessionID, "role", r.role)
	}
}

func (s *Store) worker() {
	defer s.wg.Done()
	for r := range s.queue {
		if r.barrier != nil {
			close(r.barrier)
			continue
		}
		if err := s.write(r); err != nil {
			slog.Error("Audit write failed", "session", r.sessionID, "role", r.role, "error", err)
		}
	}
}

func (s *Store) write(r record) error {
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO chat_sessions (id, created_at) VALUES (?, ?)`,
		r.sessionID, r.timestamp,
	); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		r.sessionID, r.role, r.content, r.timestamp,
	)
	return err
}

// Flush blocks until every record enqueued so far is committed.
func (s *Store) Flush() {
	done := make(chan struct{})
	s.queue <- record{barrier: done}
	<-done
}

// Close drains the queue and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
	return s.db.Close()
}

// Session is one archived chat session.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Notes     string    `json:"notes,omitempty"`
}

// Message is one archived turn.
type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionDetail is a session with its ordered messages.
type SessionDetail struct {
	Session
	Messages []Message `json:"messages"`
}

// ListSessions returns archived sessions, newest first.
func (s *Store) ListSessions(offset, limit int) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, COALESCE(notes, '') FROM chat_sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.CreatedAt, &sess.Notes); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession returns one session with its messages in insertion order.
func (s *Store) GetSession(sessionID string) (*SessionDetail, error) {
	var detail SessionDetail
	err := s.db.QueryRow(
		`SELECT id, created_at, COALESCE(notes, '') FROM chat_sessions WHERE id = ?`,
		sessionID,
	).Scan(&detail.ID, &detail.CreatedAt, &detail.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, role, content, timestamp FROM chat_messages WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		detail.Messages = append(detail.Messages, m)
	}
	return &detail, rows.Err()
}

// UpdateNote sets the review note on a session.
func (s *Store) UpdateNote(sessionID, notes string) error {
	res, err := s.db.Exec(`UPDATE chat_sessions SET notes = ? WHERE id = ?`, notes, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExportCSV streams the full archive as CSV rows.
func (s *Store) ExportCSV(w io.Writer) error {
	rows, err := s.db.Query(`
		SELECT s.id, s.created_at, COALESCE(s.notes, ''), m.role, m.timestamp, m.content
		FROM chat_sessions s
		JOIN chat_messages m ON m.session_id = s.id
		ORDER BY s.created_at, m.id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"session_id", "session_created_at", "session_notes", "message_role", "message_time", "message_content"}); err != nil {
		return err
	}

	for rows.Next() {
		var sessionID, notes, role, content string
		var createdAt, timestamp time.Time
		if err := rows.Scan(&sessionID, &createdAt, &notes, &role, &timestamp, &content); err != nil {
			return err
		}
		if err := cw.Write([]string{
			sessionID,
			createdAt.Format(time.RFC3339),
			notes,
			role,
			timestamp.Format(time.RFC3339),
			content,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return rows.Err()
}
