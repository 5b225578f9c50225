package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/talkgpt/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// Store persists the sessions and messages collections in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and bootstraps the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers well, and an in-memory
	// database exists per connection. Keep a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id    TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		last_activity INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		session_id      TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		created_at      INTEGER NOT NULL,
		UNIQUE (session_id, sequence_number),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session_created
		ON messages(session_id, created_at DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateSession inserts a new session record. Returns ErrSessionExists when
// the identifier is already taken.
func (s *Store) CreateSession(ctx context.Context, session chat.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = ?)`,
		session.SessionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	if exists {
		return ErrSessionExists
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, name, created_at, last_activity) VALUES (?, ?, ?, ?)`,
		session.SessionID, session.Name, session.CreatedAt.UnixNano(), session.LastActivity.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return tx.Commit()
}

// GetSession retrieves a session by identifier.
func (s *Store) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var (
		session      chat.Session
		createdAt    int64
		lastActivity int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, name, created_at, last_activity FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&session.SessionID, &session.Name, &createdAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to query session: %w", err)
	}

	session.CreatedAt = time.Unix(0, createdAt).UTC()
	session.LastActivity = time.Unix(0, lastActivity).UTC()
	return session, nil
}

// ListSessions returns all sessions ordered by last activity descending,
// each annotated with its message count.
func (s *Store) ListSessions(ctx context.Context) ([]chat.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.name, s.created_at, s.last_activity,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.last_activity DESC, s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	summaries := make([]chat.SessionSummary, 0, 16)
	for rows.Next() {
		var (
			summary      chat.SessionSummary
			createdAt    int64
			lastActivity int64
		)
		if err := rows.Scan(&summary.SessionID, &summary.Name, &createdAt, &lastActivity, &summary.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		summary.CreatedAt = time.Unix(0, createdAt).UTC()
		summary.LastActivity = time.Unix(0, lastActivity).UTC()
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// RenameSession updates the display name and bumps last activity. Returns
// ErrSessionNotFound when no record matches.
func (s *Store) RenameSession(ctx context.Context, sessionID, name string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, last_activity = ? WHERE session_id = ?`,
		name, now.UnixNano(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rename result: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session and all of its messages. Returns
// ErrSessionNotFound when no record matches.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}

	return tx.Commit()
}

// AppendMessage persists a message with the next sequence number for its
// session and bumps the session's last activity. The sequence read and both
// writes share one transaction, so the number is MAX+1 at commit time rather
// than a racy count taken earlier in the request.
func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE session_id = ?`,
		msg.CreatedAt.UnixNano(), msg.SessionID,
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to touch session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to read touch result: %w", err)
	}
	if affected == 0 {
		return chat.Message{}, ErrSessionNotFound
	}

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM messages WHERE session_id = ?`,
		msg.SessionID,
	).Scan(&msg.SequenceNumber)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to compute sequence number: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, sequence_number, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, msg.SequenceNumber, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// ListMessages returns all messages for a session ordered by sequence
// number ascending. An unknown session yields an empty slice.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, role, content, sequence_number, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY sequence_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var (
			msg       chat.Message
			createdAt int64
		)
		if err := rows.Scan(&msg.SessionID, &msg.Role, &msg.Content, &msg.SequenceNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
