// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/kairos-ci/pkg/errors"
)

// SQLiteConversation stores transcripts in a SQLite database.
type SQLiteConversation struct {
	db *sql.DB
}

// NewSQLiteConversation opens (creating if needed) the database at path.
func NewSQLiteConversation(path string) (*SQLiteConversation, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "create transcript directory", err).WithContext("path", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "open sqlite", err).WithContext("path", path)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errors.New(errors.CodeMemoryError, "exec "+p, err)
		}
	}

	s := &SQLiteConversation{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteConversation) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS transcript_messages (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			session_id  TEXT NOT NULL,
			name        TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			round       INTEGER NOT NULL DEFAULT 0,
			metadata    TEXT,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript_messages(session_id, seq)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return errors.New(errors.CodeMemoryError, "migrate transcript schema", err)
		}
	}
	return nil
}

// AppendMessage implements ConversationMemory.
func (s *SQLiteConversation) AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error {
	msg = normalize(sessionID, msg)
	var metadata any
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return errors.New(errors.CodeMemoryError, "encode message metadata", err)
		}
		metadata = string(raw)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_messages (id, session_id, name, role, content, round, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, msg.Name, msg.Role, msg.Content, msg.Round, metadata, msg.CreatedAt.UnixNano())
	if err != nil {
		return errors.New(errors.CodeMemoryError, "save message", err).WithContext("session", sessionID)
	}
	return nil
}

// GetMessages implements ConversationMemory.
func (s *SQLiteConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	return s.query(ctx, `
		SELECT id, session_id, name, role, content, round, metadata, created_at
		FROM transcript_messages
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
}

// GetRecentMessages implements ConversationMemory.
func (s *SQLiteConversation) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	if limit <= 0 {
		return s.query(ctx, `
			SELECT id, session_id, name, role, content, round, metadata, created_at
			FROM transcript_messages
			WHERE session_id = ?
			ORDER BY seq`, sessionID)
	}
	messages, err := s.query(ctx, `
		SELECT id, session_id, name, role, content, round, metadata, created_at
		FROM transcript_messages
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLiteConversation) query(ctx context.Context, q string, args ...any) ([]ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "query messages", err)
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var (
			m        ConversationMessage
			metadata sql.NullString
			created  int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Name, &m.Role, &m.Content, &m.Round, &metadata, &created); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "scan message", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, errors.New(errors.CodeMemoryError, "decode message metadata", err)
			}
		}
		m.CreatedAt = time.Unix(0, created).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "iterate messages", err)
	}
	return messages, nil
}

// Clear implements ConversationMemory.
func (s *SQLiteConversation) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcript_messages WHERE session_id = ?`, sessionID); err != nil {
		return errors.New(errors.CodeMemoryError, "clear session", err).WithContext("session", sessionID)
	}
	return nil
}

// ListSessions implements ConversationMemory.
func (s *SQLiteConversation) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.session_id, COUNT(*), MIN(t.created_at), MAX(t.created_at),
			(SELECT f.name FROM transcript_messages f WHERE f.session_id = t.session_id ORDER BY f.seq LIMIT 1)
		FROM transcript_messages t
		GROUP BY t.session_id
		ORDER BY MAX(t.created_at) DESC, t.session_id`)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "list sessions", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info             SessionInfo
			started, updated int64
		)
		if err := rows.Scan(&info.ID, &info.Messages, &started, &updated, &info.Initiator); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "scan session", err)
		}
		info.Started = time.Unix(0, started).UTC()
		info.Updated = time.Unix(0, updated).UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "iterate sessions", err)
	}
	return out, nil
}

// Close implements ConversationMemory.
func (s *SQLiteConversation) Close() error {
	return s.db.Close()
}

var _ ConversationMemory = (*SQLiteConversation)(nil)
