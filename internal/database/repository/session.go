package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/security"
)

// SessionEntry is one message of a chat session.
type SessionEntry struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// SessionRepository stores chat history per session. With a cipher the
// content column is encrypted at rest.
type SessionRepository struct {
	db     *sql.DB
	cipher *security.SessionCipher
}

// NewSessionRepository creates a session repository. cipher may be nil.
func NewSessionRepository(db *sql.DB, cipher *security.SessionCipher) *SessionRepository {
	return &SessionRepository{db: db, cipher: cipher}
}

// Append adds entries to a session in order.
func (r *SessionRepository) Append(ctx context.Context, sessionID string, entries ...SessionEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, e := range entries {
		content := e.Content
		if r.cipher != nil {
			content, err = r.cipher.Seal(content)
			if err != nil {
				return fmt.Errorf("failed to encrypt session entry: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_entries (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, e.Role, content, now,
		)
		if err != nil {
			return fmt.Errorf("failed to append session entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session entries: %w", err)
	}
	return nil
}

// Read returns the last limit entries of a session, oldest first. A
// non-positive limit returns the whole session.
func (r *SessionRepository) Read(ctx context.Context, sessionID string, limit int) ([]SessionEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM (
			SELECT id, session_id, role, content, created_at
			FROM session_entries WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	defer rows.Close()

	var entries []SessionEntry
	for rows.Next() {
		var e SessionEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session entry: %w", err)
		}
		if r.cipher != nil {
			e.Content, err = r.cipher.Open(e.Content)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt session entry %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a session and returns the number of deleted entries.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM session_entries WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session: %w", err)
	}
	return res.RowsAffected()
}
