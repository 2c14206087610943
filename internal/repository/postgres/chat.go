package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nexora/rag/internal/repository"
)

// ChatRepo implements repository.ChatRepository. Messages are stored as
// a JSONB array per (tenant, session) row; appends concatenate
// server-side so concurrent writers never lose turns.
type ChatRepo struct {
	db *DB
}

// NewChatRepo creates a new chat repository
func NewChatRepo(db *DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// AppendMessages adds turns to a session, creating it on first use.
func (r *ChatRepo) AppendMessages(ctx context.Context, tenantID, sessionID string, msgs []repository.ChatMessage) error {
	if tenantID == "" {
		return repository.ErrMissingTenant
	}
	if len(msgs) == 0 {
		return nil
	}
	msgsJSON, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	query := `
		INSERT INTO chat_sessions (tenant_id, session_id, messages, last_active)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, session_id)
		DO UPDATE SET messages = chat_sessions.messages || EXCLUDED.messages, last_active = NOW()
	`
	if _, err := r.db.Pool.Exec(ctx, query, tenantID, sessionID, msgsJSON); err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return nil
}

// GetSession retrieves one session with its full history.
func (r *ChatRepo) GetSession(ctx context.Context, tenantID, sessionID string) (*repository.ChatSession, error) {
	if tenantID == "" {
		return nil, repository.ErrMissingTenant
	}

	var session repository.ChatSession
	var msgsJSON []byte
	err := r.db.Pool.QueryRow(ctx, `
		SELECT tenant_id, session_id, messages, last_active
		FROM chat_sessions
		WHERE tenant_id = $1 AND session_id = $2
	`, tenantID, sessionID).Scan(&session.TenantID, &session.SessionID, &msgsJSON, &session.LastActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if err := json.Unmarshal(msgsJSON, &session.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return &session, nil
}

// ClearSession removes a session. Clearing a missing session is not an
// error.
func (r *ChatRepo) ClearSession(ctx context.Context, tenantID, sessionID string) error {
	if tenantID == "" {
		return repository.ErrMissingTenant
	}
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM chat_sessions WHERE tenant_id = $1 AND session_id = $2`, tenantID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions idle longer than ttl.
func (r *ChatRepo) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM chat_sessions WHERE last_active < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ensure ChatRepo implements the interface
var _ repository.ChatRepository = (*ChatRepo)(nil)
