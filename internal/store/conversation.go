package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icdev-platform/dispatch/common/id"
	"github.com/icdev-platform/dispatch/internal/model"
)

type conversationStore struct {
	pool *pgxpool.Pool
}

func (s *conversationStore) CreateSession(ctx context.Context, session *model.ConversationSession) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversation_sessions (id, session_key, run_id, platform, status, total_turns, last_agent_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		session.ID, session.SessionKey, session.RunID, session.Platform,
		session.Status, session.TotalTurns, session.LastAgentAction,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("creating conversation session: %w", err)
	}
	return nil
}

func (s *conversationStore) GetSession(ctx context.Context, sessionID int64) (*model.ConversationSession, error) {
	return s.scanSession(ctx, `
		SELECT id, session_key, run_id, platform, status, total_turns, last_agent_action, created_at, updated_at
		FROM conversation_sessions
		WHERE id = $1`,
		sessionID)
}

func (s *conversationStore) GetActiveSession(ctx context.Context, sessionKey string) (*model.ConversationSession, error) {
	return s.scanSession(ctx, `
		SELECT id, session_key, run_id, platform, status, total_turns, last_agent_action, created_at, updated_at
		FROM conversation_sessions
		WHERE session_key = $1 AND status = 'active'`,
		sessionKey)
}

func (s *conversationStore) CloseSession(ctx context.Context, sessionID int64, status model.SessionStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversation_sessions
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'active'`,
		sessionID, status)
	if err != nil {
		return fmt.Errorf("closing conversation session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *conversationStore) AppendTurn(ctx context.Context, turn *model.ConversationTurn) (bool, error) {
	if turn.ID == 0 {
		turn.ID = id.New()
	}
	// turn_number is assigned inside the statement; the partial unique
	// index on (session_id, external_id) absorbs webhook re-delivery.
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversation_turns (id, session_id, turn_number, role, content, content_type, external_id, author)
		SELECT $1, $2,
			coalesce((SELECT max(turn_number) FROM conversation_turns WHERE session_id = $2), 0) + 1,
			$3, $4, $5, $6, $7
		ON CONFLICT (session_id, external_id) WHERE external_id <> '' DO NOTHING
		RETURNING turn_number, created_at`,
		turn.ID, turn.SessionID, turn.Role, turn.Content, turn.ContentType, turn.ExternalID, turn.Author,
	).Scan(&turn.TurnNumber, &turn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("appending conversation turn: %w", err)
	}
	return true, nil
}

func (s *conversationStore) TouchSession(ctx context.Context, sessionID int64, totalTurns int, lastAction string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversation_sessions
		SET total_turns = $2, last_agent_action = $3, updated_at = now()
		WHERE id = $1`,
		sessionID, totalTurns, lastAction)
	if err != nil {
		return fmt.Errorf("updating conversation session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *conversationStore) ListTurns(ctx context.Context, sessionID int64) ([]model.ConversationTurn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, turn_number, role, content, content_type, external_id, author, created_at
		FROM conversation_turns
		WHERE session_id = $1
		ORDER BY turn_number`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing conversation turns: %w", err)
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		var t model.ConversationTurn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnNumber, &t.Role, &t.Content, &t.ContentType, &t.ExternalID, &t.Author, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *conversationStore) scanSession(ctx context.Context, query string, args ...any) (*model.ConversationSession, error) {
	var sess model.ConversationSession
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sess.ID, &sess.SessionKey, &sess.RunID, &sess.Platform, &sess.Status,
		&sess.TotalTurns, &sess.LastAgentAction, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}
