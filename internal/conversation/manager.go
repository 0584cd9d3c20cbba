package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/icdev-platform/dispatch/common/id"
	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/store"
)

// ResponsePoster posts a reply back to the platform the event came from.
// Best-effort: a posting failure never changes the decided action.
type ResponsePoster interface {
	Post(ctx context.Context, ev *model.Event, text string) (externalID string, err error)
}

// CommentResult is what processing one developer comment produced.
type CommentResult struct {
	Action       Action
	ResponseText string
	Status       model.SessionStatus
	Duplicate    bool
}

// Manager runs the turn-taking side channel for comment events that reach
// an already-dispatched lane without a workflow command.
type Manager struct {
	store   store.ConversationStore
	poster  ResponsePoster
	signals map[string]Action
	logger  *slog.Logger
}

func NewManager(convStore store.ConversationStore, poster ResponsePoster, signals map[string]Action, logger *slog.Logger) *Manager {
	if signals == nil {
		signals = DefaultSignals()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   convStore,
		poster:  poster,
		signals: signals,
		logger:  logger,
	}
}

// GetOrCreateSession returns the lane's active session, creating it
// lazily. Losing the creation race to a concurrent caller resolves to
// the winner's session.
func (m *Manager) GetOrCreateSession(ctx context.Context, sessionKey, runID, platform string) (*model.ConversationSession, error) {
	sess, err := m.store.GetActiveSession(ctx, sessionKey)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("fetching conversation session: %w", err)
	}

	sess = &model.ConversationSession{
		ID:         id.New(),
		SessionKey: sessionKey,
		RunID:      runID,
		Platform:   platform,
		Status:     model.SessionActive,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return m.store.GetActiveSession(ctx, sessionKey)
		}
		return nil, fmt.Errorf("creating conversation session: %w", err)
	}
	return sess, nil
}

// HandleEvent resolves the session for a comment event and processes it,
// posting any reply back through the poster.
func (m *Manager) HandleEvent(ctx context.Context, ev *model.Event, runID string) (*CommentResult, error) {
	sess, err := m.GetOrCreateSession(ctx, ev.SessionKey, runID, ev.Platform)
	if err != nil {
		return nil, err
	}

	result, err := m.ProcessComment(ctx, sess.ID, ev.Content, ev.Author, externalID(ev))
	if err != nil {
		return nil, err
	}

	if result.ResponseText != "" && m.poster != nil {
		if _, err := m.poster.Post(ctx, ev, result.ResponseText); err != nil {
			m.logger.WarnContext(ctx, "posting conversation reply failed",
				"session_key", ev.SessionKey, "error", err)
		}
	}
	return result, nil
}

// ProcessComment appends a developer turn, classifies its signal,
// dispatches the per-signal handler, and appends the agent's reply turn.
// A comment whose external id was already logged is rejected silently.
// Approve closes the session as completed, reject closes it as paused.
func (m *Manager) ProcessComment(ctx context.Context, sessionID int64, text, author, extID string) (*CommentResult, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	devTurn := &model.ConversationTurn{
		SessionID:   sessionID,
		Role:        model.RoleDeveloper,
		Content:     text,
		ContentType: model.ContentText,
		ExternalID:  extID,
		Author:      author,
	}
	created, err := m.store.AppendTurn(ctx, devTurn)
	if err != nil {
		return nil, fmt.Errorf("logging developer turn: %w", err)
	}
	if !created {
		m.logger.InfoContext(ctx, "duplicate comment ignored",
			"session_id", sessionID, "external_id", extID)
		return &CommentResult{Status: sess.Status, Duplicate: true}, nil
	}

	action := classify(text, m.signals)
	response, contentType := m.respond(action)

	status := sess.Status
	switch action {
	case ActionApprove:
		status = model.SessionCompleted
	case ActionReject:
		status = model.SessionPaused
	}
	if status != sess.Status {
		if err := m.store.CloseSession(ctx, sessionID, status); err != nil {
			m.logger.WarnContext(ctx, "closing session failed",
				"session_id", sessionID, "status", status, "error", err)
			status = sess.Status
		}
	}

	turns := sess.TotalTurns + 1
	if response != "" {
		agentTurn := &model.ConversationTurn{
			SessionID:   sessionID,
			Role:        model.RoleAgent,
			Content:     response,
			ContentType: contentType,
		}
		// The action is already decided; a failed reply log only loses
		// the record of what we said, not the decision itself.
		if _, err := m.store.AppendTurn(ctx, agentTurn); err != nil {
			m.logger.WarnContext(ctx, "logging agent turn failed",
				"session_id", sessionID, "error", err)
		} else {
			turns++
		}
	}

	if err := m.store.TouchSession(ctx, sessionID, turns, string(action)); err != nil {
		m.logger.WarnContext(ctx, "updating session counters failed",
			"session_id", sessionID, "error", err)
	}

	return &CommentResult{
		Action:       action,
		ResponseText: response,
		Status:       status,
	}, nil
}

// respond maps a classified action to the agent's canned acknowledgement.
func (m *Manager) respond(action Action) (string, model.ContentType) {
	switch action {
	case ActionFixCode:
		return "Working on a fix for this thread.", model.ContentStatusUpdate
	case ActionApprove:
		return "Approved. Wrapping up this conversation.", model.ContentApproval
	case ActionReject:
		return "Understood, pausing here. Reply with a command to resume.", model.ContentRejection
	case ActionRetryLast:
		return "Retrying the last step.", model.ContentStatusUpdate
	case ActionRevisePlan:
		return "Revising the approach before continuing.", model.ContentStatusUpdate
	case ActionExplain:
		return "Here is what the current run is doing and why.", model.ContentText
	case ActionSkipPhase:
		return "Skipping the current phase.", model.ContentStatusUpdate
	default:
		return "", model.ContentText
	}
}

// externalID picks the platform comment identifier used for turn dedup.
func externalID(ev *model.Event) string {
	for _, key := range []string{"note_id", "ts", "external_id"} {
		if v, ok := ev.Metadata[key]; ok && v != "" {
			return v
		}
	}
	return ""
}
