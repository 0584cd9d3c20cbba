package store

import (
	"context"
	"errors"

	"github.com/icdev-platform/dispatch/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert loses a uniqueness race
// (a second active run or session for the same lane).
var ErrConflict = errors.New("conflict")

// PipelineRunStore defines the contract for run record access. The store
// is the sole authority for lane state; every method is one atomic
// statement so concurrent callers cannot observe a half-applied decision.
type PipelineRunStore interface {
	// CreateIfIdle inserts the run only if the lane has no active run.
	// Returns false when the lane was already occupied.
	CreateIfIdle(ctx context.Context, run *model.PipelineRun) (bool, error)

	// GetActive returns the lane's running/recovering run, or ErrNotFound.
	GetActive(ctx context.Context, sessionKey string) (*model.PipelineRun, error)

	GetByRunID(ctx context.Context, runID string) (*model.PipelineRun, error)

	// Finish moves the matching active run to a terminal status and
	// returns the freed session key, or ErrNotFound when no active run
	// matches runID.
	Finish(ctx context.Context, runID string, status model.RunStatus) (sessionKey string, err error)

	ListBySessionKey(ctx context.Context, sessionKey string, limit int32) ([]model.PipelineRun, error)
}

// EventQueueStore holds serialized events for occupied lanes, strict FIFO
// per session key.
type EventQueueStore interface {
	// EnqueueIfBelow inserts the payload unless the lane's pending depth
	// is already at max. Returns false when the queue was full.
	EnqueueIfBelow(ctx context.Context, sessionKey string, payload []byte, max int) (bool, error)

	// ClaimAll atomically marks every pending event for the lane as
	// processing and returns them in insertion order.
	ClaimAll(ctx context.Context, sessionKey string) ([]model.QueuedEvent, error)

	Depth(ctx context.Context, sessionKey string) (int, error)

	MarkProcessed(ctx context.Context, id int64) error
	MarkDropped(ctx context.Context, id int64) error
}

// ConversationStore persists turn-taking sessions and their turns.
type ConversationStore interface {
	// CreateSession inserts a new session; ErrConflict when the lane
	// already has an active one.
	CreateSession(ctx context.Context, session *model.ConversationSession) error

	GetSession(ctx context.Context, id int64) (*model.ConversationSession, error)

	// GetActiveSession returns the lane's active session, or ErrNotFound.
	GetActiveSession(ctx context.Context, sessionKey string) (*model.ConversationSession, error)

	// CloseSession moves the session to a terminal status.
	CloseSession(ctx context.Context, id int64, status model.SessionStatus) error

	// AppendTurn inserts the next turn, assigning turn_number. Returns
	// false without inserting when the turn's external id was already
	// logged for the session.
	AppendTurn(ctx context.Context, turn *model.ConversationTurn) (bool, error)

	// TouchSession records the latest agent action and turn count.
	TouchSession(ctx context.Context, id int64, totalTurns int, lastAction string) error

	ListTurns(ctx context.Context, sessionID int64) ([]model.ConversationTurn, error)
}
