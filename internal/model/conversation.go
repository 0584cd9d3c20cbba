package model

import "time"

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// ConversationSession is a turn-taking thread bound to one
// (session_key, run_id) pair. Created lazily on the first command-less
// comment while the lane is dispatched; at most one active session per
// session key at a time.
type ConversationSession struct {
	ID              int64         `json:"id"`
	SessionKey      string        `json:"session_key"`
	RunID           string        `json:"run_id"`
	Platform        string        `json:"platform"`
	Status          SessionStatus `json:"status"`
	TotalTurns      int           `json:"total_turns"`
	LastAgentAction string        `json:"last_agent_action,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	RoleDeveloper TurnRole = "developer"
	RoleAgent     TurnRole = "agent"
	RoleSystem    TurnRole = "system"
)

type ContentType string

const (
	ContentText         ContentType = "text"
	ContentCommand      ContentType = "command"
	ContentCodeChange   ContentType = "code_change"
	ContentTestResult   ContentType = "test_result"
	ContentApproval     ContentType = "approval"
	ContentRejection    ContentType = "rejection"
	ContentStatusUpdate ContentType = "status_update"
	ContentError        ContentType = "error"
)

// ConversationTurn is append-only, ordered by TurnNumber within a session.
// ExternalID carries the upstream comment identifier; the store rejects a
// second turn with the same (session_id, external_id) so webhook
// re-delivery never duplicates a turn.
type ConversationTurn struct {
	ID          int64       `json:"id"`
	SessionID   int64       `json:"session_id"`
	TurnNumber  int         `json:"turn_number"`
	Role        TurnRole    `json:"role"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	ExternalID  string      `json:"external_id,omitempty"`
	Author      string      `json:"author,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
