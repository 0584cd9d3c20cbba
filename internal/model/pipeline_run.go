package model

import "time"

type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusRecovering RunStatus = "recovering"
)

// IsActive reports whether a run in this status occupies its lane.
func (s RunStatus) IsActive() bool {
	return s == RunStatusRunning || s == RunStatusRecovering
}

// IsTerminal reports whether this status ends a run.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// PipelineRun is one execution attempt for a (session_key, run_id) pair.
// At most one run per session key may be in an active status at any
// instant; that invariant is enforced by the store, not by callers.
// Rows are created on dispatch and only ever mutated to a terminal status.
type PipelineRun struct {
	ID            int64      `json:"id"`
	SessionKey    string     `json:"session_key"`
	RunID         string     `json:"run_id"`
	Platform      string     `json:"platform"`
	Workflow      string     `json:"workflow"`
	Status        RunStatus  `json:"status"`
	TriggerSource Source     `json:"trigger_source"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
