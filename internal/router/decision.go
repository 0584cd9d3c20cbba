package router

import "fmt"

// ActionType is the outcome class of one routing decision.
type ActionType string

const (
	ActionLaunched     ActionType = "launched"
	ActionQueued       ActionType = "queued"
	ActionConversation ActionType = "conversation"
	ActionIgnored      ActionType = "ignored"
)

// Decision is the structured result of Route. Every decision carries a
// reason; nothing is dropped silently.
type Decision struct {
	Action   ActionType `json:"action"`
	Workflow string     `json:"workflow,omitempty"`
	RunID    string     `json:"run_id,omitempty"`
	Reason   string     `json:"reason"`
}

func launched(workflow, runID string) Decision {
	return Decision{Action: ActionLaunched, Workflow: workflow, RunID: runID, Reason: "dispatched"}
}

func queued(reason string) Decision {
	return Decision{Action: ActionQueued, Reason: reason}
}

func handedOff(runID, reason string) Decision {
	return Decision{Action: ActionConversation, RunID: runID, Reason: reason}
}

func ignored(reason string) Decision {
	return Decision{Action: ActionIgnored, Reason: reason}
}

func ignoredf(format string, args ...any) Decision {
	return ignored(fmt.Sprintf(format, args...))
}
