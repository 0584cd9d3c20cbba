package conversation

import "strings"

// Action is the tag a developer comment resolves to.
type Action string

const (
	ActionFixCode        Action = "fix_code"
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionRetryLast      Action = "retry_last"
	ActionRevisePlan     Action = "revise_plan"
	ActionExplain        Action = "explain"
	ActionSkipPhase      Action = "skip_phase"
	ActionConversational Action = "conversational"
)

// DefaultSignals is the built-in phrase vocabulary. Matching is
// case-insensitive, exact phrase or phrase prefix.
func DefaultSignals() map[string]Action {
	return map[string]Action{
		"fix this":        ActionFixCode,
		"fix it":          ActionFixCode,
		"approve":         ActionApprove,
		"lgtm":            ActionApprove,
		"looks good":      ActionApprove,
		"reject":          ActionReject,
		"retry":           ActionRetryLast,
		"try again":       ActionRetryLast,
		"change approach": ActionRevisePlan,
		"explain":         ActionExplain,
		"explain this":    ActionExplain,
		"skip":            ActionSkipPhase,
		"skip phase":      ActionSkipPhase,
	}
}

// SignalsFromStrings converts a configured phrase map into the typed
// vocabulary. Returns nil for an empty map so the built-in defaults apply.
func SignalsFromStrings(m map[string]string) map[string]Action {
	if len(m) == 0 {
		return nil
	}
	signals := make(map[string]Action, len(m))
	for phrase, action := range m {
		signals[strings.ToLower(phrase)] = Action(action)
	}
	return signals
}

// classify resolves text to an action. The longest matching phrase wins
// so "skip phase" beats "skip"; anything unmatched is conversational.
func classify(text string, signals map[string]Action) Action {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return ActionConversational
	}

	best := ""
	for phrase := range signals {
		if t == phrase || strings.HasPrefix(t, phrase+" ") || strings.HasPrefix(t, phrase+".") || strings.HasPrefix(t, phrase+"!") {
			if len(phrase) > len(best) {
				best = phrase
			}
		}
	}
	if best == "" {
		return ActionConversational
	}
	return signals[best]
}
