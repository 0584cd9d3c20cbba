package model

import (
	"encoding/json"
	"time"
)

// Source identifies the adapter that produced an event.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoller  Source = "poller"
	SourceChat    Source = "chat"
	SourcePlugin  Source = "plugin"
)

// EventType is the normalized kind of an inbound trigger.
type EventType string

const (
	EventIssueOpened        EventType = "issue_opened"
	EventIssueComment       EventType = "issue_comment"
	EventMergeRequestOpened EventType = "merge_request_opened"
	EventReviewComment      EventType = "review_comment"
	EventChatMessage        EventType = "chat_message"
	EventChatMention        EventType = "chat_mention"
	EventPluginMessage      EventType = "plugin_message"
)

// IsComment reports whether the event type is a comment/message kind,
// i.e. eligible for conversation hand-off while a lane is dispatched.
func (t EventType) IsComment() bool {
	switch t {
	case EventIssueComment, EventReviewComment, EventChatMessage, EventChatMention, EventPluginMessage:
		return true
	}
	return false
}

// Event is the canonical envelope every inbound trigger is normalized into.
// It is created once by a normalizer and never mutated afterwards.
//
// SessionKey is source-specific but always identifies exactly one
// conversation lane (issue IID, "channel:thread", plugin session, ...).
//
// RawPayload carries the unparsed platform payload for handlers that need
// it in-flight; it is excluded from every serialized form so queued events
// stay bounded.
type Event struct {
	ID              int64             `json:"id"`
	Source          Source            `json:"source"`
	Type            EventType         `json:"event_type"`
	Platform        string            `json:"platform"`
	SessionKey      string            `json:"session_key"`
	Content         string            `json:"content"`
	Author          string            `json:"author"`
	IsBot           bool              `json:"is_bot"`
	WorkflowCommand string            `json:"workflow_command"`
	RunID           string            `json:"run_id"`
	Timestamp       time.Time         `json:"timestamp"`
	Classification  string            `json:"classification,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	RawPayload json.RawMessage `json:"-"`
}

// Marshal renders the storage form of the event. RawPayload is dropped by
// the json:"-" tag, not by hand.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
