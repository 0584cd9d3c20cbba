package model

import "time"

type QueuedEventStatus string

const (
	QueuedEventPending    QueuedEventStatus = "pending"
	QueuedEventProcessing QueuedEventStatus = "processing"
	QueuedEventProcessed  QueuedEventStatus = "processed"
	QueuedEventDropped    QueuedEventStatus = "dropped"
)

// QueuedEvent holds a serialized Event for a lane that was occupied when
// the event arrived. Per session key the queue is strict FIFO by EnqueuedAt
// (ties broken by id); entries are never mutated, only consumed or dropped.
type QueuedEvent struct {
	ID         int64             `json:"id"`
	SessionKey string            `json:"session_key"`
	Payload    []byte            `json:"payload"`
	Status     QueuedEventStatus `json:"status"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}
