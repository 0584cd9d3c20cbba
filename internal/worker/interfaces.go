package worker

import (
	"context"

	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// WorkflowExecutor abstracts the workflow execution for testability.
type WorkflowExecutor interface {
	Execute(ctx context.Context, msg queue.Message) error
}

// CompletionReporter receives the terminal status of a run and frees
// the lane it occupies. Satisfied by router.Router.
type CompletionReporter interface {
	ReportStatus(ctx context.Context, runID string, status model.RunStatus) error
}
