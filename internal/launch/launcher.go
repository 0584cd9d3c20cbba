package launch

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/icdev-platform/dispatch/internal/queue"
)

// StreamLauncher hands launches to the worker fleet through the Redis
// stream. It carries the caller's trace id onto the message so the
// worker can stitch its spans to the ingress trace.
type StreamLauncher struct {
	producer queue.Producer
	logger   *slog.Logger
}

func NewStreamLauncher(producer queue.Producer, logger *slog.Logger) *StreamLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamLauncher{producer: producer, logger: logger}
}

func (l *StreamLauncher) Launch(ctx context.Context, workflow, sessionKey, runID, platform string) error {
	msg := queue.LaunchMessage{
		Workflow:   workflow,
		SessionKey: sessionKey,
		RunID:      runID,
		Platform:   platform,
		Attempt:    1,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.TraceID = sc.TraceID().String()
	}

	return l.producer.Enqueue(ctx, msg)
}
