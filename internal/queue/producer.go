package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// LaunchMessage is one workflow launch request on the stream. Keyed by
// run id so a duplicate dispatch of the same run is detectable by the
// worker, keeping launches idempotent.
type LaunchMessage struct {
	Workflow   string
	SessionKey string
	RunID      string
	Platform   string
	TraceID    string
	Attempt    int
}

type Producer interface {
	Enqueue(ctx context.Context, msg LaunchMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg LaunchMessage) error {
	if msg.Workflow == "" || msg.RunID == "" {
		return fmt.Errorf("workflow and run_id are required")
	}

	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"workflow":    msg.Workflow,
		"session_key": msg.SessionKey,
		"run_id":      msg.RunID,
		"attempt":     attempt,
	}
	if msg.Platform != "" {
		fields["platform"] = msg.Platform
	}
	if msg.TraceID != "" {
		fields["trace_id"] = msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue launch: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued workflow launch",
		"workflow", msg.Workflow, "session_key", msg.SessionKey, "run_id", msg.RunID, "attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
