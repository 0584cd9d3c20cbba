package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/icdev-platform/dispatch/common/logger"
	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/queue"
	"github.com/icdev-platform/dispatch/internal/store"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer Consumer
	executor WorkflowExecutor
	reporter CompletionReporter
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, executor WorkflowExecutor, reporter CompletionReporter, cfg Config) *Worker {
	return &Worker{
		consumer:  consumer,
		executor:  executor,
		reporter:  reporter,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"run_id", msg.RunID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"run_id", msg.RunID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_message",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	slog.InfoContext(ctx, "processing launch message",
		"message_id", msg.ID,
		"workflow", msg.Workflow,
		"run_id", msg.RunID,
		"attempt", msg.Attempt)

	if err := w.executor.Execute(ctx, msg); err != nil {
		return fmt.Errorf("executing workflow: %w", err)
	}

	// Execution succeeded. Report first, ack second: if we die between
	// the two, the redelivered execution is idempotent on the run record
	// (the lane is already freed, the report just comes back not-found).
	if err := w.reporter.ReportStatus(ctx, msg.RunID, model.RunStatusCompleted); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Redelivery of a message whose report already landed. The
			// lane is free; acking is all that is left to do.
			slog.InfoContext(ctx, "run already finished, acking redelivery",
				"run_id", msg.RunID)
		} else {
			// Acking here would strand the lane in dispatched forever.
			// Fail the message instead so requeue or the reclaimer
			// retries the report.
			return fmt.Errorf("reporting completion: %w", err)
		}
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - message will be reclaimed but that's safe
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"message_id", msg.ID)
	}

	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"run_id", msg.RunID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		// The run is not coming back; free the lane so queued events drain.
		if reportErr := w.reporter.ReportStatus(ctx, msg.RunID, model.RunStatusFailed); reportErr != nil {
			slog.ErrorContext(ctx, "failed to report run failure",
				"error", reportErr,
				"run_id", msg.RunID)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"run_id", msg.RunID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
