// Package router owns the dispatch decision: for every normalized event,
// launch a run, queue behind the lane's active run, hand off to the
// conversation side channel, or ignore with a reason. Lane state lives
// exclusively in the store; the router keeps nothing in memory so any
// number of callers can race safely.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/icdev-platform/dispatch/common/id"
	"github.com/icdev-platform/dispatch/core/config"
	"github.com/icdev-platform/dispatch/internal/conversation"
	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/store"
)

// WorkflowLauncher starts a workflow execution. Best-effort and
// non-blocking: the router never waits for the workflow and a launch
// failure does not roll back the already-created run record.
type WorkflowLauncher interface {
	Launch(ctx context.Context, workflow, sessionKey, runID, platform string) error
}

type Router struct {
	runs          store.PipelineRunStore
	queue         store.EventQueueStore
	conversations *conversation.Manager
	launcher      WorkflowLauncher
	registry      config.Registry
	logger        *slog.Logger
}

// New validates the static configuration and builds a router. An empty
// workflow registry is the one condition that fails at construction
// time; everything later degrades to an ignored decision instead.
func New(runs store.PipelineRunStore, queue store.EventQueueStore, conversations *conversation.Manager, launcher WorkflowLauncher, registry config.Registry, logger *slog.Logger) (*Router, error) {
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		runs:          runs,
		queue:         queue,
		conversations: conversations,
		launcher:      launcher,
		registry:      registry,
		logger:        logger,
	}, nil
}

// Route decides what happens to one event. Total: it always returns a
// structured decision and never raises for business or infrastructure
// failures.
func (r *Router) Route(ctx context.Context, ev *model.Event) Decision {
	if ev == nil {
		return ignored("empty_event")
	}

	decision := r.route(ctx, ev)
	r.logger.InfoContext(ctx, "routed event",
		"session_key", ev.SessionKey,
		"event_type", ev.Type,
		"source", ev.Source,
		"action", decision.Action,
		"workflow", decision.Workflow,
		"run_id", decision.RunID,
		"reason", decision.Reason,
	)
	return decision
}

func (r *Router) route(ctx context.Context, ev *model.Event) Decision {
	if ev.IsBot {
		return ignored("bot_message")
	}

	if ev.WorkflowCommand != "" {
		if !r.registry.Has(ev.WorkflowCommand) {
			return ignoredf("unknown_workflow:%s", ev.WorkflowCommand)
		}
		if r.registry.NeedsRunID(ev.WorkflowCommand) && ev.RunID == "" {
			return ignoredf("%s requires run_id", ev.WorkflowCommand)
		}
	}

	// Lane state always comes from the store; a cached copy could go
	// stale under a concurrent caller.
	active, err := r.runs.GetActive(ctx, ev.SessionKey)
	switch {
	case err == nil:
		return r.routeDispatched(ctx, ev, active)
	case errors.Is(err, store.ErrNotFound):
		return r.routeIdle(ctx, ev)
	default:
		r.logger.ErrorContext(ctx, "lane state lookup failed",
			"session_key", ev.SessionKey, "error", err)
		return ignoredf("store_error:%v", err)
	}
}

// routeDispatched handles a lane that already has an active run:
// command-less comments go to the conversation side channel, everything
// else waits in the FIFO queue.
func (r *Router) routeDispatched(ctx context.Context, ev *model.Event, active *model.PipelineRun) Decision {
	if ev.WorkflowCommand == "" && ev.Type.IsComment() && r.conversations != nil {
		result, err := r.conversations.HandleEvent(ctx, ev, active.RunID)
		if err == nil && result != nil {
			if result.Duplicate {
				return ignored("duplicate_comment")
			}
			return handedOff(active.RunID, string(result.Action))
		}
		if err != nil {
			r.logger.WarnContext(ctx, "conversation hand-off failed, queueing instead",
				"session_key", ev.SessionKey, "error", err)
		}
	}

	payload, err := ev.Marshal()
	if err != nil {
		return ignoredf("serialize_error:%v", err)
	}

	ok, err := r.queue.EnqueueIfBelow(ctx, ev.SessionKey, payload, r.registry.QueueMax)
	if err != nil {
		r.logger.ErrorContext(ctx, "enqueue failed",
			"session_key", ev.SessionKey, "error", err)
		return ignoredf("store_error:%v", err)
	}
	if !ok {
		return ignored("queue_full")
	}
	return queued("lane_busy")
}

// routeIdle handles a free lane: resolve a workflow, create the run
// record atomically, and launch.
func (r *Router) routeIdle(ctx context.Context, ev *model.Event) Decision {
	workflow := ev.WorkflowCommand
	if workflow == "" {
		// Loose keyword fallback, kept as an explicit named policy.
		if r.registry.TriggerKeyword == "" || r.registry.DefaultWorkflow == "" ||
			!strings.Contains(strings.ToLower(ev.Content), strings.ToLower(r.registry.TriggerKeyword)) {
			return ignored("no_workflow_detected")
		}
		workflow = r.registry.DefaultWorkflow
	}

	runID := ev.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	run := &model.PipelineRun{
		ID:            id.New(),
		SessionKey:    ev.SessionKey,
		RunID:         runID,
		Platform:      ev.Platform,
		Workflow:      workflow,
		Status:        model.RunStatusRunning,
		TriggerSource: ev.Source,
	}

	created, err := r.runs.CreateIfIdle(ctx, run)
	if err != nil {
		r.logger.ErrorContext(ctx, "run creation failed",
			"session_key", ev.SessionKey, "workflow", workflow, "error", err)
		return ignoredf("store_error:%v", err)
	}
	if !created {
		// Lost the race for a fresh lane; the event waits its turn.
		active, err := r.runs.GetActive(ctx, ev.SessionKey)
		if err != nil {
			return ignoredf("store_error:%v", err)
		}
		return r.routeDispatched(ctx, ev, active)
	}

	// Fire and forget. Launch is not transactional with the record: a
	// failed launch leaves the lane dispatched until a completion report
	// (or a recovery pass) frees it.
	if err := r.launcher.Launch(ctx, workflow, ev.SessionKey, runID, ev.Platform); err != nil {
		r.logger.ErrorContext(ctx, "workflow launch failed",
			"session_key", ev.SessionKey, "workflow", workflow, "run_id", runID, "error", err)
	}

	return launched(workflow, runID)
}

// ReportStatus is the completion callback: it moves the matching active
// run to a terminal status and then drains the lane's queue.
func (r *Router) ReportStatus(ctx context.Context, runID string, status model.RunStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	sessionKey, err := r.runs.Finish(ctx, runID, status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no active run for run_id %q: %w", runID, store.ErrNotFound)
		}
		return fmt.Errorf("finishing run: %w", err)
	}

	r.logger.InfoContext(ctx, "run finished",
		"run_id", runID, "status", status, "session_key", sessionKey)

	r.drain(ctx, sessionKey)
	return nil
}

// drain replays the lane's queued events in insertion order. One
// malformed record is dropped and logged; it never aborts the rest.
func (r *Router) drain(ctx context.Context, sessionKey string) {
	events, err := r.queue.ClaimAll(ctx, sessionKey)
	if err != nil {
		r.logger.ErrorContext(ctx, "queue drain failed",
			"session_key", sessionKey, "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	r.logger.InfoContext(ctx, "draining lane queue",
		"session_key", sessionKey, "queued", len(events))

	for _, qe := range events {
		ev, err := model.UnmarshalEvent(qe.Payload)
		if err != nil {
			r.logger.WarnContext(ctx, "dropping malformed queued event",
				"session_key", sessionKey, "queued_event_id", qe.ID, "error", err)
			if err := r.queue.MarkDropped(ctx, qe.ID); err != nil {
				r.logger.WarnContext(ctx, "marking queued event dropped failed",
					"queued_event_id", qe.ID, "error", err)
			}
			continue
		}

		decision := r.Route(ctx, ev)
		r.logger.InfoContext(ctx, "replayed queued event",
			"session_key", sessionKey, "queued_event_id", qe.ID,
			"action", decision.Action, "reason", decision.Reason)

		if err := r.queue.MarkProcessed(ctx, qe.ID); err != nil {
			r.logger.WarnContext(ctx, "marking queued event processed failed",
				"queued_event_id", qe.ID, "error", err)
		}
	}
}
