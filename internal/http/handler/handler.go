package handler

import (
	"context"

	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/router"
)

// EventRouter is the routing surface the handlers need. Satisfied by
// router.Router; narrowed here so handler tests can fake it.
type EventRouter interface {
	Route(ctx context.Context, ev *model.Event) router.Decision
	ReportStatus(ctx context.Context, runID string, status model.RunStatus) error
}
