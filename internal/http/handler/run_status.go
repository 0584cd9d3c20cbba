package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/store"
)

// RunStatusHandler receives completion reports from workflow runs that
// finish out-of-band (the worker reports in-process; external runners
// use this endpoint). A terminal report frees the lane and triggers the
// queue drain.
type RunStatusHandler struct {
	router EventRouter
}

func NewRunStatusHandler(eventRouter EventRouter) *RunStatusHandler {
	return &RunStatusHandler{router: eventRouter}
}

type runStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *RunStatusHandler) Report(c *gin.Context) {
	ctx := c.Request.Context()

	runID := c.Param("run_id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing run_id"})
		return
	}

	var req runStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	status := model.RunStatus(req.Status)
	if !status.IsTerminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be terminal (completed or failed)"})
		return
	}

	if err := h.router.ReportStatus(ctx, runID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active run with that run_id"})
			return
		}
		slog.ErrorContext(ctx, "completion report failed",
			"run_id", runID, "status", status, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record completion"})
		return
	}

	slog.InfoContext(ctx, "run completion recorded", "run_id", runID, "status", status)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
