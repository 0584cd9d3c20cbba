package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/normalize"
)

// GitLabWebhookHandler ingests Issue, Note and Merge Request hooks.
// GitLab retries non-2xx deliveries, so unsupported payloads are
// answered 200 and dropped rather than rejected.
type GitLabWebhookHandler struct {
	normalizer *normalize.Normalizer
	router     EventRouter
	secret     string
}

func NewGitLabWebhookHandler(normalizer *normalize.Normalizer, eventRouter EventRouter, secret string) *GitLabWebhookHandler {
	return &GitLabWebhookHandler{
		normalizer: normalizer,
		router:     eventRouter,
		secret:     secret,
	}
}

func (h *GitLabWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	if h.secret != "" && c.GetHeader("X-Gitlab-Token") != h.secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var ev *model.Event
	eventHeader := c.GetHeader("X-Gitlab-Event")
	switch eventHeader {
	case "Issue Hook":
		ev = h.normalizer.GitLabIssueOpened(body)
	case "Note Hook":
		ev = h.normalizer.GitLabNote(body)
	case "Merge Request Hook":
		ev = h.normalizer.GitLabMergeRequest(body)
	default:
		slog.InfoContext(ctx, "unsupported gitlab event, ignoring", "event_header", eventHeader)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "event type not supported"})
		return
	}

	if ev == nil {
		slog.InfoContext(ctx, "gitlab payload not actionable, ignoring", "event_header", eventHeader)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "event ignored"})
		return
	}

	decision := h.router.Route(ctx, ev)

	slog.InfoContext(ctx, "gitlab webhook processed",
		"event_header", eventHeader,
		"session_key", ev.SessionKey,
		"event_type", ev.Type,
		"action", decision.Action,
		"reason", decision.Reason)

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"action": decision.Action,
		"reason": decision.Reason,
	})
}
