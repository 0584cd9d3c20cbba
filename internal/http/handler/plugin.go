package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/icdev-platform/dispatch/internal/normalize"
)

// PluginWebhookHandler ingests generic connector messages. Anything
// that can POST JSON can act as a trigger source through this hook.
type PluginWebhookHandler struct {
	normalizer *normalize.Normalizer
	router     EventRouter
}

func NewPluginWebhookHandler(normalizer *normalize.Normalizer, eventRouter EventRouter) *PluginWebhookHandler {
	return &PluginWebhookHandler{
		normalizer: normalizer,
		router:     eventRouter,
	}
}

func (h *PluginWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	var msg normalize.PluginMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ev := h.normalizer.Plugin(msg)
	if ev == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source and session_key are required"})
		return
	}

	decision := h.router.Route(ctx, ev)

	slog.InfoContext(ctx, "plugin event processed",
		"plugin_source", msg.Source,
		"session_key", ev.SessionKey,
		"action", decision.Action,
		"reason", decision.Reason)

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"action": decision.Action,
		"reason": decision.Reason,
	})
}
