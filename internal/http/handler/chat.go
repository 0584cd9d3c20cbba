package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/normalize"
)

// ChatWebhookHandler ingests Slack Events API deliveries: the URL
// verification handshake plus message and app_mention callbacks.
type ChatWebhookHandler struct {
	normalizer    *normalize.Normalizer
	router        EventRouter
	signingSecret string
}

func NewChatWebhookHandler(normalizer *normalize.Normalizer, eventRouter EventRouter, signingSecret string) *ChatWebhookHandler {
	return &ChatWebhookHandler{
		normalizer:    normalizer,
		router:        eventRouter,
		signingSecret: signingSecret,
	}
}

func (h *ChatWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if h.signingSecret != "" {
		verifier, err := slack.NewSecretsVerifier(c.Request.Header, h.signingSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature headers"})
			return
		}
		if _, err := verifier.Write(body); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signature verification failed"})
			return
		}
		if err := verifier.Ensure(); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	eventsAPIEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	switch eventsAPIEvent.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge payload"})
			return
		}
		c.String(http.StatusOK, challenge.Challenge)
		return

	case slackevents.CallbackEvent:
		var ev *model.Event
		switch inner := eventsAPIEvent.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			ev = h.normalizer.ChatMessage(inner)
		case *slackevents.AppMentionEvent:
			ev = h.normalizer.ChatMention(inner)
		}

		if ev == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "event ignored"})
			return
		}

		decision := h.router.Route(ctx, ev)

		slog.InfoContext(ctx, "chat event processed",
			"session_key", ev.SessionKey,
			"event_type", ev.Type,
			"action", decision.Action,
			"reason", decision.Reason)

		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"action": decision.Action,
			"reason": decision.Reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "event type not supported"})
}
