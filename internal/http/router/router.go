package router

import (
	"github.com/gin-gonic/gin"

	"github.com/icdev-platform/dispatch/internal/http/handler"
	"github.com/icdev-platform/dispatch/internal/normalize"
)

type RouterConfig struct {
	GitLabWebhookSecret string
	ChatSigningSecret   string
}

func SetupRoutes(engine *gin.Engine, normalizer *normalize.Normalizer, eventRouter handler.EventRouter, cfg RouterConfig) {
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	hooks := engine.Group("/hooks")
	{
		gitlabHandler := handler.NewGitLabWebhookHandler(normalizer, eventRouter, cfg.GitLabWebhookSecret)
		hooks.POST("/gitlab", gitlabHandler.HandleEvent)

		chatHandler := handler.NewChatWebhookHandler(normalizer, eventRouter, cfg.ChatSigningSecret)
		hooks.POST("/chat", chatHandler.HandleEvent)

		pluginHandler := handler.NewPluginWebhookHandler(normalizer, eventRouter)
		hooks.POST("/plugin", pluginHandler.HandleEvent)
	}

	statusHandler := handler.NewRunStatusHandler(eventRouter)
	engine.POST("/runs/:run_id/status", statusHandler.Report)
}
