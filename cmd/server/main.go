package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/icdev-platform/dispatch/common/id"
	"github.com/icdev-platform/dispatch/common/logger"
	"github.com/icdev-platform/dispatch/common/otel"
	"github.com/icdev-platform/dispatch/core/config"
	"github.com/icdev-platform/dispatch/core/db"
	"github.com/icdev-platform/dispatch/internal/conversation"
	"github.com/icdev-platform/dispatch/internal/extract"
	"github.com/icdev-platform/dispatch/internal/http/middleware"
	httprouter "github.com/icdev-platform/dispatch/internal/http/router"
	"github.com/icdev-platform/dispatch/internal/launch"
	"github.com/icdev-platform/dispatch/internal/normalize"
	"github.com/icdev-platform/dispatch/internal/poller"
	"github.com/icdev-platform/dispatch/internal/queue"
	"github.com/icdev-platform/dispatch/internal/respond"
	"github.com/icdev-platform/dispatch/internal/router"
	"github.com/icdev-platform/dispatch/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "dispatch server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Launch.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Launch.RedisStream)

	producer := queue.NewRedisProducer(redisClient, cfg.Launch.RedisStream, slog.Default())
	defer producer.Close()

	extractor, err := extract.New(extract.Config{
		CommandPrefix: cfg.Registry.Extract.CommandPrefix,
		RunIDMarker:   cfg.Registry.Extract.RunIDMarker,
		BotSentinel:   cfg.Registry.Extract.BotSentinel,
		BotAuthors:    cfg.Registry.Extract.BotAuthors,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to build extractor", "error", err)
		os.Exit(1)
	}
	normalizer := normalize.New(extractor, cfg.Registry)

	stores := store.NewStores(database.Pool())

	posters := respond.NewMux()
	if cfg.GitLab.Enabled() {
		gitlabPoster, err := respond.NewGitLabPoster(cfg.GitLab.Token, cfg.GitLab.BaseURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to build gitlab poster", "error", err)
			os.Exit(1)
		}
		posters.Register("gitlab", gitlabPoster)
	}
	if cfg.Chat.Enabled() {
		posters.Register("slack", respond.NewSlackPoster(cfg.Chat.BotToken))
	}

	signals := conversation.SignalsFromStrings(cfg.Registry.Signals)
	manager := conversation.NewManager(stores.Conversations(), posters, signals, slog.Default())
	launcher := launch.NewStreamLauncher(producer, slog.Default())

	eventRouter, err := router.New(stores.Runs(), stores.Queue(), manager, launcher, cfg.Registry, slog.Default())
	if err != nil {
		slog.ErrorContext(ctx, "failed to build event router", "error", err)
		os.Exit(1)
	}

	var issuePoller *poller.Poller
	if cfg.Poller.Enabled {
		if !cfg.GitLab.Enabled() {
			slog.ErrorContext(ctx, "poller enabled but no gitlab token configured")
			os.Exit(1)
		}
		gitlabAPI, err := poller.NewClient(cfg.GitLab.Token, cfg.GitLab.BaseURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to build gitlab client", "error", err)
			os.Exit(1)
		}
		issuePoller = poller.New(gitlabAPI, normalizer, eventRouter, poller.Config{
			Interval: cfg.Poller.Interval,
			Projects: cfg.Poller.Projects,
			Label:    cfg.Poller.Label,
		})
		go issuePoller.Run(ctx)
		slog.InfoContext(ctx, "poller started",
			"interval", cfg.Poller.Interval, "projects", len(cfg.Poller.Projects))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := setupRouter(cfg, normalizer, eventRouter)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if issuePoller != nil {
		issuePoller.Stop()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, normalizer *normalize.Normalizer, eventRouter *router.Router) *gin.Engine {
	engine := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		engine.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	httprouter.SetupRoutes(engine, normalizer, eventRouter, httprouter.RouterConfig{
		GitLabWebhookSecret: cfg.GitLab.WebhookSecret,
		ChatSigningSecret:   cfg.Chat.SigningSecret,
	})

	return engine
}

const banner = `
██████╗ ██╗███████╗██████╗  █████╗ ████████╗ ██████╗██╗  ██╗
██╔══██╗██║██╔════╝██╔══██╗██╔══██╗╚══██╔══╝██╔════╝██║  ██║
██║  ██║██║███████╗██████╔╝███████║   ██║   ██║     ███████║
██║  ██║██║╚════██║██╔═══╝ ██╔══██║   ██║   ██║     ██╔══██║
██████╔╝██║███████║██║     ██║  ██║   ██║   ╚██████╗██║  ██║
╚═════╝ ╚═╝╚══════╝╚═╝     ╚═╝  ╚═╝   ╚═╝    ╚═════╝╚═╝  ╚═╝
`
