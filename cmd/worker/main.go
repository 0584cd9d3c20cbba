package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/icdev-platform/dispatch/common/id"
	"github.com/icdev-platform/dispatch/common/logger"
	"github.com/icdev-platform/dispatch/core/config"
	"github.com/icdev-platform/dispatch/core/db"
	"github.com/icdev-platform/dispatch/internal/conversation"
	"github.com/icdev-platform/dispatch/internal/launch"
	"github.com/icdev-platform/dispatch/internal/queue"
	"github.com/icdev-platform/dispatch/internal/respond"
	"github.com/icdev-platform/dispatch/internal/router"
	"github.com/icdev-platform/dispatch/internal/store"
	"github.com/icdev-platform/dispatch/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "dispatch worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Launch.RedisGroup,
		"consumer_name", cfg.Launch.RedisConsumer)

	// Different node id than the server so snowflake ids never collide
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
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
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Launch.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Launch.RedisStream,
		Group:        cfg.Launch.RedisGroup,
		Consumer:     cfg.Launch.RedisConsumer,
		DLQStream:    cfg.Launch.RedisDLQStream,
		BatchSize:    1, // One workflow launch at a time
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Pool())

	// Completion reporting goes through the event router so finishing a run
	// frees the lane and drains anything queued behind it. Drained comments
	// may produce replies, so the worker carries the same posters as the
	// server.
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

	producer := queue.NewRedisProducer(redisClient, cfg.Launch.RedisStream, slog.Default())
	defer producer.Close()
	launcher := launch.NewStreamLauncher(producer, slog.Default())

	eventRouter, err := router.New(stores.Runs(), stores.Queue(), manager, launcher, cfg.Registry, slog.Default())
	if err != nil {
		slog.ErrorContext(ctx, "failed to build event router", "error", err)
		os.Exit(1)
	}

	executor := worker.NewExecExecutor(cfg.Launch.WorkflowDir, nil)

	w := worker.New(consumer, executor, eventRouter, worker.Config{
		MaxAttempts: 3,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Launch.RedisStream,
		Group:     cfg.Launch.RedisGroup,
		Consumer:  cfg.Launch.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running", "workflow_dir", cfg.Launch.WorkflowDir)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first (quick), then the worker (may be mid-run)
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
██████╗ ██╗███████╗██████╗  █████╗ ████████╗ ██████╗██╗  ██╗    ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔══██╗██║██╔════╝██╔══██╗██╔══██╗╚══██╔══╝██╔════╝██║  ██║    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██║  ██║██║███████╗██████╔╝███████║   ██║   ██║     ███████║    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║  ██║██║╚════██║██╔═══╝ ██╔══██║   ██║   ██║     ██╔══██║    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
██████╔╝██║███████║██║     ██║  ██║   ██║   ╚██████╗██║  ██║    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚═════╝ ╚═╝╚══════╝╚═╝     ╚═╝  ╚═╝   ╚═╝    ╚═════╝╚═╝  ╚═╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
