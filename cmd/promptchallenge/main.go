// Command promptchallenge boots the prompt-challenge attempt-processing
// engine: it loads configuration, opens the Postgres store (applying
// embedded migrations), rehydrates the durable queue, starts the worker
// pool and admission front, and serves the admin HTTP surface.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/promptchallenge/engine/internal/adminapi"
	"github.com/promptchallenge/engine/internal/admission"
	"github.com/promptchallenge/engine/internal/channel"
	"github.com/promptchallenge/engine/internal/config"
	"github.com/promptchallenge/engine/internal/engine"
	"github.com/promptchallenge/engine/internal/grader"
	"github.com/promptchallenge/engine/internal/llmclient"
	"github.com/promptchallenge/engine/internal/metrics"
	"github.com/promptchallenge/engine/internal/queue"
	"github.com/promptchallenge/engine/internal/reward"
	"github.com/promptchallenge/engine/internal/storage/postgres"
)

// CLI is the full flag surface, parsed with kong.
type CLI struct {
	ConfigDir   string `help:"Directory holding activity.yaml, levels.yaml, rewards.yaml." default:"./deploy/config" env:"CONFIG_DIR"`
	HTTPAddr    string `help:"Address for the admin HTTP server." default:":8080" env:"HTTP_ADDR"`
	LogLevel    string `help:"Minimum log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
	MigrateOnly bool   `help:"Apply pending migrations then exit."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli, kong.Description("Prompt-challenge attempt-processing engine"))

	envPath := cli.ConfigDir + "/.env"
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded", "path", envPath, "error", err)
	}

	setLogLevel(cli.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgRegistry, err := config.NewRegistry(cli.ConfigDir)
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	cfg := cfgRegistry.Get()

	store, err := postgres.New(ctx, postgres.Config{DSN: os.Getenv("DATABASE_URL")})
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	defer store.Close()
	slog.Info("connected to postgres and applied migrations")

	if cli.MigrateOnly {
		return
	}

	if err := reward.Reconcile(ctx, store, cfg); err != nil {
		kctx.FatalIfErrorf(err)
	}

	llm, err := llmclient.New(llmclient.Config{
		APIKey:  os.Getenv("LLM_API_KEY"),
		BaseURL: os.Getenv("LLM_BASE_URL"),
		Model:   cfg.Activity.LLM.Model,
		Timeout: cfg.Activity.LLM.Timeout,
	})
	if err != nil {
		kctx.FatalIfErrorf(err)
	}

	g := grader.New(llm)
	ch := newLoggingChannel()

	q := queue.New(store, cfg.Activity.GlobalLimits.QueueMaxLength)
	if err := q.Rehydrate(ctx); err != nil {
		kctx.FatalIfErrorf(err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	eng := engine.New(store, reward.New(store), llm, g, ch, cfgRegistry, m)
	pool := queue.NewWorkerPool(q, eng, cfg.Activity.GlobalLimits.WorkerConcurrency)
	metrics.RegisterPoolGauges(reg, q.Len, pool.BusyCount, pool.Size())
	pool.Start(ctx)

	front := admission.New(store, q, ch, cfgRegistry)

	router := gin.Default()
	router.POST("/message", func(c *gin.Context) {
		var body struct {
			UserID    string `json:"user_id" binding:"required"`
			ChatID    string `json:"chat_id" binding:"required"`
			MessageID string `json:"message_id"`
			Text      string `json:"text"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := front.OnMessage(c.Request.Context(), channel.InboundMessage{
			UserID: body.UserID, ChatID: body.ChatID, MessageID: body.MessageID,
			Text: body.Text, Timestamp: body.Timestamp,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	})

	adminapi.New(store, cfgRegistry, pool, reg, os.Getenv("ADMIN_TOKEN")).Register(router)

	srv := &http.Server{Addr: cli.HTTPAddr, Handler: router}
	go func() {
		slog.Info("admin HTTP server listening", "addr", cli.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	pool.Stop(15 * time.Second)
	slog.Info("shutdown complete")
}

func setLogLevel(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// loggingChannel wraps channel.Recorder so every reply is both logged (the
// only visible effect, as no chat transport is wired in) and retained in
// the in-process Recorder; nothing else in the process reads it back.
type loggingChannel struct {
	*channel.Recorder
}

func newLoggingChannel() *loggingChannel {
	return &loggingChannel{Recorder: channel.NewRecorder()}
}

func (l *loggingChannel) Send(ctx context.Context, chatID, text string) error {
	slog.Info("channel send", "chat_id", chatID, "text", text)
	return l.Recorder.Send(ctx, chatID, text)
}
