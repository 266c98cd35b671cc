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

	"voicebridge/internal/ratelimit"
	"voicebridge/internal/util"
	"voicebridge/pkg/ai"
	"voicebridge/pkg/line"
	"voicebridge/pkg/outgoing"
	"voicebridge/pkg/store"
	"voicebridge/services/bot/internal/app"
	"voicebridge/services/bot/internal/config"
	"voicebridge/services/bot/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	forwardTimeout, err := config.ParseForwardTimeout(cfg.ForwardTimeout)
	if err != nil {
		util.Fatal("failed to parse forward timeout", "err", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init store", "driver", cfg.DatabaseDriver, "err", err)
	}
	defer db.Close()

	state := store.NewRedisStateStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKeyPrefix)
	defer state.Close()
	if err := state.Ping(context.Background()); err != nil {
		util.Fatal("failed to connect redis", "addr", cfg.RedisAddr, "err", err)
	}

	lineClient, err := line.NewClient(cfg.LineChannelAccessToken, cfg.LineAPIBaseURL, cfg.LineDataAPIBaseURL)
	if err != nil {
		util.Fatal("failed to init line client", "err", err)
	}
	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		util.Fatal("failed to init gemini client", "err", err)
	}

	appCore, err := app.New(app.Config{
		Store:            db,
		State:            state,
		Messenger:        lineClient,
		Summarizer:       ai.NewGeminiSummarizer(gemini, cfg.GeminiModel),
		Forwarder:        outgoing.NewForwarder(forwardTimeout, outgoing.BreakerSettings{}),
		AudioMimeType:    cfg.AudioMimeType,
		EventConcurrency: cfg.EventConcurrency,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.APIRateLimitPerMinute, time.Minute)
	if err != nil {
		util.Fatal("failed to init rate limiter", "err", err)
	}
	defer limiter.Close()
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy cidrs", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		ChannelSecret:  cfg.LineChannelSecret,
		Limiter:        limiter,
		TrustedProxies: trusted,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		slog.Info("bot server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	appCore.Wait()
	slog.Info("shutdown complete")
}
