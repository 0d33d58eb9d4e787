package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cisco7507/align-audio/internal/api"
	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/config"
	"github.com/cisco7507/align-audio/internal/logging"
	"github.com/cisco7507/align-audio/internal/orchestrator"
	"github.com/cisco7507/align-audio/internal/queue"
	"github.com/cisco7507/align-audio/internal/ratelimit"
	"github.com/cisco7507/align-audio/internal/spectrogram"
	"github.com/cisco7507/align-audio/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if _, err := st.RunMigrations(ctx, logger); err != nil {
		logger.Error("migrations", "error", err)
		os.Exit(1)
	}

	q := queue.NewRedisQueue(cfg)
	defer q.Client().Close()
	limiter := ratelimit.NewTokenBucket(q.Client(), cfg.RateLimitCapacity, cfg.RateLimitRefill, 0)

	layout := artifacts.NewLayout(cfg.MediaRoot)
	runner := audio.ExecRunner{}
	decoder := audio.NewFFmpegDecoder(cfg.FFmpegPath, runner)

	orch := orchestrator.New(orchestrator.Options{
		Store:             st,
		Queue:             q,
		Layout:            layout,
		Decoder:           decoder,
		Runner:            runner,
		FFmpegPath:        cfg.FFmpegPath,
		RawAudioRetention: cfg.RawAudioRetention(),
		Logger:            logger,
	})
	spectrograms := spectrogram.New(spectrogram.Options{
		Store:       st,
		Layout:      layout,
		Decoder:     decoder,
		Concurrency: cfg.RenderConcurrency,
		Logger:      logger,
	})

	server := api.New(cfg, orch, spectrograms, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", "port", cfg.HTTPPort, "media_root", cfg.MediaRoot)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
