package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/config"
	"github.com/cisco7507/align-audio/internal/logging"
	"github.com/cisco7507/align-audio/internal/orchestrator"
	"github.com/cisco7507/align-audio/internal/queue"
	"github.com/cisco7507/align-audio/internal/store"
	"github.com/cisco7507/align-audio/internal/telemetry"
	workerproc "github.com/cisco7507/align-audio/internal/worker"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	opts := orchestrator.Options{
		Store:             st,
		Queue:             q,
		Layout:            artifacts.NewLayout(cfg.MediaRoot),
		FFmpegPath:        cfg.FFmpegPath,
		RawAudioRetention: cfg.RawAudioRetention(),
		Logger:            logger,
	}
	mirror, err := artifacts.NewS3Mirror(ctx, cfg)
	if err != nil {
		logger.Error("init s3 mirror", "error", err)
		os.Exit(1)
	}
	if mirror != nil {
		opts.Mirror = mirror
		logger.Info("mirroring results to s3", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	}
	orch := orchestrator.New(opts)

	processor := workerproc.NewProcessor(workerproc.Options{
		Queue:        q,
		Jobs:         orch,
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		Lease:        q.VisibilityTimeout(),
		Logger:       logger,
	})

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker started", "concurrency", cfg.WorkerConcurrency, "visibility", cfg.VisibilityTimeout)
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
