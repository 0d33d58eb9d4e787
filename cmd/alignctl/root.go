package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/config"
	"github.com/cisco7507/align-audio/internal/logging"
	"github.com/cisco7507/align-audio/internal/store"
)

// commandContext carries what subcommands share. The open* hooks, decoder
// and runner exist so tests can swap Postgres, S3 and ffmpeg out.
type commandContext struct {
	cfg    config.Config
	logger *slog.Logger

	openStore  func(ctx context.Context, cfg config.Config) (store.JobStore, func(), error)
	migrate    func(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]string, error)
	openMirror func(ctx context.Context, cfg config.Config) (artifacts.Mirror, error)

	decoder audio.Decoder
	runner  audio.Runner
}

func newCommandContext() *commandContext {
	cfg := config.Load()
	runner := audio.ExecRunner{}
	return &commandContext{
		cfg:        cfg,
		openStore:  openPostgres,
		migrate:    migratePostgres,
		openMirror: openS3Mirror,
		decoder:    audio.NewFFmpegDecoder(cfg.FFmpegPath, runner),
		runner:     runner,
	}
}

func newRootCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "alignctl",
		Short:         "Offline alignment and maintenance CLI for the audio alignment service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.logger != nil {
				return nil
			}
			logger, err := logging.New(logging.Options{Level: logLevel, Format: ctx.cfg.LogFormat, File: ctx.cfg.LogFile})
			if err != nil {
				return err
			}
			ctx.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", ctx.cfg.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&ctx.cfg.MediaRoot, "media-root", ctx.cfg.MediaRoot, "Directory holding uploads and results")

	rootCmd.AddCommand(newAlignCommand(ctx))
	rootCmd.AddCommand(newPurgeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	return rootCmd
}

func openPostgres(ctx context.Context, cfg config.Config) (store.JobStore, func(), error) {
	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

func migratePostgres(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]string, error) {
	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.RunMigrations(ctx, logger)
}

func openS3Mirror(ctx context.Context, cfg config.Config) (artifacts.Mirror, error) {
	m, err := artifacts.NewS3Mirror(ctx, cfg)
	if err != nil || m == nil {
		return nil, err
	}
	return m, nil
}
