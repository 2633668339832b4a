package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	jaas "github.com/HalSarj/JaaS"
	"github.com/HalSarj/JaaS/internal/analyze"
	"github.com/HalSarj/JaaS/internal/api"
	"github.com/HalSarj/JaaS/internal/config"
	"github.com/HalSarj/JaaS/internal/database"
	"github.com/HalSarj/JaaS/internal/dropbox"
	"github.com/HalSarj/JaaS/internal/embedding"
	"github.com/HalSarj/JaaS/internal/history"
	"github.com/HalSarj/JaaS/internal/intake"
	"github.com/HalSarj/JaaS/internal/motifs"
	"github.com/HalSarj/JaaS/internal/pipeline"
	"github.com/HalSarj/JaaS/internal/storage"
	"github.com/HalSarj/JaaS/internal/sync"
	"github.com/HalSarj/JaaS/internal/transcribe"
	"github.com/HalSarj/JaaS/internal/vault"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "postgres connection string")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "local audio storage directory")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("jaas starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, jaas.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Blob storage
	blobs, err := storage.New(cfg.S3, cfg.AudioDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob storage")
	}
	log.Info().Str("backend", blobs.Type()).Msg("blob storage ready")

	// Provider and AI clients
	dbx := dropbox.New(cfg.DropboxAppKey, cfg.DropboxAppSecret, cfg.DropboxTimeout)
	stt := transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.OpenAIKey, cfg.WhisperTimeout)
	analyzer := analyze.NewClient(cfg.AnalysisURL, cfg.AnalysisModel, cfg.OpenAIKey, cfg.AnalysisTimeout)
	embedder := embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.OpenAIKey, cfg.EmbeddingDim, cfg.EmbeddingTimeout)

	// Credential vault and domain services
	creds := vault.New(db, dbx, cfg.DropboxRedirectURL, log)
	selector := history.NewSelector(db)
	tracker := motifs.NewTracker(db, log)

	pipe := pipeline.New(pipeline.Options{
		Store:       db,
		Blobs:       blobs,
		STT:         stt,
		Analyzer:    analyzer,
		Embedder:    embedder,
		Context:     selector,
		Motifs:      tracker,
		Workers:     cfg.PipelineWorkers,
		QueueSize:   cfg.PipelineQueueSize,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      log,
	})
	pipe.Start(ctx)

	ingest := intake.New(db, blobs, dbx, creds, pipe, log)
	syncer := sync.NewSyncer(db, dbx, creds, cfg.WatchFolder, log)
	runner := sync.NewRunner(db, syncer, ingest, log)

	sweeper := sync.NewSweeper(db, pipe, cfg.SweepInterval, cfg.MaxAttempts, log)
	sweeper.Start()

	// HTTP server
	handlers := api.Handlers{
		Webhook: api.NewWebhookHandler(cfg.DropboxAppSecret, runner, log),
		Records: api.NewRecordsHandler(db, blobs, pipe),
		Auth:    api.NewAuthHandler(creds),
		Health:  api.NewHealthHandler(db, pipe, version, startTime),
	}
	srv := api.NewServer(cfg, handlers, log.With().Str("component", "http").Logger())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	sweeper.Stop()
	pipe.Stop()

	log.Info().Msg("jaas stopped")
}
