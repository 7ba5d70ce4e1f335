package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	kikitori "github.com/snarg/kikitori"
	"github.com/snarg/kikitori/internal/api"
	"github.com/snarg/kikitori/internal/config"
	"github.com/snarg/kikitori/internal/media"
	"github.com/snarg/kikitori/internal/pipeline"
	"github.com/snarg/kikitori/internal/storage"
	"github.com/snarg/kikitori/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var (
		httpAddr = flag.String("addr", "", "http listen address")
		envFile  = flag.String("env-file", "", "path to .env file")
		logLevel = flag.String("log-level", "", "log level (trace..error)")
	)
	flag.Parse()

	early := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(config.Overrides{
		EnvFile:  *envFile,
		HTTPAddr: *httpAddr,
		LogLevel: *logLevel,
	})
	if err != nil {
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("kikitori-web starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pipeline
	store, err := storage.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	recognizer, err := transcribe.NewRecognizer(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize recognizer")
	}
	normalizer := media.NewNormalizer(cfg.FFmpegPath, cfg.FFprobePath, cfg.SampleRate, cfg.Channels, log)
	transcriber := transcribe.NewChunkTranscriber(store, recognizer, log)
	runner := transcribe.NewRunner(transcriber, cfg.MaxConcurrency, log)
	p := pipeline.New(normalizer, runner, cfg.ChunkDurationMs, cfg.TempDir, log)

	// Job queue
	jobs := api.NewJobManager(p, 32, log)
	jobs.Start()
	defer jobs.Stop()

	// HTTP server
	webFiles, err := fs.Sub(kikitori.WebFiles, "web")
	if err != nil {
		log.Fatal().Err(err).Msg("embedded web assets missing")
	}
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, jobs, webFiles, version, startTime, httpLog)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("kikitori-web stopped")
}
