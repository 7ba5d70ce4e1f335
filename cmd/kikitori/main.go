package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/snarg/kikitori/internal/config"
	"github.com/snarg/kikitori/internal/media"
	"github.com/snarg/kikitori/internal/pipeline"
	"github.com/snarg/kikitori/internal/storage"
	"github.com/snarg/kikitori/internal/transcribe"
	"github.com/snarg/kikitori/internal/watch"
)

var version = "dev"

func main() {
	var (
		inputPath   = flag.String("input", "", "media file to transcribe")
		outputPath  = flag.String("output", "", "transcript destination (default: stdout)")
		chunkMs     = flag.Int("chunk-ms", 0, "chunk duration in milliseconds")
		concurrency = flag.Int("concurrency", 0, "max concurrent chunk recognitions")
		watchDir    = flag.String("watch", "", "watch a drop directory instead of a single file")
		provider    = flag.String("provider", "", "recognition provider (google, assemblyai)")
		envFile     = flag.String("env-file", "", "path to .env file")
		logLevel    = flag.String("log-level", "", "log level (trace..error)")
	)
	flag.Parse()

	early := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(config.Overrides{
		EnvFile:         *envFile,
		LogLevel:        *logLevel,
		ChunkDurationMs: *chunkMs,
		MaxConcurrency:  *concurrency,
		WatchDir:        *watchDir,
		Provider:        *provider,
	})
	if err != nil {
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	log.Debug().Str("version", version).Str("provider", cfg.Provider).Msg("kikitori starting")

	if *inputPath == "" && cfg.WatchDir == "" {
		fmt.Fprintln(os.Stderr, "usage: kikitori -input FILE [-output FILE] | -watch DIR")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline")
	}

	if cfg.WatchDir != "" {
		runWatch(ctx, cfg.WatchDir, p, log)
		return
	}

	res, err := p.Run(ctx, pipeline.Job{InputPath: *inputPath, OutputPath: *outputPath})
	if err != nil {
		log.Error().Err(err).Msg(failureReason(err))
		os.Exit(1)
	}
	if *outputPath == "" {
		fmt.Println(res.Transcript)
	}
}

// buildPipeline wires the normalizer, staging backend, recognizer, and runner
// from config.
func buildPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pipeline.Pipeline, error) {
	store, err := storage.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	recognizer, err := transcribe.NewRecognizer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	normalizer := media.NewNormalizer(cfg.FFmpegPath, cfg.FFprobePath, cfg.SampleRate, cfg.Channels, log)
	transcriber := transcribe.NewChunkTranscriber(store, recognizer, log)
	runner := transcribe.NewRunner(transcriber, cfg.MaxConcurrency, log)

	return pipeline.New(normalizer, runner, cfg.ChunkDurationMs, cfg.TempDir, log), nil
}

func runWatch(ctx context.Context, dir string, p *pipeline.Pipeline, log zerolog.Logger) {
	w := watch.New(p, dir, log)
	if err := w.Start(); err != nil {
		log.Fatal().Err(err).Str("dir", dir).Msg("failed to start watcher")
	}
	<-ctx.Done()
	w.Stop()
}

// failureReason maps the pipeline's error classes to a short operator-facing
// summary.
func failureReason(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrInput):
		return "input rejected"
	case errors.Is(err, pipeline.ErrNormalization):
		return "audio normalization failed"
	case errors.Is(err, pipeline.ErrChunking):
		return "audio chunking failed"
	case errors.Is(err, pipeline.ErrEmptyTranscript):
		return "no usable speech recognized"
	case errors.Is(err, pipeline.ErrPersist):
		return "could not write transcript"
	default:
		return "transcription failed"
	}
}
