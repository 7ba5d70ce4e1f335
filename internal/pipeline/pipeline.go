// Package pipeline runs a transcription job end to end: normalize, chunk,
// transcribe, assemble, persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/kikitori/internal/chunk"
	"github.com/snarg/kikitori/internal/media"
	"github.com/snarg/kikitori/internal/metrics"
	"github.com/snarg/kikitori/internal/transcribe"
)

// Fatal error classes. Chunk-level failures are not among them: a failed
// chunk is dropped from the transcript, and only an entirely empty run is
// fatal.
var (
	ErrInput           = errors.New("input rejected")
	ErrNormalization   = errors.New("normalization failed")
	ErrChunking        = errors.New("chunking failed")
	ErrEmptyTranscript = transcribe.ErrEmptyTranscript
	ErrPersist         = errors.New("persisting transcript failed")
)

// Normalizer converts arbitrary input media to canonical PCM WAV.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outPath string) (*media.AudioHandle, error)
}

// ChunkRunner transcribes a set of chunks and returns order-stable results.
type ChunkRunner interface {
	RunAll(ctx context.Context, runID string, chunks []chunk.Chunk) []transcribe.ChunkResult
}

// Job is one transcription request. OutputPath may be empty, in which case
// the transcript is only returned, not written.
type Job struct {
	InputPath  string
	OutputPath string
}

// Result summarizes a finished run.
type Result struct {
	RunID       string
	Transcript  string
	AudioMs     int64
	Chunks      int
	EmptyChunks int
	Elapsed     time.Duration
}

// Pipeline orchestrates the run stages.
type Pipeline struct {
	normalizer      Normalizer
	runner          ChunkRunner
	chunkDurationMs int
	tempDir         string // "" means the OS default
	log             zerolog.Logger
}

// New creates a pipeline.
func New(normalizer Normalizer, runner ChunkRunner, chunkDurationMs int, tempDir string, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		normalizer:      normalizer,
		runner:          runner,
		chunkDurationMs: chunkDurationMs,
		tempDir:         tempDir,
		log:             log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes one job. All intermediate files live in a per-run temp dir
// that is removed on every exit path. The returned error, if any, wraps one
// of the package sentinels.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	runID := uuid.NewString()
	log := p.log.With().Str("run_id", runID).Str("input", job.InputPath).Logger()
	start := time.Now()

	res, err := p.run(ctx, log, runID, job)
	if err != nil {
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
		return nil, err
	}
	res.Elapsed = time.Since(start)
	metrics.JobsTotal.WithLabelValues("completed").Inc()
	log.Info().
		Int("chunks", res.Chunks).
		Int("empty_chunks", res.EmptyChunks).
		Int64("audio_ms", res.AudioMs).
		Dur("elapsed", res.Elapsed).
		Msg("job complete")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log zerolog.Logger, runID string, job Job) (*Result, error) {
	if err := p.validate(job.InputPath); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(p.tempDir, "kikitori-"+runID[:8]+"-*")
	if err != nil {
		return nil, fmt.Errorf("%w: temp dir: %v", ErrNormalization, err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("work dir cleanup failed")
		}
	}()

	// Normalize
	stageStart := time.Now()
	normPath := filepath.Join(workDir, "normalized.wav")
	handle, err := p.normalizer.Normalize(ctx, job.InputPath, normPath)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedFormat) || errors.Is(err, media.ErrEmptyOrCorrupt) {
			return nil, fmt.Errorf("%w: %v", ErrInput, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrNormalization, err)
	}
	metrics.ObserveStage("normalize", stageStart)
	log.Debug().Int64("audio_ms", handle.DurationMs).Msg("input normalized")

	// Chunk
	stageStart = time.Now()
	chunkDir := filepath.Join(workDir, "chunks")
	if err := os.Mkdir(chunkDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunking, err)
	}
	chunks, err := chunk.Split(handle.Path, p.chunkDurationMs, chunkDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunking, err)
	}
	metrics.ObserveStage("chunk", stageStart)
	log.Debug().Int("chunks", len(chunks)).Msg("audio chunked")

	// Transcribe
	stageStart = time.Now()
	results := p.runner.RunAll(ctx, runID, chunks)
	metrics.ObserveStage("transcribe", stageStart)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyTranscript, err)
	}

	empty := 0
	for _, r := range results {
		if r.Text == "" {
			empty++
		}
	}

	// Assemble
	transcript, err := transcribe.Assemble(results)
	if err != nil {
		return nil, err
	}

	// Persist
	if job.OutputPath != "" {
		stageStart = time.Now()
		if err := writeAtomic(job.OutputPath, []byte(transcript)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersist, err)
		}
		metrics.ObserveStage("persist", stageStart)
	}

	return &Result{
		RunID:       runID,
		Transcript:  transcript,
		AudioMs:     handle.DurationMs,
		Chunks:      len(chunks),
		EmptyChunks: empty,
	}, nil
}

func (p *Pipeline) validate(inputPath string) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInput, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInput, inputPath)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInput, inputPath)
	}
	if !media.IsMediaFile(inputPath) {
		return fmt.Errorf("%w: %s is not a supported media file", ErrInput, inputPath)
	}
	return nil
}

// writeAtomic writes the transcript via temp file + rename so a failed run
// never leaves a partial output behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
