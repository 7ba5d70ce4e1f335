package transcribe

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/snarg/kikitori/internal/chunk"
	"github.com/snarg/kikitori/internal/metrics"
	"github.com/snarg/kikitori/internal/storage"
)

// ChunkResult is the outcome for one chunk. A failed chunk carries empty
// Text; the failure itself is logged, not propagated.
type ChunkResult struct {
	Index int
	Text  string
}

// ChunkTranscriber stages a single chunk, recognizes it, and removes the
// staged copy. Every failure along the way degrades to an empty result so
// one bad chunk cannot sink the whole run.
type ChunkTranscriber struct {
	store      storage.BlobStore
	recognizer Recognizer
	log        zerolog.Logger
}

// NewChunkTranscriber wires a staging backend to a recognizer.
func NewChunkTranscriber(store storage.BlobStore, recognizer Recognizer, log zerolog.Logger) *ChunkTranscriber {
	return &ChunkTranscriber{
		store:      store,
		recognizer: recognizer,
		log:        log.With().Str("component", "chunk-transcriber").Logger(),
	}
}

// Transcribe processes one chunk end to end. It never returns an error:
// stage or recognition failures yield ChunkResult{Index, ""}.
func (t *ChunkTranscriber) Transcribe(ctx context.Context, runID string, c chunk.Chunk) ChunkResult {
	log := t.log.With().Int("chunk", c.Index).Str("run_id", runID).Logger()
	start := time.Now()

	key := c.Key(runID)
	ref, err := t.store.Stage(ctx, c.Path, key)
	if err != nil {
		metrics.ChunksFailed.Inc()
		log.Warn().Err(err).Msg("chunk staging failed")
		return ChunkResult{Index: c.Index}
	}
	defer func() {
		// Best effort: a leaked staged object is not worth failing the chunk.
		if err := t.store.Remove(context.WithoutCancel(ctx), key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("staged chunk cleanup failed")
		}
	}()

	text, err := t.recognizer.Recognize(ctx, ref)
	if err != nil {
		metrics.ChunksFailed.Inc()
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("chunk recognition failed")
		return ChunkResult{Index: c.Index}
	}

	metrics.ChunksCompleted.Inc()
	log.Debug().
		Int("text_len", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("chunk transcribed")
	return ChunkResult{Index: c.Index, Text: text}
}

// Runner fans chunk transcriptions out across a bounded number of in-flight
// recognitions.
type Runner struct {
	transcriber    *ChunkTranscriber
	maxConcurrency int64
	log            zerolog.Logger
}

// NewRunner creates a runner admitting at most maxConcurrency chunks at once.
func NewRunner(transcriber *ChunkTranscriber, maxConcurrency int, log zerolog.Logger) *Runner {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Runner{
		transcriber:    transcriber,
		maxConcurrency: int64(maxConcurrency),
		log:            log,
	}
}

// RunAll transcribes every chunk and returns results indexed by chunk order,
// regardless of completion order. The slice always has len(chunks) entries;
// failed chunks hold empty text.
func (r *Runner) RunAll(ctx context.Context, runID string, chunks []chunk.Chunk) []ChunkResult {
	results := make([]ChunkResult, len(chunks))
	sem := semaphore.NewWeighted(r.maxConcurrency)

	for i, c := range chunks {
		results[i] = ChunkResult{Index: c.Index}
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: remaining chunks stay empty.
			r.log.Warn().Err(err).Int("chunk", c.Index).Msg("admission aborted")
			continue
		}
		go func(slot int, c chunk.Chunk) {
			defer sem.Release(1)
			metrics.ChunksInFlight.Inc()
			defer metrics.ChunksInFlight.Dec()
			results[slot] = r.transcriber.Transcribe(ctx, runID, c)
		}(i, c)
	}

	// Draining the full weight waits for every in-flight chunk.
	if err := sem.Acquire(context.WithoutCancel(ctx), r.maxConcurrency); err == nil {
		sem.Release(r.maxConcurrency)
	}
	return results
}
