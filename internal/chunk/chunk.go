// Package chunk splits normalized PCM audio into bounded-duration segments,
// each written as an independently decodable WAVE file. Chunk indices are
// contiguous, zero-based, and assigned in temporal order; that ordering is
// what transcript reassembly relies on.
package chunk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/snarg/kikitori/internal/media"
)

// ErrChunkWrite is returned when a chunk file cannot be materialized.
var ErrChunkWrite = errors.New("cannot write chunk file")

// Chunk is one bounded-duration slice of the source audio.
type Chunk struct {
	Index      int
	Path       string
	StartMs    int64
	DurationMs int64
}

// Key returns the staging object name for this chunk.
func (c Chunk) Key(runID string) string {
	return fmt.Sprintf("audio_chunks/%s/chunk_%04d.wav", runID, c.Index)
}

// Split partitions the WAVE file at srcPath into consecutive chunks of
// chunkDurationMs, the last one truncated to the remaining duration. Chunk
// files are written into dir as chunk_0000.wav, chunk_0001.wav, ...
// Chunk count is ceil(totalMs / chunkDurationMs). The source must be
// non-empty; callers validate that upstream.
func Split(srcPath string, chunkDurationMs int, dir string) ([]Chunk, error) {
	if chunkDurationMs <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %dms", chunkDurationMs)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open source audio: %w", err)
	}
	defer src.Close()

	info, err := media.ReadWavInfo(src)
	if err != nil {
		return nil, err
	}

	totalMs := info.DurationMs()
	if totalMs <= 0 {
		return nil, fmt.Errorf("source audio has zero duration")
	}

	cl := int64(chunkDurationMs)
	count := (totalMs + cl - 1) / cl

	chunks := make([]Chunk, 0, count)
	for i := int64(0); i < count; i++ {
		startMs := i * cl
		durMs := cl
		if startMs+durMs > totalMs {
			durMs = totalMs - startMs
		}

		from := info.ByteOffset(startMs)
		to := info.ByteOffset(startMs + durMs)
		if i == count-1 {
			// Sub-millisecond remainder frames belong to the last chunk.
			to = info.DataLen
		}

		path := filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", i))
		if err := writeChunk(src, info, path, from, to); err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrChunkWrite, i, err)
		}

		chunks = append(chunks, Chunk{
			Index:      int(i),
			Path:       path,
			StartMs:    startMs,
			DurationMs: durMs,
		})
	}

	return chunks, nil
}

// writeChunk copies payload bytes [from, to) into a fresh WAVE file.
func writeChunk(src *os.File, info media.WavInfo, path string, from, to int64) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	dataLen := to - from
	if err := media.WriteWavHeader(out, info, dataLen); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}

	r := io.NewSectionReader(src, info.DataOffset+from, dataLen)
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
