package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/kikitori/internal/chunk"
	"github.com/snarg/kikitori/internal/media"
	"github.com/snarg/kikitori/internal/transcribe"
)

// fakeNormalizer writes a real PCM WAV of the configured duration so the
// chunker downstream operates on genuine data.
type fakeNormalizer struct {
	durationMs int64
	err        error
}

func (f *fakeNormalizer) Normalize(ctx context.Context, inputPath, outPath string) (*media.AudioHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	info := media.WavInfo{SampleRate: 16000, Channels: 1, BitsDepth: 16, BlockAlign: 2}
	dataLen := f.durationMs * 16000 / 1000 * 2
	if err := media.WriteWavHeader(out, info, dataLen); err != nil {
		return nil, err
	}
	if _, err := out.Write(make([]byte, dataLen)); err != nil {
		return nil, err
	}
	return &media.AudioHandle{
		Path:       outPath,
		SampleRate: 16000,
		Channels:   1,
		DurationMs: f.durationMs,
	}, nil
}

// fakeRunner returns canned text per chunk index; indexes in emptyChunks
// come back with empty text.
type fakeRunner struct {
	emptyChunks map[int]bool
	gotChunks   []chunk.Chunk
}

func (f *fakeRunner) RunAll(ctx context.Context, runID string, chunks []chunk.Chunk) []transcribe.ChunkResult {
	f.gotChunks = chunks
	results := make([]transcribe.ChunkResult, len(chunks))
	for i, c := range chunks {
		results[i] = transcribe.ChunkResult{Index: c.Index}
		if ctx.Err() != nil || f.emptyChunks[c.Index] {
			continue
		}
		results[i].Text = fmt.Sprintf("チャンク%d の内容", c.Index)
	}
	return results
}

func writeInput(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertNoLeftovers(t *testing.T, tempDir string) {
	t.Helper()
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir not cleaned, %d entries remain", len(entries))
	}
}

func TestRun_EndToEnd(t *testing.T) {
	tempDir := t.TempDir()
	runner := &fakeRunner{emptyChunks: map[int]bool{1: true}}
	p := New(&fakeNormalizer{durationMs: 7000}, runner, 3000, tempDir, zerolog.Nop())

	outPath := filepath.Join(t.TempDir(), "out.txt")
	res, err := p.Run(context.Background(), Job{
		InputPath:  writeInput(t, "meeting.mp3", 1024),
		OutputPath: outPath,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 7000ms at 3000ms per chunk means three chunks, the last truncated.
	if res.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", res.Chunks)
	}
	if res.EmptyChunks != 1 {
		t.Errorf("EmptyChunks = %d, want 1", res.EmptyChunks)
	}
	if res.AudioMs != 7000 {
		t.Errorf("AudioMs = %d, want 7000", res.AudioMs)
	}
	want := "チャンク0 の内容\nチャンク2 の内容"
	if res.Transcript != want {
		t.Errorf("Transcript = %q, want %q", res.Transcript, want)
	}

	persisted, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(persisted) != want {
		t.Errorf("persisted = %q, want %q", persisted, want)
	}

	if len(runner.gotChunks) != 3 {
		t.Fatalf("runner saw %d chunks", len(runner.gotChunks))
	}
	if runner.gotChunks[2].DurationMs != 1000 {
		t.Errorf("last chunk duration = %dms, want 1000", runner.gotChunks[2].DurationMs)
	}

	assertNoLeftovers(t, tempDir)
}

func TestRun_RejectsBadInput(t *testing.T) {
	tempDir := t.TempDir()
	p := New(&fakeNormalizer{durationMs: 1000}, &fakeRunner{}, 3000, tempDir, zerolog.Nop())

	cases := []struct {
		name  string
		input string
	}{
		{"missing_file", filepath.Join(t.TempDir(), "nope.wav")},
		{"empty_file", writeInput(t, "empty.wav", 0)},
		{"unsupported_extension", writeInput(t, "notes.txt", 64)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Run(context.Background(), Job{InputPath: tc.input})
			if !errors.Is(err, ErrInput) {
				t.Errorf("err = %v, want ErrInput", err)
			}
		})
	}
	assertNoLeftovers(t, tempDir)
}

func TestRun_CorruptMediaIsInputError(t *testing.T) {
	tempDir := t.TempDir()
	norm := &fakeNormalizer{err: fmt.Errorf("probe: %w", media.ErrEmptyOrCorrupt)}
	p := New(norm, &fakeRunner{}, 3000, tempDir, zerolog.Nop())

	_, err := p.Run(context.Background(), Job{InputPath: writeInput(t, "broken.mp4", 512)})
	if !errors.Is(err, ErrInput) {
		t.Errorf("err = %v, want ErrInput", err)
	}
	assertNoLeftovers(t, tempDir)
}

func TestRun_NormalizerFailureIsFatal(t *testing.T) {
	norm := &fakeNormalizer{err: errors.New("ffmpeg crashed")}
	p := New(norm, &fakeRunner{}, 3000, t.TempDir(), zerolog.Nop())

	_, err := p.Run(context.Background(), Job{InputPath: writeInput(t, "a.wav", 512)})
	if !errors.Is(err, ErrNormalization) {
		t.Errorf("err = %v, want ErrNormalization", err)
	}
}

func TestRun_AllChunksEmptyFailsWithoutOutput(t *testing.T) {
	tempDir := t.TempDir()
	runner := &fakeRunner{emptyChunks: map[int]bool{0: true, 1: true, 2: true}}
	p := New(&fakeNormalizer{durationMs: 7000}, runner, 3000, tempDir, zerolog.Nop())

	outPath := filepath.Join(t.TempDir(), "out.txt")
	_, err := p.Run(context.Background(), Job{
		InputPath:  writeInput(t, "silence.wav", 1024),
		OutputPath: outPath,
	})
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("err = %v, want ErrEmptyTranscript", err)
	}
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Error("output file exists after a failed run")
	}
	assertNoLeftovers(t, tempDir)
}

func TestRun_PersistFailure(t *testing.T) {
	tempDir := t.TempDir()
	p := New(&fakeNormalizer{durationMs: 2000}, &fakeRunner{}, 3000, tempDir, zerolog.Nop())

	_, err := p.Run(context.Background(), Job{
		InputPath:  writeInput(t, "a.flac", 1024),
		OutputPath: filepath.Join(t.TempDir(), "no", "such", "dir", "out.txt"),
	})
	if !errors.Is(err, ErrPersist) {
		t.Errorf("err = %v, want ErrPersist", err)
	}
	assertNoLeftovers(t, tempDir)
}

// cancellingRunner cancels the run context after transcribing its first two
// chunks, as if the process were interrupted while recognitions were in
// flight.
type cancellingRunner struct {
	cancel    context.CancelFunc
	processed int
}

func (f *cancellingRunner) RunAll(ctx context.Context, runID string, chunks []chunk.Chunk) []transcribe.ChunkResult {
	results := make([]transcribe.ChunkResult, len(chunks))
	for i, c := range chunks {
		results[i] = transcribe.ChunkResult{Index: c.Index}
		if ctx.Err() != nil {
			continue
		}
		results[i].Text = fmt.Sprintf("チャンク%d の内容", c.Index)
		f.processed++
		if f.processed == 2 {
			f.cancel()
		}
	}
	return results
}

func TestRun_CancelledMidRunCleansUp(t *testing.T) {
	tempDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 13000ms at 3000ms per chunk means five chunks; the run is cancelled
	// after the second one completes.
	runner := &cancellingRunner{cancel: cancel}
	p := New(&fakeNormalizer{durationMs: 13000}, runner, 3000, tempDir, zerolog.Nop())

	outPath := filepath.Join(t.TempDir(), "out.txt")
	_, err := p.Run(ctx, Job{
		InputPath:  writeInput(t, "long.mp3", 1024),
		OutputPath: outPath,
	})
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("err = %v, want ErrEmptyTranscript", err)
	}
	if runner.processed != 2 {
		t.Fatalf("runner processed %d chunks before cancellation, want 2", runner.processed)
	}
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Error("output file exists after an interrupted run")
	}
	assertNoLeftovers(t, tempDir)
}

func TestRun_CancelledContextCleansUp(t *testing.T) {
	tempDir := t.TempDir()
	p := New(&fakeNormalizer{durationMs: 7000}, &fakeRunner{}, 3000, tempDir, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outPath := filepath.Join(t.TempDir(), "out.txt")
	_, err := p.Run(ctx, Job{
		InputPath:  writeInput(t, "a.ogg", 1024),
		OutputPath: outPath,
	})
	if err == nil {
		t.Fatal("Run succeeded with a cancelled context")
	}
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Error("output file exists after a cancelled run")
	}
	assertNoLeftovers(t, tempDir)
}
