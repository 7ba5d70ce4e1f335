package chunk

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/snarg/kikitori/internal/media"
)

// writeTestWav creates a 16kHz mono 16-bit WAV of the given duration.
func writeTestWav(t *testing.T, dir string, ms int64) string {
	t.Helper()
	path := filepath.Join(dir, "source.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	info := media.WavInfo{SampleRate: 16000, Channels: 1, BitsDepth: 16, BlockAlign: 2}
	dataLen := ms * 16000 / 1000 * 2
	if err := media.WriteWavHeader(f, info, dataLen); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := f.Write(make([]byte, dataLen)); err != nil {
		t.Fatalf("write data: %v", err)
	}
	return path
}

func TestSplit_ChunkMath(t *testing.T) {
	// duration=700000ms, chunkLen=300000ms -> 3 chunks of 300000, 300000, 100000
	dir := t.TempDir()
	src := writeTestWav(t, dir, 700000)

	chunks, err := Split(src, 300000, dir)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	wantDur := []int64{300000, 300000, 100000}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunks[%d].Index = %d, want %d", i, c.Index, i)
		}
		if c.DurationMs != wantDur[i] {
			t.Errorf("chunks[%d].DurationMs = %d, want %d", i, c.DurationMs, wantDur[i])
		}
	}
}

func TestSplit_Coverage(t *testing.T) {
	cases := []struct {
		name    string
		totalMs int64
		chunkMs int
		count   int
	}{
		{"exact_multiple", 600000, 300000, 2},
		{"with_remainder", 700000, 300000, 3},
		{"single_short", 1000, 300000, 1},
		{"one_ms_over", 300001, 300000, 2},
		{"tiny_chunks", 10000, 250, 40},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := writeTestWav(t, dir, tc.totalMs)

			chunks, err := Split(src, tc.chunkMs, dir)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if len(chunks) != tc.count {
				t.Fatalf("len(chunks) = %d, want %d", len(chunks), tc.count)
			}

			var sum int64
			for i, c := range chunks {
				sum += c.DurationMs
				if i > 0 {
					prev := chunks[i-1]
					if c.StartMs != prev.StartMs+prev.DurationMs {
						t.Errorf("chunk %d start %d not contiguous with previous end %d",
							i, c.StartMs, prev.StartMs+prev.DurationMs)
					}
				}
				if i < len(chunks)-1 && c.DurationMs != int64(tc.chunkMs) {
					t.Errorf("chunk %d duration %d, want full %d", i, c.DurationMs, tc.chunkMs)
				}
				if c.DurationMs > int64(tc.chunkMs) {
					t.Errorf("chunk %d duration %d exceeds requested %d", i, c.DurationMs, tc.chunkMs)
				}
			}
			if sum != tc.totalMs {
				t.Errorf("sum of durations = %d, want %d", sum, tc.totalMs)
			}
		})
	}
}

func TestSplit_ChunksAreDecodable(t *testing.T) {
	dir := t.TempDir()
	src := writeTestWav(t, dir, 2500)

	chunks, err := Split(src, 1000, dir)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	for _, c := range chunks {
		f, err := os.Open(c.Path)
		if err != nil {
			t.Fatalf("open chunk %d: %v", c.Index, err)
		}
		info, err := media.ReadWavInfo(f)
		f.Close()
		if err != nil {
			t.Fatalf("chunk %d not a valid WAV: %v", c.Index, err)
		}
		if info.SampleRate != 16000 || info.Channels != 1 {
			t.Errorf("chunk %d format = %dHz/%dch, want 16000Hz/1ch",
				c.Index, info.SampleRate, info.Channels)
		}
		if got := info.DurationMs(); got != c.DurationMs {
			t.Errorf("chunk %d file duration = %dms, want %dms", c.Index, got, c.DurationMs)
		}
	}
}

func TestSplit_RejectsNonPositiveDuration(t *testing.T) {
	dir := t.TempDir()
	src := writeTestWav(t, dir, 1000)

	if _, err := Split(src, 0, dir); err == nil {
		t.Error("Split accepted chunkDurationMs=0")
	}
	if _, err := Split(src, -5, dir); err == nil {
		t.Error("Split accepted negative chunkDurationMs")
	}
}

func TestSplit_RejectsNonWav(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-audio.wav")
	if err := os.WriteFile(path, []byte("this is not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Split(path, 1000, dir)
	if !errors.Is(err, media.ErrNotWave) {
		t.Errorf("err = %v, want ErrNotWave", err)
	}
}

func TestSplit_ChunkWriteError(t *testing.T) {
	dir := t.TempDir()
	src := writeTestWav(t, dir, 1000)

	_, err := Split(src, 1000, filepath.Join(dir, "missing-subdir"))
	if !errors.Is(err, ErrChunkWrite) {
		t.Errorf("err = %v, want ErrChunkWrite", err)
	}
}

func TestChunkKey(t *testing.T) {
	c := Chunk{Index: 3}
	got := c.Key("run123")
	want := "audio_chunks/run123/chunk_0003.wav"
	if got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
}
