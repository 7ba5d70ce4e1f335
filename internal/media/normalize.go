// Package media normalizes arbitrary audio/video input into the canonical
// format the recognizers expect: single-channel PCM WAV at a fixed sample
// rate. Decoding is delegated to ffmpeg/ffprobe.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrUnsupportedFormat is returned when the input container or codec
	// cannot be decoded, or the file has no audio track.
	ErrUnsupportedFormat = errors.New("unsupported media format")

	// ErrEmptyOrCorrupt is returned when the decoded stream has zero duration.
	ErrEmptyOrCorrupt = errors.New("media stream is empty or corrupt")
)

// AudioHandle is an immutable reference to normalized PCM audio.
type AudioHandle struct {
	Path       string
	SampleRate int
	Channels   int
	DurationMs int64
}

// Extensions accepted for transcription. Every entry point checks these
// before handing the file to ffprobe.
var (
	audioExtensions = map[string]bool{
		".wav": true, ".mp3": true, ".flac": true, ".m4a": true, ".ogg": true,
	}
	videoExtensions = map[string]bool{
		".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".flv": true,
		".mkv": true, ".webm": true, ".m4v": true, ".3gp": true, ".mts": true,
	}
)

// IsMediaFile reports whether the filename has a recognized audio or video
// extension.
func IsMediaFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return audioExtensions[ext] || videoExtensions[ext]
}

// Normalizer converts media files to canonical PCM via ffmpeg.
type Normalizer struct {
	ffmpegPath  string
	ffprobePath string
	sampleRate  int
	channels    int
	log         zerolog.Logger
}

// NewNormalizer creates a normalizer targeting the given sample rate and
// channel count.
func NewNormalizer(ffmpegPath, ffprobePath string, sampleRate, channels int, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		sampleRate:  sampleRate,
		channels:    channels,
		log:         log.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize decodes inputPath and writes canonical PCM WAV to outPath.
// Video containers are handled the same way; the audio track is extracted
// and the video discarded. If the input is already canonical WAV the file
// is copied rather than re-encoded.
func (n *Normalizer) Normalize(ctx context.Context, inputPath, outPath string) (*AudioHandle, error) {
	probe, err := n.probe(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	if probe.canonical(n.sampleRate, n.channels) {
		n.log.Debug().Str("input", inputPath).Msg("input already canonical, copying")
		if err := copyFile(inputPath, outPath); err != nil {
			return nil, fmt.Errorf("copy canonical audio: %w", err)
		}
	} else {
		// ffmpeg -y -i input -vn -ac 1 -ar 16000 output.wav
		cmd := exec.CommandContext(ctx, n.ffmpegPath,
			"-y", "-i", inputPath,
			"-vn",
			"-acodec", "pcm_s16le",
			"-ac", strconv.Itoa(n.channels),
			"-ar", strconv.Itoa(n.sampleRate),
			"-f", "wav",
			outPath,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			os.Remove(outPath)
			return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrUnsupportedFormat, err, tail(out, 400))
		}
	}

	f, err := os.Open(outPath)
	if err != nil {
		return nil, fmt.Errorf("open normalized audio: %w", err)
	}
	defer f.Close()

	info, err := ReadWavInfo(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyOrCorrupt, err)
	}
	durationMs := info.DurationMs()
	if durationMs <= 0 {
		return nil, fmt.Errorf("%w: normalized stream has zero duration", ErrEmptyOrCorrupt)
	}

	n.log.Info().
		Str("input", inputPath).
		Int64("duration_ms", durationMs).
		Int("sample_rate", info.SampleRate).
		Int("channels", info.Channels).
		Msg("media normalized")

	return &AudioHandle{
		Path:       outPath,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		DurationMs: durationMs,
	}, nil
}

// probeResult is the subset of ffprobe -print_format json output we read.
type probeResult struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// analyze validates the probe output: the file must contain a decodable
// audio stream of nonzero duration.
func (p *probeResult) analyze() error {
	hasAudio := false
	for _, s := range p.Streams {
		if s.CodecType == "audio" {
			hasAudio = true
			break
		}
	}
	if !hasAudio {
		return fmt.Errorf("%w: no audio track", ErrUnsupportedFormat)
	}

	dur, err := strconv.ParseFloat(p.Format.Duration, 64)
	if err != nil || dur <= 0 {
		return fmt.Errorf("%w: decoded duration %q", ErrEmptyOrCorrupt, p.Format.Duration)
	}
	return nil
}

// canonical reports whether the input already matches the target format and
// can be copied instead of re-encoded.
func (p *probeResult) canonical(sampleRate, channels int) bool {
	if !strings.Contains(p.Format.FormatName, "wav") {
		return false
	}
	for _, s := range p.Streams {
		if s.CodecType != "audio" {
			continue
		}
		return s.CodecName == "pcm_s16le" &&
			s.SampleRate == strconv.Itoa(sampleRate) &&
			s.Channels == channels
	}
	return false
}

func (n *Normalizer) probe(ctx context.Context, inputPath string) (*probeResult, error) {
	cmd := exec.CommandContext(ctx, n.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v", ErrUnsupportedFormat, err)
	}

	var probe probeResult
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("%w: ffprobe output: %v", ErrUnsupportedFormat, err)
	}
	if err := probe.analyze(); err != nil {
		return nil, err
	}
	return &probe, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
