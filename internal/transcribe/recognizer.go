// Package transcribe turns staged audio chunks into text and assembles the
// per-chunk results into a single transcript.
package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/kikitori/internal/config"
)

// Recognizer is the interface for speech-to-text backends. audioRef is a
// storage reference produced by the staging backend: a gs:// URI for Google,
// an HTTPS URL for AssemblyAI.
type Recognizer interface {
	Recognize(ctx context.Context, audioRef string) (string, error)
	Name() string // "google", "assemblyai"
}

// RecognitionConfig carries the parameters shared by all recognizers.
type RecognitionConfig struct {
	Language   string // BCP-47 code, e.g. "ja-JP"
	Model      string
	SampleRate int
	Timeout    time.Duration // per-chunk bound on the recognition call
}

// NewRecognizer creates the recognizer for the configured provider.
func NewRecognizer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Recognizer, error) {
	rc := RecognitionConfig{
		Language:   cfg.Language,
		Model:      cfg.RecognitionModel,
		SampleRate: cfg.SampleRate,
		Timeout:    cfg.RecognitionTimeout,
	}

	switch cfg.Provider {
	case config.ProviderGoogle:
		return NewGoogleRecognizer(ctx, rc, cfg.GoogleCredentialsFile, log)
	case config.ProviderAssemblyAI:
		return NewAssemblyAIRecognizer(rc, cfg.AssemblyAIKey, cfg.AssemblyAIBaseURL, log), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
