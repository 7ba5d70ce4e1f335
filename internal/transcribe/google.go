package transcribe

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GoogleRecognizer transcribes staged chunks with the Google Cloud
// Speech-to-Text long-running API. Chunks are read by gs:// URI, so audio is
// never streamed through this process.
type GoogleRecognizer struct {
	client *speech.Client
	cfg    RecognitionConfig
	log    zerolog.Logger
}

// NewGoogleRecognizer creates a Google Speech client. credentialsFile may be
// empty, in which case application default credentials are used.
func NewGoogleRecognizer(ctx context.Context, cfg RecognitionConfig, credentialsFile string, log zerolog.Logger) (*GoogleRecognizer, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &GoogleRecognizer{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "google-stt").Logger(),
	}, nil
}

func (g *GoogleRecognizer) Name() string { return "google" }

// Recognize runs a long-running recognition on a staged gs:// URI and joins
// the result segments into one string.
func (g *GoogleRecognizer) Recognize(ctx context.Context, audioRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(g.cfg.SampleRate),
			LanguageCode:               g.cfg.Language,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
			Model:                      g.cfg.Model,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audioRef},
		},
	}

	op, err := g.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("start recognition: %w", err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("recognition: %w", err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := alts[0].GetTranscript(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

// Close releases the underlying client.
func (g *GoogleRecognizer) Close() error { return g.client.Close() }
