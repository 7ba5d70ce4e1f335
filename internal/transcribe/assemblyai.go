package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const assemblyAIPollInterval = 3 * time.Second

// AssemblyAIRecognizer transcribes staged chunks with the AssemblyAI API.
// AssemblyAI fetches the audio itself from the submitted URL, so chunks are
// staged as presigned HTTPS URLs.
type AssemblyAIRecognizer struct {
	apiKey  string
	baseURL string
	cfg     RecognitionConfig
	client  *http.Client
	log     zerolog.Logger
}

// assemblyAIRequest is the JSON body for POST /v2/transcript.
type assemblyAIRequest struct {
	AudioURL     string `json:"audio_url"`
	LanguageCode string `json:"language_code,omitempty"`
	Punctuate    bool   `json:"punctuate"`
	FormatText   bool   `json:"format_text"`
}

// assemblyAITranscript is the JSON response for a transcript resource.
type assemblyAITranscript struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued, processing, completed, error
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// NewAssemblyAIRecognizer creates an AssemblyAI client.
func NewAssemblyAIRecognizer(cfg RecognitionConfig, apiKey, baseURL string, log zerolog.Logger) *AssemblyAIRecognizer {
	return &AssemblyAIRecognizer{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "assemblyai").Logger(),
	}
}

func (a *AssemblyAIRecognizer) Name() string { return "assemblyai" }

// Recognize submits the audio URL, then polls the transcript resource until
// it completes or the recognition timeout elapses.
func (a *AssemblyAIRecognizer) Recognize(ctx context.Context, audioRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	id, err := a.submit(ctx, audioRef)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(assemblyAIPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("recognition: %w", ctx.Err())
		case <-ticker.C:
		}

		tr, err := a.poll(ctx, id)
		if err != nil {
			return "", err
		}
		switch tr.Status {
		case "completed":
			return strings.TrimSpace(tr.Text), nil
		case "error":
			return "", fmt.Errorf("assemblyai transcript %s: %s", id, tr.Error)
		}
	}
}

func (a *AssemblyAIRecognizer) submit(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(assemblyAIRequest{
		AudioURL:     audioURL,
		LanguageCode: assemblyLanguageCode(a.cfg.Language),
		Punctuate:    true,
		FormatText:   true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	tr, err := a.do(ctx, http.MethodPost, "/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if tr.ID == "" {
		return "", fmt.Errorf("assemblyai returned no transcript id")
	}
	return tr.ID, nil
}

func (a *AssemblyAIRecognizer) poll(ctx context.Context, id string) (*assemblyAITranscript, error) {
	return a.do(ctx, http.MethodGet, "/v2/transcript/"+id, nil)
}

func (a *AssemblyAIRecognizer) do(ctx context.Context, method, path string, body io.Reader) (*assemblyAITranscript, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assemblyai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assemblyai API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var tr assemblyAITranscript
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &tr, nil
}

// assemblyLanguageCode maps a BCP-47 tag to AssemblyAI's language codes,
// which use the bare primary subtag for most languages ("ja", not "ja-JP").
func assemblyLanguageCode(lang string) string {
	if i := strings.IndexByte(lang, '-'); i > 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}
