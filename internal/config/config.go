package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Providers and storage backends accepted by Validate.
const (
	ProviderGoogle     = "google"
	ProviderAssemblyAI = "assemblyai"

	BackendGCS = "gcs"
	BackendS3  = "s3"
)

type Config struct {
	// Recognition
	Provider           string        `env:"PROVIDER" envDefault:"google"`
	Language           string        `env:"LANGUAGE" envDefault:"ja-JP"`
	RecognitionModel   string        `env:"RECOGNITION_MODEL" envDefault:"latest_long"`
	RecognitionTimeout time.Duration `env:"RECOGNITION_TIMEOUT" envDefault:"3600s"`

	// Chunking
	ChunkDurationMs int `env:"CHUNK_DURATION_MS" envDefault:"300000"`
	MaxConcurrency  int `env:"MAX_CONCURRENCY" envDefault:"5"`

	// Canonical audio format fed to the recognizer
	SampleRate int `env:"SAMPLE_RATE" envDefault:"16000"`
	Channels   int `env:"CHANNELS" envDefault:"1"`

	// Staging storage
	StorageBackend        string `env:"STORAGE_BACKEND" envDefault:"gcs"`
	GCSBucket             string `env:"GCS_BUCKET"`
	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE"`
	S3                    S3Config

	// AssemblyAI provider
	AssemblyAIKey     string `env:"ASSEMBLYAI_API_KEY"`
	AssemblyAIBaseURL string `env:"ASSEMBLYAI_BASE_URL" envDefault:"https://api.assemblyai.com"`

	// External media tools
	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	TempDir     string `env:"TEMP_DIR"`

	// Web service
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"AUTH_TOKEN"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"500"`

	// Watch mode
	WatchDir string `env:"WATCH_DIR"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config configures the S3-compatible staging backend.
type S3Config struct {
	Bucket        string        `env:"S3_BUCKET"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint      string        `env:"S3_ENDPOINT"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	Prefix        string        `env:"S3_PREFIX"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"2h"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile         string
	HTTPAddr        string
	LogLevel        string
	ChunkDurationMs int
	MaxConcurrency  int
	WatchDir        string
	Provider        string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-zero values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.ChunkDurationMs > 0 {
		cfg.ChunkDurationMs = overrides.ChunkDurationMs
	}
	if overrides.MaxConcurrency > 0 {
		cfg.MaxConcurrency = overrides.MaxConcurrency
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}
	if overrides.Provider != "" {
		cfg.Provider = overrides.Provider
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and the provider/backend pairing. The Google
// recognizer reads chunks by gs:// URI, so it must stage through GCS; the
// AssemblyAI recognizer fetches audio over HTTPS, so it must stage through S3.
func (c *Config) Validate() error {
	if c.ChunkDurationMs <= 0 {
		return fmt.Errorf("CHUNK_DURATION_MS must be positive, got %d", c.ChunkDurationMs)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("MAX_CONCURRENCY must be positive, got %d", c.MaxConcurrency)
	}
	if c.RecognitionTimeout <= 0 {
		return fmt.Errorf("RECOGNITION_TIMEOUT must be positive, got %s", c.RecognitionTimeout)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("CHANNELS must be 1 (recognizers require mono), got %d", c.Channels)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}

	switch c.StorageBackend {
	case BackendGCS, BackendS3:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.Provider {
	case ProviderGoogle:
		if c.StorageBackend != BackendGCS {
			return fmt.Errorf("provider google requires STORAGE_BACKEND=gcs, got %q", c.StorageBackend)
		}
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required for provider google")
		}
	case ProviderAssemblyAI:
		if c.StorageBackend != BackendS3 {
			return fmt.Errorf("provider assemblyai requires STORAGE_BACKEND=s3, got %q", c.StorageBackend)
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for provider assemblyai")
		}
		if c.AssemblyAIKey == "" {
			return fmt.Errorf("ASSEMBLYAI_API_KEY is required for provider assemblyai")
		}
		if c.S3.PresignExpiry < c.RecognitionTimeout {
			return fmt.Errorf("S3_PRESIGN_EXPIRY (%s) must cover RECOGNITION_TIMEOUT (%s)",
				c.S3.PresignExpiry, c.RecognitionTimeout)
		}
	default:
		return fmt.Errorf("unknown PROVIDER %q", c.Provider)
	}

	return nil
}
