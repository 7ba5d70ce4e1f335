// Package storage stages audio chunks in an object store for the duration of
// a recognition call and cleans them up afterwards.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/kikitori/internal/config"
)

// BlobStore abstracts the chunk staging backend.
type BlobStore interface {
	// Stage uploads the file at localPath under key and returns a reference
	// the recognition provider can read the audio from (a gs:// URI for GCS,
	// a presigned HTTPS URL for S3).
	Stage(ctx context.Context, localPath, key string) (string, error)

	// Remove deletes a staged object. Missing objects are not an error.
	Remove(ctx context.Context, key string) error

	// Type returns "gcs", "s3", or "local".
	Type() string
}

// New creates a BlobStore for the configured backend. Remote backends are
// probed at startup so bad credentials fail fast instead of on the first job.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (BlobStore, error) {
	switch cfg.StorageBackend {
	case config.BackendGCS:
		store, err := NewGCSStore(ctx, cfg.GCSBucket, cfg.GoogleCredentialsFile, log)
		if err != nil {
			return nil, fmt.Errorf("gcs init: %w", err)
		}
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.CheckBucket(probeCtx); err != nil {
			return nil, fmt.Errorf("gcs startup check (bucket=%q): %w", cfg.GCSBucket, err)
		}
		log.Info().Str("bucket", cfg.GCSBucket).Msg("GCS connection verified")
		return store, nil

	case config.BackendS3:
		store, err := NewS3Store(cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("s3 init: %w", err)
		}
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.HeadBucket(probeCtx); err != nil {
			return nil, fmt.Errorf("s3 startup check (bucket=%q endpoint=%q): %w",
				cfg.S3.Bucket, cfg.S3.Endpoint, err)
		}
		log.Info().Str("bucket", cfg.S3.Bucket).Str("endpoint", cfg.S3.Endpoint).Msg("S3 connection verified")
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
