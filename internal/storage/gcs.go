package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GCSStore stages chunks in a Google Cloud Storage bucket. Staged objects are
// referenced by gs:// URI, which is what the Speech API reads from.
type GCSStore struct {
	client *gcs.Client
	bucket string
	log    zerolog.Logger
}

// NewGCSStore creates a GCS chunk store. credentialsFile may be empty, in
// which case application default credentials are used.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string, log zerolog.Logger) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		log:    log.With().Str("component", "gcs-store").Logger(),
	}, nil
}

// CheckBucket verifies the bucket exists and credentials can read it.
func (s *GCSStore) CheckBucket(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}

func (s *GCSStore) Stage(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "audio/wav"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

func (s *GCSStore) Remove(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *GCSStore) Type() string { return "gcs" }

// Close releases the underlying client.
func (s *GCSStore) Close() error { return s.client.Close() }
