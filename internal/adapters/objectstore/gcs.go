package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsPublicHost = "https://storage.googleapis.com"

// GCSBucket stores photos in Google Cloud Storage.
type GCSBucket struct {
	client *storage.Client
	bucket string
}

var _ Bucket = (*GCSBucket)(nil)

// GCSOption configures NewGCSBucket.
type GCSOption func(*gcsConfig)

type gcsConfig struct {
	clientOpts []option.ClientOption
}

// WithCredentialsJSON authenticates with a service account key.
func WithCredentialsJSON(creds []byte) GCSOption {
	return func(c *gcsConfig) {
		if len(creds) > 0 {
			c.clientOpts = append(c.clientOpts, option.WithCredentialsJSON(creds))
		}
	}
}

// WithEndpoint points the client at another endpoint, e.g. an emulator.
func WithEndpoint(endpoint string) GCSOption {
	return func(c *gcsConfig) {
		if endpoint != "" {
			c.clientOpts = append(c.clientOpts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
		}
	}
}

// NewGCSBucket opens bucket. Without credentials the client uses
// application default credentials.
func NewGCSBucket(ctx context.Context, bucket string, opts ...GCSOption) (*GCSBucket, error) {
	var cfg gcsConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	client, err := storage.NewClient(ctx, cfg.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSBucket{client: client, bucket: bucket}, nil
}

func (b *GCSBucket) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	return nil
}

func (b *GCSBucket) Delete(ctx context.Context, key string) error {
	err := b.client.Bucket(b.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func (b *GCSBucket) PublicURL(key string) string {
	return gcsPublicHost + "/" + url.PathEscape(b.bucket) + "/" + url.PathEscape(key)
}

// Close releases the client.
func (b *GCSBucket) Close() error {
	return b.client.Close()
}
