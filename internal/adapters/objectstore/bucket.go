// Package objectstore stores uploaded photos in a bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel kinds for bucket errors.
var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// Bucket is the photo store.
type Bucket interface {
	// Put writes r under key.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// Delete removes key. Missing keys return ErrNotFound.
	Delete(ctx context.Context, key string) error
	// PublicURL returns the public read URL of key.
	PublicURL(key string) string
}

// NewKey generates a photo key: <unix-millis>-<uuid>.<ext>.
func NewKey(now time.Time, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%d-%s.%s", now.UnixMilli(), uuid.NewString(), ext)
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
