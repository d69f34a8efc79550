package objectstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
)

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// MemBucket keeps objects in memory. FailDeletes makes Delete fail, which
// tests use to drive the janitor path.
type MemBucket struct {
	mu          sync.RWMutex
	objects     map[string]Object
	baseURL     string
	failDeletes error
}

var _ Bucket = (*MemBucket)(nil)

// NewMemBucket creates an empty bucket whose public URLs start with baseURL.
func NewMemBucket(baseURL string) *MemBucket {
	return &MemBucket{objects: make(map[string]Object), baseURL: strings.TrimRight(baseURL, "/")}
}

func (b *MemBucket) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[key] = Object{Data: buf.Bytes(), ContentType: contentType}
	b.mu.Unlock()
	return nil
}

func (b *MemBucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failDeletes != nil {
		return b.failDeletes
	}
	if _, ok := b.objects[key]; !ok {
		return ErrNotFound
	}
	delete(b.objects, key)
	return nil
}

func (b *MemBucket) PublicURL(key string) string {
	return b.baseURL + "/" + key
}

// Get returns a stored object.
func (b *MemBucket) Get(key string) (Object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.objects[key]
	return o, ok
}

// Len returns the number of stored objects.
func (b *MemBucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// FailDeletes makes every Delete return err until called with nil.
func (b *MemBucket) FailDeletes(err error) {
	b.mu.Lock()
	b.failDeletes = err
	b.mu.Unlock()
}
