// Package site serves objects held by the in-memory photo bucket, so local
// runs get working photo URLs without a real bucket.
package site

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/mapthewalls/internal/adapters/objectstore"
)

// Error constants.
var (
	ErrNilSource = errors.New("site: nil object source")
)

// ObjectSource reads stored objects by key.
type ObjectSource interface {
	Get(key string) (objectstore.Object, bool)
}

// Register attaches GET /photos/{key} to mux.
func Register(_ context.Context, mux *http.ServeMux, src ObjectSource) error {
	if mux == nil {
		panic("mux is nil")
	}
	if src == nil {
		return ErrNilSource
	}
	mux.Handle("GET /photos/{key}", NewPhotoHandler(src))
	return nil
}

// PhotoHandler streams one object.
type PhotoHandler struct {
	src ObjectSource
}

// NewPhotoHandler creates a photo handler.
func NewPhotoHandler(src ObjectSource) *PhotoHandler {
	return &PhotoHandler{src: src}
}

func (h *PhotoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	obj, ok := h.src.Get(r.PathValue("key"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	// keys are unique per upload
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(obj.Data)
}
