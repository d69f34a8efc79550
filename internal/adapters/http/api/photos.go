package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/okian/mapthewalls/internal/adapters/imaging"
	"github.com/okian/mapthewalls/internal/domain/types"
	"github.com/okian/mapthewalls/pkg/logger"
)

// PhotoDependencies stores compressed photos.
type PhotoDependencies interface {
	UploadPhoto(ctx context.Context, data []byte) (types.PhotoUpload, error)
}

// PhotosHandler serves POST /photos. The body is the raw image.
type PhotosHandler struct {
	deps      PhotoDependencies
	maxUpload int
	log       logger.Logger
}

// NewPhotosHandler creates a photos handler.
func NewPhotosHandler(deps PhotoDependencies, maxUpload int, log logger.Logger) *PhotosHandler {
	return &PhotosHandler{deps: deps, maxUpload: maxUpload, log: log}
}

// HandleUpload compresses and stores the posted image.
func (h *PhotosHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "api.upload_photo"
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(h.maxUpload)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(r.Context(), w, h.log, WrapKind(op, imaging.ErrTooLarge, err))
			return
		}
		fail(r.Context(), w, h.log, WrapKind(op, ErrBadRequest, err))
		return
	}
	up, err := h.deps.UploadPhoto(r.Context(), data)
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	h.log.Debug(r.Context(), "photo stored",
		logger.String("path", up.Path),
		logger.String("name", r.URL.Query().Get("name")),
		logger.String("size", up.Size),
	)
	writeJSON(w, http.StatusCreated, up)
}
