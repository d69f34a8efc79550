package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/internal/domain/types"
	"github.com/okian/mapthewalls/pkg/logger"
)

// SpotDependencies is the spot catalog surface.
type SpotDependencies interface {
	CreateSpot(ctx context.Context, in model.NewSpot) (model.Spot, error)
	GetSpot(ctx context.Context, id string) (types.SpotView, error)
	ListSpots(ctx context.Context, limit int) ([]model.Spot, error)
	UpdateSpot(ctx context.Context, id string, p model.SpotPatch) (model.Spot, error)
	DeleteSpot(ctx context.Context, id string) (model.Spot, error)
}

// SpotsHandler serves /spots.
type SpotsHandler struct {
	deps SpotDependencies
	log  logger.Logger
}

// NewSpotsHandler creates a spots handler.
func NewSpotsHandler(deps SpotDependencies, log logger.Logger) *SpotsHandler {
	return &SpotsHandler{deps: deps, log: log}
}

// HandleList returns spots newest first. limit is optional.
func (h *SpotsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_spots"
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		limit = n
	}
	spots, err := h.deps.ListSpots(r.Context(), limit)
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	if spots == nil {
		spots = []model.Spot{}
	}
	writeJSON(w, http.StatusOK, types.SpotList{Spots: spots, Count: len(spots)})
}

// HandleCreate adds a spot.
func (h *SpotsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_spot"
	var in model.NewSpot
	if err := decodeJSON(w, r, &in); err != nil {
		fail(r.Context(), w, h.log, WrapKind(op, ErrBadRequest, err))
		return
	}
	spot, err := h.deps.CreateSpot(r.Context(), in)
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, spot)
}

// HandleGet returns one spot with its vote summary.
func (h *SpotsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_spot"
	view, err := h.deps.GetSpot(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleUpdate applies an admin patch.
func (h *SpotsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_spot"
	var p model.SpotPatch
	if err := decodeJSON(w, r, &p); err != nil {
		fail(r.Context(), w, h.log, WrapKind(op, ErrBadRequest, err))
		return
	}
	spot, err := h.deps.UpdateSpot(r.Context(), r.PathValue("id"), p)
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, spot)
}

// HandleDelete removes a spot, its votes and its photo.
func (h *SpotsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_spot"
	if _, err := h.deps.DeleteSpot(r.Context(), r.PathValue("id")); err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
