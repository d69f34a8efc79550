// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/mapthewalls/internal/adapters/imaging"
	"github.com/okian/mapthewalls/internal/adapters/repository"
	service "github.com/okian/mapthewalls/internal/app"
	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/pkg/logger"
)

const (
	// VoterHeader carries the device voter id.
	VoterHeader = "X-Voter-ID"

	maxJSONBody = 64 << 10
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SpotDependencies
	AdminDependencies
	VoteDependencies
	PhotoDependencies
	StatsProvider
	ReadinessChecker
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	spotsHandler  *SpotsHandler
	votesHandler  *VotesHandler
	photosHandler *PhotosHandler
	admin         AdminDependencies
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{maxUpload: imaging.DefaultMaxUpload, log: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler: NewHealthHandler(deps),
		statsHandler:  NewStatsHandler(deps),
		spotsHandler:  NewSpotsHandler(deps, cfg.log),
		votesHandler:  NewVotesHandler(deps, cfg.log),
		photosHandler: NewPhotosHandler(deps, cfg.maxUpload, cfg.log),
		admin:         deps,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, routeHealth))
	mux.HandleFunc("GET /readyz", MetricsMiddleware(s.healthHandler.HandleReady, routeReady))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, routeStats))

	mux.HandleFunc("GET /spots", MetricsMiddleware(s.spotsHandler.HandleList, routeSpotsList))
	mux.HandleFunc("POST /spots", MetricsMiddleware(s.spotsHandler.HandleCreate, routeSpotCreate))
	mux.HandleFunc("GET /spots/{id}", MetricsMiddleware(s.spotsHandler.HandleGet, routeSpotGet))
	mux.HandleFunc("PATCH /spots/{id}", MetricsMiddleware(RequireAdmin(s.admin, s.spotsHandler.HandleUpdate), routeSpotUpdate))
	mux.HandleFunc("DELETE /spots/{id}", MetricsMiddleware(RequireAdmin(s.admin, s.spotsHandler.HandleDelete), routeSpotDelete))

	mux.HandleFunc("PUT /spots/{id}/votes", MetricsMiddleware(s.votesHandler.HandlePut, routeVotePut))
	mux.HandleFunc("GET /spots/{id}/votes/summary", MetricsMiddleware(s.votesHandler.HandleSummary, routeVoteSummary))
	mux.HandleFunc("GET /spots/{id}/votes/me", MetricsMiddleware(s.votesHandler.HandleMine, routeVoteMine))

	mux.HandleFunc("POST /photos", MetricsMiddleware(s.photosHandler.HandleUpload, routePhotoUpload))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	noteError(w, code)
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrBodyTooLarge
		}
		return err
	}
	return nil
}

// statusFor maps error kinds to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrAdminDisabled):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrBodyTooLarge), errors.Is(err, imaging.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, imaging.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "unsupported_media_type"
	case errors.Is(err, imaging.ErrCorrupt), errors.Is(err, imaging.ErrEmpty):
		return http.StatusBadRequest, "bad_image"
	case errors.Is(err, ErrMissingVoter), errors.Is(err, model.ErrInvalidVoterID):
		return http.StatusBadRequest, "invalid_voter"
	case errors.Is(err, model.ErrInvalidRating):
		return http.StatusBadRequest, "invalid_rating"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrInvalidTitle),
		errors.Is(err, model.ErrInvalidNote),
		errors.Is(err, model.ErrInvalidLocation),
		errors.Is(err, model.ErrInvalidVerdict),
		errors.Is(err, model.ErrInvalidSpotID),
		errors.Is(err, model.ErrEmptyVote),
		errors.Is(err, model.ErrConflictingVote):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "internal_error"
}

// fail writes err with its mapped status and logs server errors.
func fail(ctx context.Context, w http.ResponseWriter, log logger.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", logger.Error(err))
	}
	writeError(w, status, code, err)
}
