package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/mapthewalls/internal/domain/aggregate"
	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/pkg/logger"
)

// VoteDependencies is the remote vote store surface.
type VoteDependencies interface {
	UpsertVote(ctx context.Context, voterID string, in model.VoteInput) (model.VoteRow, error)
	LoadVoteSummary(ctx context.Context, spotID string) model.VoteSummary
	LoadMyVote(ctx context.Context, spotID, voterID string) (model.MyVote, error)
}

// voteRequest is the PUT body. Ratings arrive as numbers and are rounded
// server side; verdicts accept the UI labels.
type voteRequest struct {
	Rating       *float64 `json:"rating,omitempty"`
	Verdict      *string  `json:"verdict,omitempty"`
	ClearVerdict bool     `json:"clear_verdict,omitempty"`
}

func (req voteRequest) input(spotID string) (model.VoteInput, error) {
	in := model.VoteInput{SpotID: spotID, ClearVerdict: req.ClearVerdict}
	if req.Rating != nil {
		n, err := aggregate.NormalizeRating(*req.Rating)
		if err != nil {
			return in, err
		}
		in.Rating = &n
	}
	if req.Verdict != nil {
		v, err := model.ParseVerdict(*req.Verdict)
		if err != nil {
			return in, err
		}
		in.Verdict = &v
	}
	return in, in.Validate()
}

// VotesHandler serves /spots/{id}/votes.
type VotesHandler struct {
	deps VoteDependencies
	log  logger.Logger
}

// NewVotesHandler creates a votes handler.
func NewVotesHandler(deps VoteDependencies, log logger.Logger) *VotesHandler {
	return &VotesHandler{deps: deps, log: log}
}

func voterID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(VoterHeader))
	if id == "" {
		return "", ErrMissingVoter
	}
	if err := model.ValidateVoterID(id); err != nil {
		return "", err
	}
	return id, nil
}

// HandlePut upserts the caller's vote row.
func (h *VotesHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_vote"
	voter, err := voterID(r)
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(r.Context(), w, h.log, WrapKind(op, ErrBadRequest, err))
		return
	}
	in, err := req.input(r.PathValue("id"))
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	row, err := h.deps.UpsertVote(r.Context(), voter, in)
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// HandleSummary returns the spot's vote summary. It never fails: a broken
// read yields the empty summary.
func (h *VotesHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.LoadVoteSummary(r.Context(), r.PathValue("id")))
}

// HandleMine returns the caller's own row or nulls.
func (h *VotesHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	const op = "api.my_vote"
	voter, err := voterID(r)
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	mine, err := h.deps.LoadMyVote(r.Context(), r.PathValue("id"), voter)
	if err != nil {
		fail(r.Context(), w, h.log, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, mine)
}
