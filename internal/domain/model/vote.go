package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verdict is a binary opinion on a spot.
type Verdict string

// Verdict values.
const (
	VerdictBuff  Verdict = "buff"
	VerdictFrame Verdict = "frame"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	return v == VerdictBuff || v == VerdictFrame
}

// Ptr returns a pointer to a copy of v.
func (v Verdict) Ptr() *Verdict { return &v }

// ParseVerdict accepts "buff"/"frame" and the UI labels "buff it"/"frame it".
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), " it"))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVerdict, s)
	}
	return v, nil
}

// LocalVote is one device's last known choice for one spot.
type LocalVote struct {
	Rated   *int     `json:"rated,omitempty"`
	Verdict *Verdict `json:"verdict,omitempty"`
}

// IsZero reports whether nothing was recorded.
func (v LocalVote) IsZero() bool { return v.Rated == nil && v.Verdict == nil }

// VoteInput is a partial vote write. Omitted fields keep their stored value.
type VoteInput struct {
	SpotID       string   `json:"-"`
	Rating       *int     `json:"rating,omitempty"`
	Verdict      *Verdict `json:"verdict,omitempty"`
	ClearVerdict bool     `json:"clear_verdict,omitempty"`
}

// Validate checks the shape of the write. Rating range is enforced by the
// aggregate package before the input is built.
func (in VoteInput) Validate() error {
	if strings.TrimSpace(in.SpotID) == "" {
		return ErrInvalidSpotID
	}
	if in.Rating == nil && in.Verdict == nil && !in.ClearVerdict {
		return ErrEmptyVote
	}
	if in.Verdict != nil && in.ClearVerdict {
		return ErrConflictingVote
	}
	if in.Verdict != nil && !in.Verdict.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVerdict, *in.Verdict)
	}
	if in.Rating != nil && (*in.Rating < 1 || *in.Rating > 5) {
		return fmt.Errorf("rating %d: %w", *in.Rating, ErrInvalidRating)
	}
	return nil
}

// Fields lists the fields this input writes, for metrics.
func (in VoteInput) Fields() []string {
	var out []string
	if in.Rating != nil {
		out = append(out, "rating")
	}
	if in.Verdict != nil {
		out = append(out, "verdict")
	}
	if in.ClearVerdict {
		out = append(out, "clear_verdict")
	}
	return out
}

// VoteRow is the authoritative record of one voter's vote on one spot.
type VoteRow struct {
	SpotID    string    `json:"spot_id"`
	VoterID   string    `json:"voter_id"`
	Rating    *int      `json:"rating"`
	Verdict   *Verdict  `json:"verdict"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Merge applies in to r the way the store upsert does.
func (r VoteRow) Merge(in VoteInput) VoteRow {
	if in.Rating != nil {
		v := *in.Rating
		r.Rating = &v
	}
	switch {
	case in.Verdict != nil:
		v := *in.Verdict
		r.Verdict = &v
	case in.ClearVerdict:
		r.Verdict = nil
	}
	return r
}

// MyVote is the caller's own row, with nulls when absent.
type MyVote struct {
	Rating  *int     `json:"rating"`
	Verdict *Verdict `json:"verdict"`
}

// VoteSummary is the aggregate derived from all rows of one spot.
type VoteSummary struct {
	Avg   *float64 `json:"avg"`
	Count int      `json:"count"`
	Buff  int      `json:"buff"`
	Frame int      `json:"frame"`
}

// ValidateVoterID accepts any UUID. Voter ids are unauthenticated.
func ValidateVoterID(id string) error {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVoterID, err)
	}
	return nil
}
