package model

import "errors"

// Sentinel validation kinds.
var (
	ErrInvalidTitle    = errors.New("invalid title")
	ErrInvalidNote     = errors.New("invalid note")
	ErrInvalidLocation = errors.New("invalid location")
	ErrInvalidVerdict  = errors.New("invalid verdict")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
	ErrInvalidSpotID   = errors.New("invalid spot id")
	ErrInvalidVoterID  = errors.New("invalid voter id")
	ErrEmptyVote       = errors.New("vote carries no field")
	ErrConflictingVote = errors.New("vote sets and clears the verdict")
)
