// Package repository defines the spot and vote store interface and its
// in-memory and Postgres implementations.
package repository

import (
	"context"

	"github.com/okian/mapthewalls/internal/domain/model"
)

// PhotoDeletion is a stored photo whose removal from the bucket failed and
// is waiting for a retry.
type PhotoDeletion struct {
	Path     string
	Attempts int
}

// Store provides read/write access to spots and their vote rows.
type Store interface {
	// CreateSpot inserts s. Returns ErrConflict if the id is taken.
	CreateSpot(ctx context.Context, s model.Spot) error
	// GetSpot returns ErrNotFound for unknown ids.
	GetSpot(ctx context.Context, id string) (model.Spot, error)
	// ListSpots returns up to limit spots, newest first.
	ListSpots(ctx context.Context, limit int) ([]model.Spot, error)
	// CountSpots returns the number of stored spots.
	CountSpots(ctx context.Context) (int, error)
	// UpdateSpot applies p and returns the updated spot.
	UpdateSpot(ctx context.Context, id string, p model.SpotPatch) (model.Spot, error)
	// DeleteSpot removes the spot and its votes, returning what was deleted.
	DeleteSpot(ctx context.Context, id string) (model.Spot, error)

	// UpsertVote writes only the fields present in in, keyed by
	// (in.SpotID, voterID). Returns ErrNotFound if the spot is unknown.
	UpsertVote(ctx context.Context, voterID string, in model.VoteInput) (model.VoteRow, error)
	// ListVotes returns every row of one spot.
	ListVotes(ctx context.Context, spotID string) ([]model.VoteRow, error)
	// GetVote returns ErrNotFound when the voter has no row for the spot.
	GetVote(ctx context.Context, spotID, voterID string) (model.VoteRow, error)

	// QueuePhotoDeletion records a bucket path to delete later.
	QueuePhotoDeletion(ctx context.Context, path string) error
	// PendingPhotoDeletions returns up to limit queued paths, oldest first.
	PendingPhotoDeletions(ctx context.Context, limit int) ([]PhotoDeletion, error)
	// ClearPhotoDeletion drops a path from the queue.
	ClearPhotoDeletion(ctx context.Context, path string) error
	// BumpPhotoDeletion counts a failed retry.
	BumpPhotoDeletion(ctx context.Context, path string) error

	Ping(ctx context.Context) error
	Close() error
}
