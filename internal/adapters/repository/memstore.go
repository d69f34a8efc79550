package repository

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/mapthewalls/internal/domain/model"
)

type voteKey struct {
	spotID  string
	voterID string
}

// MemStore is a mutex-guarded in-memory Store.
type MemStore struct {
	mu        sync.RWMutex
	spots     map[string]model.Spot
	votes     map[voteKey]model.VoteRow
	bySpot    map[string]map[string]struct{} // spotID -> voterIDs
	deletions []PhotoDeletion
	closed    bool
	now       func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		spots:  make(map[string]model.Spot),
		votes:  make(map[voteKey]model.VoteRow),
		bySpot: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemStore) CreateSpot(_ context.Context, sp model.Spot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.spots[sp.ID]; ok {
		return ErrConflict
	}
	s.spots[sp.ID] = sp
	return nil
}

func (s *MemStore) GetSpot(_ context.Context, id string) (model.Spot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spots[id]
	if !ok {
		return model.Spot{}, ErrNotFound
	}
	return sp, nil
}

func (s *MemStore) ListSpots(_ context.Context, limit int) ([]model.Spot, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	out := make([]model.Spot, 0, len(s.spots))
	for _, sp := range s.spots {
		out = append(out, sp)
	}
	s.mu.RUnlock()

	// newest first, id breaks ties
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) CountSpots(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spots), nil
}

func (s *MemStore) UpdateSpot(_ context.Context, id string, p model.SpotPatch) (model.Spot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spots[id]
	if !ok {
		return model.Spot{}, ErrNotFound
	}
	sp = p.Apply(sp)
	s.spots[id] = sp
	return sp, nil
}

func (s *MemStore) DeleteSpot(_ context.Context, id string) (model.Spot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spots[id]
	if !ok {
		return model.Spot{}, ErrNotFound
	}
	delete(s.spots, id)
	for voter := range s.bySpot[id] {
		delete(s.votes, voteKey{spotID: id, voterID: voter})
	}
	delete(s.bySpot, id)
	return sp, nil
}

func (s *MemStore) UpsertVote(_ context.Context, voterID string, in model.VoteInput) (model.VoteRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spots[in.SpotID]; !ok {
		return model.VoteRow{}, ErrNotFound
	}
	k := voteKey{spotID: in.SpotID, voterID: voterID}
	row, ok := s.votes[k]
	if !ok {
		row = model.VoteRow{SpotID: in.SpotID, VoterID: voterID}
	}
	row = row.Merge(in)
	row.UpdatedAt = s.now().UTC()
	s.votes[k] = row

	voters, ok := s.bySpot[in.SpotID]
	if !ok {
		voters = make(map[string]struct{})
		s.bySpot[in.SpotID] = voters
	}
	voters[voterID] = struct{}{}
	return row, nil
}

func (s *MemStore) ListVotes(_ context.Context, spotID string) ([]model.VoteRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.VoteRow, 0, len(s.bySpot[spotID]))
	for voter := range s.bySpot[spotID] {
		out = append(out, s.votes[voteKey{spotID: spotID, voterID: voter}])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out, nil
}

func (s *MemStore) GetVote(_ context.Context, spotID, voterID string) (model.VoteRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.votes[voteKey{spotID: spotID, voterID: voterID}]
	if !ok {
		return model.VoteRow{}, ErrNotFound
	}
	return row, nil
}

func (s *MemStore) QueuePhotoDeletion(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deletions {
		if d.Path == path {
			return nil
		}
	}
	s.deletions = append(s.deletions, PhotoDeletion{Path: path})
	return nil
}

func (s *MemStore) PendingPhotoDeletions(_ context.Context, limit int) ([]PhotoDeletion, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	all := slices.Clone(s.deletions)
	s.mu.RUnlock()

	// fewest attempts first so a path that keeps failing cannot starve the rest
	slices.SortStableFunc(all, func(a, b PhotoDeletion) int { return cmp.Compare(a.Attempts, b.Attempts) })
	return all[:min(limit, len(all))], nil
}

func (s *MemStore) ClearPhotoDeletion(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.deletions {
		if d.Path == path {
			s.deletions = append(s.deletions[:i], s.deletions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemStore) BumpPhotoDeletion(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.deletions {
		if s.deletions[i].Path == path {
			s.deletions[i].Attempts++
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
