// Package spotcache keeps the device's ordered copy of spots, newest first,
// with the local aggregate counters used by the local-first policy.
package spotcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/mapthewalls/internal/device/localstore"
	"github.com/okian/mapthewalls/internal/domain/model"
)

// Key is where the cache envelope lives.
const Key = "spots"

// Version is the envelope version written by Save.
const Version = 2

// Sentinel kinds.
var (
	ErrNotFound = errors.New("spot not cached")
	ErrCorrupt  = errors.New("spot cache unreadable")
)

type envelope struct {
	Version int                `json:"version"`
	Spots   []model.CachedSpot `json:"spots"`
}

// legacySpot is the version 1 record: a bare array in append order with
// camelCase keys and the note stored as description.
type legacySpot struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	PhotoURL    string  `json:"photoUrl"`
	PhotoPath   string  `json:"photoPath"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	CreatedAt   string  `json:"createdAt"`
	model.Aggregate
}

func (l legacySpot) migrate() model.CachedSpot {
	created, err := time.Parse(time.RFC3339Nano, l.CreatedAt)
	if err != nil {
		created = time.Time{}
	}
	return model.CachedSpot{
		Spot: model.Spot{
			ID:        l.ID,
			Title:     l.Title,
			Note:      l.Description,
			PhotoURL:  l.PhotoURL,
			PhotoPath: l.PhotoPath,
			Lat:       l.Lat,
			Lng:       l.Lng,
			CreatedAt: created.UTC(),
		},
		Aggregate: l.Aggregate,
	}
}

func loadLegacy(raw []byte) ([]model.CachedSpot, error) {
	var legacy []legacySpot
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	spots := make([]model.CachedSpot, len(legacy))
	for i, l := range legacy {
		spots[i] = l.migrate()
	}
	sort.SliceStable(spots, func(i, j int) bool {
		return spots[i].CreatedAt.After(spots[j].CreatedAt)
	})
	return clamp(spots), nil
}

// Load returns the cached spots. A missing cache is empty. A version 1 cache,
// stored as a bare array, is migrated with absent counters defaulted to zero.
func Load(ctx context.Context, kv localstore.KV) ([]model.CachedSpot, error) {
	raw, ok, err := kv.Get(ctx, Key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.CachedSpot{}, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return loadLegacy(raw)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version > Version {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, env.Version)
	}
	if env.Spots == nil {
		env.Spots = []model.CachedSpot{}
	}
	return clamp(env.Spots), nil
}

// clamp repairs counters an older client may have driven negative.
func clamp(spots []model.CachedSpot) []model.CachedSpot {
	for i := range spots {
		a := &spots[i].Aggregate
		if a.RatingCount < 0 || a.RatingSum < 0 {
			a.RatingCount, a.RatingSum = 0, 0
		}
		a.BuffCount = max(a.BuffCount, 0)
		a.FrameCount = max(a.FrameCount, 0)
	}
	return spots
}

// Save replaces the cache. A quota failure leaves the previous cache intact.
func Save(ctx context.Context, kv localstore.KV, spots []model.CachedSpot) error {
	if spots == nil {
		spots = []model.CachedSpot{}
	}
	raw, err := json.Marshal(envelope{Version: Version, Spots: spots})
	if err != nil {
		return fmt.Errorf("encode spot cache: %w", err)
	}
	if err := kv.Put(ctx, Key, raw); err != nil {
		return fmt.Errorf("save spot cache: %w", err)
	}
	return nil
}

// Add puts spot at the front of the cache.
func Add(ctx context.Context, kv localstore.KV, spot model.CachedSpot) error {
	spots, err := Load(ctx, kv)
	if err != nil {
		return err
	}
	for _, s := range spots {
		if s.ID == spot.ID {
			return fmt.Errorf("spot %s already cached", spot.ID)
		}
	}
	return Save(ctx, kv, append([]model.CachedSpot{spot}, spots...))
}

// Get returns the cached spot with id.
func Get(ctx context.Context, kv localstore.KV, id string) (model.CachedSpot, error) {
	spots, err := Load(ctx, kv)
	if err != nil {
		return model.CachedSpot{}, err
	}
	for _, s := range spots {
		if s.ID == id {
			return s, nil
		}
	}
	return model.CachedSpot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Put replaces the cached spot with the same id.
func Put(ctx context.Context, kv localstore.KV, spot model.CachedSpot) error {
	spots, err := Load(ctx, kv)
	if err != nil {
		return err
	}
	for i := range spots {
		if spots[i].ID == spot.ID {
			spots[i] = spot
			return Save(ctx, kv, spots)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, spot.ID)
}

// Remove drops the spot with id. Unknown ids are ignored.
func Remove(ctx context.Context, kv localstore.KV, id string) error {
	spots, err := Load(ctx, kv)
	if err != nil {
		return err
	}
	out := spots[:0]
	for _, s := range spots {
		if s.ID != id {
			out = append(out, s)
		}
	}
	if len(out) == len(spots) {
		return nil
	}
	return Save(ctx, kv, out)
}

// Merge refreshes the cache from a remote listing. Spots keep their local
// counters; new spots start at zero; order follows remote.
func Merge(ctx context.Context, kv localstore.KV, remote []model.Spot) ([]model.CachedSpot, error) {
	local, err := Load(ctx, kv)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return nil, err
	}
	counters := make(map[string]model.Aggregate, len(local))
	for _, s := range local {
		counters[s.ID] = s.Aggregate
	}
	merged := make([]model.CachedSpot, 0, len(remote))
	for _, s := range remote {
		merged = append(merged, model.CachedSpot{Spot: s, Aggregate: counters[s.ID]})
	}
	if err := Save(ctx, kv, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
