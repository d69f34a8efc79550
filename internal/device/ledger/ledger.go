// Package ledger is the device's record of the last rating and verdict it
// cast per spot. It pre-fills UI state and, under the local-first policy,
// keeps re-votes from being counted twice.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/okian/mapthewalls/internal/device/localstore"
	"github.com/okian/mapthewalls/internal/domain/aggregate"
	"github.com/okian/mapthewalls/internal/domain/model"
)

// Key is the namespace key holding the whole ledger.
const Key = "votes:v1"

// Entries maps spot id to the device's vote.
type Entries map[string]model.LocalVote

// Load returns every entry. Missing or corrupt state yields an empty ledger.
func Load(ctx context.Context, kv localstore.KV) Entries {
	raw, ok, err := kv.Get(ctx, Key)
	if err != nil || !ok {
		return Entries{}
	}
	var e Entries
	if err := json.Unmarshal(raw, &e); err != nil || e == nil {
		return Entries{}
	}
	return e
}

// Get returns the device's last choice for spotID, or the zero vote.
func Get(ctx context.Context, kv localstore.KV, spotID string) model.LocalVote {
	return Load(ctx, kv)[spotID]
}

// RecordRating stores stars as the device's rating for spotID. Out of range
// input is rejected with no effect.
func RecordRating(ctx context.Context, kv localstore.KV, spotID string, stars int) error {
	n, err := aggregate.NormalizeRating(float64(stars))
	if err != nil {
		return err
	}
	return update(ctx, kv, spotID, func(v *model.LocalVote) { v.Rated = &n })
}

// RecordVerdict stores the verdict for spotID. Nil clears it.
func RecordVerdict(ctx context.Context, kv localstore.KV, spotID string, verdict *model.Verdict) error {
	if verdict != nil && !verdict.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidVerdict, *verdict)
	}
	return update(ctx, kv, spotID, func(v *model.LocalVote) {
		if verdict == nil {
			v.Verdict = nil
			return
		}
		v.Verdict = verdict.Ptr()
	})
}

// Forget drops the entry for spotID.
func Forget(ctx context.Context, kv localstore.KV, spotID string) error {
	e := Load(ctx, kv)
	if _, ok := e[spotID]; !ok {
		return nil
	}
	delete(e, spotID)
	return save(ctx, kv, e)
}

func update(ctx context.Context, kv localstore.KV, spotID string, fn func(*model.LocalVote)) error {
	e := Load(ctx, kv)
	v := e[spotID]
	fn(&v)
	if v.IsZero() {
		delete(e, spotID)
	} else {
		e[spotID] = v
	}
	return save(ctx, kv, e)
}

func save(ctx context.Context, kv localstore.KV, e Entries) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := kv.Put(ctx, Key, raw); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}
