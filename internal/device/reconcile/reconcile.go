// Package reconcile decides, per vote, whether device-local aggregates or the
// remote vote store are authoritative. A Reconciler runs exactly one policy.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/mapthewalls/internal/adapters/mq/queue"
	"github.com/okian/mapthewalls/internal/device/ledger"
	"github.com/okian/mapthewalls/internal/device/localstore"
	"github.com/okian/mapthewalls/internal/device/spotcache"
	"github.com/okian/mapthewalls/internal/domain/aggregate"
	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/internal/domain/pending"
	"github.com/okian/mapthewalls/pkg/logger"
)

// Policy selects the source of truth.
type Policy string

// Policies.
const (
	// PolicyRemote writes the remote store first and re-derives the summary
	// from it. Nothing changes locally when the write fails.
	PolicyRemote Policy = "remote"
	// PolicyLocal applies the vote to the cached aggregate at once and
	// mirrors it to the remote store in the background.
	PolicyLocal Policy = "local"
)

const defaultTimeout = 10 * time.Second

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyRemote, PolicyLocal:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Store is the device-local state.
type Store interface {
	localstore.KV
	Update(ctx context.Context, fn func(tx localstore.KV) error) error
}

// Remote is the remote vote store client.
type Remote interface {
	UpsertVote(ctx context.Context, in model.VoteInput) error
	LoadVoteSummary(ctx context.Context, spotID string) model.VoteSummary
	LoadMyVote(ctx context.Context, spotID string) (model.MyVote, error)
}

// Mirror accepts best-effort copies of local votes.
type Mirror interface {
	Enqueue(ctx context.Context, job queue.MirrorJob) error
}

// Deps are the collaborators. Mirror is only used by PolicyLocal and may be
// nil there, which keeps votes on the device.
type Deps struct {
	Store  Store
	Remote Remote
	Mirror Mirror
}

// Result is what the UI renders after an action.
type Result struct {
	SpotID  string            `json:"spot_id"`
	Summary model.VoteSummary `json:"summary"`
	Mine    model.LocalVote   `json:"mine"`
}

// Reconciler applies votes under one policy.
type Reconciler struct {
	policy  Policy
	store   Store
	remote  Remote
	mirror  Mirror
	guard   pending.Guard
	timeout time.Duration
	log     logger.Logger
}

// New creates a Reconciler for policy.
func New(policy Policy, deps Deps, opts ...Option) (*Reconciler, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	}
	if policy == PolicyRemote && deps.Remote == nil {
		return nil, fmt.Errorf("%w: remote", ErrMissingDependency)
	}
	r := &Reconciler{
		policy:  policy,
		store:   deps.Store,
		remote:  deps.Remote,
		mirror:  deps.Mirror,
		timeout: defaultTimeout,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.guard == nil {
		// a hold outliving the action timeout belongs to a stalled call
		r.guard = pending.New(pending.WithMaxHold(r.timeout + time.Second))
	}
	return r, nil
}

// Policy returns the active policy.
func (r *Reconciler) Policy() Policy { return r.policy }

// Rate records stars (rounded to the nearest integer) as this device's rating.
func (r *Reconciler) Rate(ctx context.Context, spotID string, stars float64) (Result, error) {
	n, err := aggregate.NormalizeRating(stars)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(spotID) == "" {
		return Result{}, model.ErrInvalidSpotID
	}
	if r.policy == PolicyLocal {
		return r.rateLocal(ctx, spotID, n)
	}
	return r.exclusive(ctx, spotID, func(ctx context.Context) (Result, error) {
		return r.rateRemote(ctx, spotID, n)
	})
}

// Verdict applies choice with toggle semantics: repeating the current verdict
// clears it, the other verdict switches.
func (r *Reconciler) Verdict(ctx context.Context, spotID string, choice model.Verdict) (Result, error) {
	if !choice.Valid() {
		return Result{}, fmt.Errorf("%w: %q", model.ErrInvalidVerdict, choice)
	}
	if strings.TrimSpace(spotID) == "" {
		return Result{}, model.ErrInvalidSpotID
	}
	if r.policy == PolicyLocal {
		return r.verdictLocal(ctx, spotID, choice)
	}
	return r.exclusive(ctx, spotID, func(ctx context.Context) (Result, error) {
		return r.verdictRemote(ctx, spotID, choice)
	})
}

// Summary returns the spot's summary under the active policy. It never fails.
func (r *Reconciler) Summary(ctx context.Context, spotID string) model.VoteSummary {
	if r.policy == PolicyRemote {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.remote.LoadVoteSummary(ctx, spotID)
	}
	spot, err := spotcache.Get(ctx, r.store, spotID)
	if err != nil {
		r.log.Debug(ctx, "no cached aggregate", logger.String("spot_id", spotID), logger.Error(err))
		return aggregate.Empty()
	}
	return aggregate.FromAggregate(spot.Aggregate)
}

// MyVote returns this device's current choice for the spot.
func (r *Reconciler) MyVote(ctx context.Context, spotID string) (model.MyVote, error) {
	if r.policy == PolicyRemote {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.remote.LoadMyVote(ctx, spotID)
	}
	v := ledger.Get(ctx, r.store, spotID)
	return model.MyVote{Rating: v.Rated, Verdict: v.Verdict}, nil
}

// exclusive holds the spot's pending flag and the action timeout around fn.
func (r *Reconciler) exclusive(ctx context.Context, spotID string, fn func(context.Context) (Result, error)) (Result, error) {
	claim, ok := r.guard.TryBegin(ctx, spotID)
	if !ok {
		return Result{}, ErrPending
	}
	defer r.guard.Done(ctx, spotID, claim)

	actx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := fn(actx)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return res, err
}

func (r *Reconciler) rateRemote(ctx context.Context, spotID string, n int) (Result, error) {
	if err := r.remote.UpsertVote(ctx, model.VoteInput{SpotID: spotID, Rating: &n}); err != nil {
		return Result{}, err
	}
	sum := r.remote.LoadVoteSummary(ctx, spotID)
	r.remember(ctx, spotID, func(kv localstore.KV) error {
		return ledger.RecordRating(ctx, kv, spotID, n)
	})
	return Result{SpotID: spotID, Summary: sum, Mine: ledger.Get(ctx, r.store, spotID)}, nil
}

func (r *Reconciler) verdictRemote(ctx context.Context, spotID string, choice model.Verdict) (Result, error) {
	mine, err := r.remote.LoadMyVote(ctx, spotID)
	if err != nil {
		return Result{}, err
	}
	next := aggregate.NextVerdict(mine.Verdict, choice)
	in := model.VoteInput{SpotID: spotID, Verdict: next, ClearVerdict: next == nil}
	if err := r.remote.UpsertVote(ctx, in); err != nil {
		return Result{}, err
	}
	sum := r.remote.LoadVoteSummary(ctx, spotID)
	r.remember(ctx, spotID, func(kv localstore.KV) error {
		return ledger.RecordVerdict(ctx, kv, spotID, next)
	})
	return Result{SpotID: spotID, Summary: sum, Mine: ledger.Get(ctx, r.store, spotID)}, nil
}

// remember updates the ledger after a successful remote write. The remote
// row is authoritative, so a local failure only loses UI pre-fill.
func (r *Reconciler) remember(ctx context.Context, spotID string, fn func(localstore.KV) error) {
	if err := r.store.Update(ctx, fn); err != nil {
		r.log.Warn(ctx, "ledger update failed", logger.String("spot_id", spotID), logger.Error(err))
	}
}

func (r *Reconciler) rateLocal(ctx context.Context, spotID string, n int) (Result, error) {
	var res Result
	err := r.store.Update(ctx, func(tx localstore.KV) error {
		spot, err := spotcache.Get(ctx, tx, spotID)
		if err != nil {
			return err
		}
		prev := ledger.Get(ctx, tx, spotID)
		spot.Aggregate = aggregate.ApplyRating(spot.Aggregate, prev.Rated, n)
		if err := spotcache.Put(ctx, tx, spot); err != nil {
			return err
		}
		if err := ledger.RecordRating(ctx, tx, spotID, n); err != nil {
			return err
		}
		res = Result{SpotID: spotID, Summary: aggregate.FromAggregate(spot.Aggregate), Mine: ledger.Get(ctx, tx, spotID)}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	r.mirrorVote(ctx, model.VoteInput{SpotID: spotID, Rating: &n})
	return res, nil
}

func (r *Reconciler) verdictLocal(ctx context.Context, spotID string, choice model.Verdict) (Result, error) {
	var (
		res  Result
		next *model.Verdict
	)
	err := r.store.Update(ctx, func(tx localstore.KV) error {
		spot, err := spotcache.Get(ctx, tx, spotID)
		if err != nil {
			return err
		}
		prev := ledger.Get(ctx, tx, spotID)
		spot.Aggregate, next = aggregate.ApplyVerdict(spot.Aggregate, prev.Verdict, choice)
		if err := spotcache.Put(ctx, tx, spot); err != nil {
			return err
		}
		if err := ledger.RecordVerdict(ctx, tx, spotID, next); err != nil {
			return err
		}
		res = Result{SpotID: spotID, Summary: aggregate.FromAggregate(spot.Aggregate), Mine: ledger.Get(ctx, tx, spotID)}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	r.mirrorVote(ctx, model.VoteInput{SpotID: spotID, Verdict: next, ClearVerdict: next == nil})
	return res, nil
}

// mirrorVote queues a best-effort remote copy. Failures never undo the
// local change.
func (r *Reconciler) mirrorVote(ctx context.Context, in model.VoteInput) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Enqueue(ctx, queue.MirrorJob{Input: in}); err != nil {
		r.log.Warn(ctx, "vote mirror not queued", logger.String("spot_id", in.SpotID), logger.Error(err))
	}
}
