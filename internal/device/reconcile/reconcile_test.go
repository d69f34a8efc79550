package reconcile_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mapthewalls/internal/adapters/mq/queue"
	"github.com/okian/mapthewalls/internal/adapters/mq/worker"
	service "github.com/okian/mapthewalls/internal/app"
	"github.com/okian/mapthewalls/internal/device/ledger"
	"github.com/okian/mapthewalls/internal/device/localstore"
	"github.com/okian/mapthewalls/internal/device/reconcile"
	"github.com/okian/mapthewalls/internal/device/spotcache"
	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/pkg/logger"
)

// serviceRemote plays one device against an in-process service.
type serviceRemote struct {
	svc   *service.Service
	voter string
}

func (s serviceRemote) UpsertVote(ctx context.Context, in model.VoteInput) error {
	_, err := s.svc.UpsertVote(ctx, s.voter, in)
	return err
}

func (s serviceRemote) LoadVoteSummary(ctx context.Context, spotID string) model.VoteSummary {
	return s.svc.LoadVoteSummary(ctx, spotID)
}

func (s serviceRemote) LoadMyVote(ctx context.Context, spotID string) (model.MyVote, error) {
	return s.svc.LoadMyVote(ctx, spotID, s.voter)
}

// stubRemote fails or blocks on demand.
type stubRemote struct {
	writeErr error
	entered  chan struct{}
	release  chan struct{}
}

func (s *stubRemote) UpsertVote(ctx context.Context, _ model.VoteInput) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.writeErr
}

func (s *stubRemote) LoadVoteSummary(context.Context, string) model.VoteSummary {
	return model.VoteSummary{}
}

func (s *stubRemote) LoadMyVote(context.Context, string) (model.MyVote, error) {
	return model.MyVote{}, nil
}

func openStore(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(context.Background(), filepath.Join(t.TempDir(), uuid.NewString()+".db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func device(t *testing.T, svc *service.Service) *reconcile.Reconciler {
	r, err := reconcile.New(reconcile.PolicyRemote, reconcile.Deps{
		Store:  openStore(t),
		Remote: serviceRemote{svc: svc, voter: uuid.NewString()},
	})
	So(err, ShouldBeNil)
	return r
}

func TestRemotePolicy(t *testing.T) {
	ctx := context.Background()

	Convey("Given two devices voting through the remote store", t, func() {
		svc := service.New()
		spot, err := svc.CreateSpot(ctx, model.NewSpot{Title: "Bridge", Lat: 1, Lng: 1})
		So(err, ShouldBeNil)
		a, b := device(t, svc), device(t, svc)

		Convey("When they rate as in the worked example", func() {
			r1, err := a.Rate(ctx, spot.ID, 5)
			So(err, ShouldBeNil)
			r2, err := b.Rate(ctx, spot.ID, 3)
			So(err, ShouldBeNil)
			r3, err := a.Rate(ctx, spot.ID, 1)
			So(err, ShouldBeNil)

			Convey("Then each result carries the re-derived summary", func() {
				So(*r1.Summary.Avg, ShouldAlmostEqual, 5.0)
				So(r1.Summary.Count, ShouldEqual, 1)
				So(*r2.Summary.Avg, ShouldAlmostEqual, 4.0)
				So(r2.Summary.Count, ShouldEqual, 2)
				So(*r3.Summary.Avg, ShouldAlmostEqual, 2.0)
				So(r3.Summary.Count, ShouldEqual, 2)
				So(*r3.Mine.Rated, ShouldEqual, 1)
			})
		})

		Convey("When one device clicks buff, buff, frame", func() {
			v1, err := a.Verdict(ctx, spot.ID, model.VerdictBuff)
			So(err, ShouldBeNil)
			v2, err := a.Verdict(ctx, spot.ID, model.VerdictBuff)
			So(err, ShouldBeNil)
			v3, err := a.Verdict(ctx, spot.ID, model.VerdictFrame)
			So(err, ShouldBeNil)

			Convey("Then the tallies toggle and switch", func() {
				So(v1.Summary.Buff, ShouldEqual, 1)
				So(v1.Summary.Frame, ShouldEqual, 0)
				So(v2.Summary.Buff, ShouldEqual, 0)
				So(v2.Summary.Frame, ShouldEqual, 0)
				So(v2.Mine.Verdict, ShouldBeNil)
				So(v3.Summary.Buff, ShouldEqual, 0)
				So(v3.Summary.Frame, ShouldEqual, 1)
			})

			Convey("And my vote reflects the last click", func() {
				mine, err := a.MyVote(ctx, spot.ID)
				So(err, ShouldBeNil)
				So(*mine.Verdict, ShouldEqual, model.VerdictFrame)
				So(a.Summary(ctx, spot.ID).Frame, ShouldEqual, 1)
			})
		})

		Convey("When the rating is out of range", func() {
			_, err := a.Rate(ctx, spot.ID, 7)
			So(errors.Is(err, model.ErrInvalidRating), ShouldBeTrue)
			So(a.Summary(ctx, spot.ID).Count, ShouldEqual, 0)
		})
	})

	Convey("Given a remote store that rejects writes", t, func() {
		store := openStore(t)
		r, err := reconcile.New(reconcile.PolicyRemote, reconcile.Deps{
			Store:  store,
			Remote: &stubRemote{writeErr: errors.New("offline")},
		})
		So(err, ShouldBeNil)

		Convey("When rating", func() {
			_, err := r.Rate(ctx, "s1", 4)

			Convey("Then the error surfaces and nothing changes locally", func() {
				So(err, ShouldNotBeNil)
				So(ledger.Get(ctx, store, "s1").IsZero(), ShouldBeTrue)
			})
		})
	})

	Convey("Given a remote write that stalls", t, func() {
		stub := &stubRemote{entered: make(chan struct{}, 1), release: make(chan struct{})}
		r, err := reconcile.New(reconcile.PolicyRemote, reconcile.Deps{Store: openStore(t), Remote: stub},
			reconcile.WithTimeout(200*time.Millisecond))
		So(err, ShouldBeNil)

		Convey("When a second vote on the same spot arrives mid-flight", func() {
			done := make(chan error, 1)
			go func() {
				_, err := r.Rate(ctx, "s1", 4)
				done <- err
			}()
			<-stub.entered
			_, second := r.Rate(ctx, "s1", 2)
			close(stub.release)

			Convey("Then it is refused while the first completes", func() {
				So(errors.Is(second, reconcile.ErrPending), ShouldBeTrue)
				So(<-done, ShouldBeNil)
			})
		})

		Convey("When the write outlives the action timeout", func() {
			_, err := r.Rate(ctx, "s1", 4)

			Convey("Then a retryable timeout is returned and the spot is free again", func() {
				So(errors.Is(err, reconcile.ErrTimeout), ShouldBeTrue)
				<-stub.entered
				close(stub.release)
				_, err := r.Rate(ctx, "s1", 4)
				So(errors.Is(err, reconcile.ErrPending), ShouldBeFalse)
			})
		})
	})
}

func TestLocalPolicy(t *testing.T) {
	ctx := context.Background()

	Convey("Given a device with one cached spot", t, func() {
		store := openStore(t)
		So(spotcache.Add(ctx, store, model.CachedSpot{Spot: model.Spot{ID: "s1", Title: "Wall"}}), ShouldBeNil)
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		r, err := reconcile.New(reconcile.PolicyLocal, reconcile.Deps{Store: store, Mirror: q})
		So(err, ShouldBeNil)

		Convey("When the device rates twice", func() {
			_, err := r.Rate(ctx, "s1", 5)
			So(err, ShouldBeNil)
			res, err := r.Rate(ctx, "s1", 3.4)
			So(err, ShouldBeNil)

			Convey("Then the count moves once and the sum follows the edit", func() {
				spot, err := spotcache.Get(ctx, store, "s1")
				So(err, ShouldBeNil)
				So(spot.RatingCount, ShouldEqual, 1)
				So(spot.RatingSum, ShouldEqual, 3)
				So(*res.Summary.Avg, ShouldAlmostEqual, 3.0)
				So(*res.Mine.Rated, ShouldEqual, 3)
			})

			Convey("And both votes are queued for mirroring", func() {
				So(q.Len(ctx), ShouldEqual, 2)
			})
		})

		Convey("When the device clicks buff, buff, frame", func() {
			v1, _ := r.Verdict(ctx, "s1", model.VerdictBuff)
			v2, _ := r.Verdict(ctx, "s1", model.VerdictBuff)
			v3, err := r.Verdict(ctx, "s1", model.VerdictFrame)
			So(err, ShouldBeNil)

			Convey("Then the counters match the remote policy", func() {
				So(v1.Summary.Buff, ShouldEqual, 1)
				So(v2.Summary.Buff, ShouldEqual, 0)
				So(v3.Summary.Buff, ShouldEqual, 0)
				So(v3.Summary.Frame, ShouldEqual, 1)
			})

			Convey("And the toggle-off is mirrored as a clear", func() {
				jobs := q.Dequeue(ctx)
				<-jobs
				second := <-jobs
				So(second.Input.ClearVerdict, ShouldBeTrue)
				So(second.Input.Verdict, ShouldBeNil)
			})
		})

		Convey("When the mirror queue is closed", func() {
			So(q.Close(), ShouldBeNil)
			res, err := r.Rate(ctx, "s1", 4)

			Convey("Then the local vote still lands", func() {
				So(err, ShouldBeNil)
				So(res.Summary.Count, ShouldEqual, 1)
			})
		})

		Convey("When voting on a spot that is not cached", func() {
			_, err := r.Rate(ctx, "ghost", 4)

			Convey("Then nothing is written", func() {
				So(errors.Is(err, spotcache.ErrNotFound), ShouldBeTrue)
				So(ledger.Get(ctx, store, "ghost").IsZero(), ShouldBeTrue)
				So(q.Len(ctx), ShouldEqual, 0)
				So(r.Summary(ctx, "ghost").Count, ShouldEqual, 0)
			})
		})

		Convey("When reading my vote", func() {
			_, _ = r.Rate(ctx, "s1", 2)
			mine, err := r.MyVote(ctx, "s1")
			So(err, ShouldBeNil)
			So(*mine.Rating, ShouldEqual, 2)
		})
	})
}

// slowFive stalls every rating of five before passing it on.
type slowFive struct {
	serviceRemote
	delay time.Duration
}

func (s slowFive) UpsertVote(ctx context.Context, in model.VoteInput) error {
	if in.Rating != nil && *in.Rating == 5 {
		time.Sleep(s.delay)
	}
	return s.serviceRemote.UpsertVote(ctx, in)
}

func TestLocalPolicyMirrorOrder(t *testing.T) {
	ctx := context.Background()

	Convey("Given a local-first device mirroring through two workers", t, func() {
		So(logger.Init(), ShouldBeNil)
		svc := service.New()
		spot, err := svc.CreateSpot(ctx, model.NewSpot{Title: "Underpass", Lat: 2, Lng: 2})
		So(err, ShouldBeNil)

		store := openStore(t)
		So(spotcache.Add(ctx, store, model.CachedSpot{Spot: spot}), ShouldBeNil)
		remote := serviceRemote{svc: svc, voter: uuid.NewString()}
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		pool := worker.NewPool(2, q, slowFive{serviceRemote: remote, delay: 200 * time.Millisecond})
		pool.Start(ctx)
		r, err := reconcile.New(reconcile.PolicyLocal, reconcile.Deps{Store: store, Mirror: q})
		So(err, ShouldBeNil)

		Convey("When the first mirrored write is slow and the device re-rates", func() {
			_, err := r.Rate(ctx, spot.ID, 5)
			So(err, ShouldBeNil)
			time.Sleep(50 * time.Millisecond)
			_, err = r.Rate(ctx, spot.ID, 1)
			So(err, ShouldBeNil)

			dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			So(pool.Drain(dctx), ShouldBeNil)

			Convey("Then the remote row ends on the device's last vote", func() {
				mine, err := remote.LoadMyVote(ctx, spot.ID)
				So(err, ShouldBeNil)
				So(*mine.Rating, ShouldEqual, 1)
				So(*ledger.Get(ctx, store, spot.ID).Rated, ShouldEqual, 1)
			})
		})
	})
}

func TestNew(t *testing.T) {
	Convey("Given constructor inputs", t, func() {
		store := openStore(t)

		Convey("Then an unknown policy is refused", func() {
			_, err := reconcile.New("both", reconcile.Deps{Store: store})
			So(errors.Is(err, reconcile.ErrUnknownPolicy), ShouldBeTrue)
		})

		Convey("Then the remote policy needs a remote", func() {
			_, err := reconcile.New(reconcile.PolicyRemote, reconcile.Deps{Store: store})
			So(errors.Is(err, reconcile.ErrMissingDependency), ShouldBeTrue)
		})

		Convey("Then policies parse from config strings", func() {
			p, err := reconcile.ParsePolicy(" Local ")
			So(err, ShouldBeNil)
			So(p, ShouldEqual, reconcile.PolicyLocal)
		})
	})
}
