package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mapthewalls/internal/domain/aggregate"
	"github.com/okian/mapthewalls/internal/domain/model"
)

func intp(v int) *int { return &v }

// storeContract exercises behaviour every Store must share.
func storeContract(t *testing.T, name string, newStore func() Store) {
	ctx := context.Background()

	Convey("Given a "+name+" store", t, func() {
		s := newStore()
		spotID := "spot-" + uuid.NewString()
		base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		So(s.CreateSpot(ctx, model.Spot{ID: spotID, Title: "Mural", Lat: 1, Lng: 2, CreatedAt: base}), ShouldBeNil)

		Convey("When the same id is created twice", func() {
			err := s.CreateSpot(ctx, model.Spot{ID: spotID, Title: "Again", CreatedAt: base})
			So(errors.Is(err, ErrConflict), ShouldBeTrue)
		})

		Convey("When an unknown spot is read", func() {
			_, err := s.GetSpot(ctx, "missing-"+uuid.NewString())
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("When a voter rates then sets a verdict", func() {
			voter := uuid.NewString()
			_, err := s.UpsertVote(ctx, voter, model.VoteInput{SpotID: spotID, Rating: intp(4)})
			So(err, ShouldBeNil)
			row, err := s.UpsertVote(ctx, voter, model.VoteInput{SpotID: spotID, Verdict: model.VerdictBuff.Ptr()})
			So(err, ShouldBeNil)

			Convey("Then both fields should be kept on one row", func() {
				So(*row.Rating, ShouldEqual, 4)
				So(*row.Verdict, ShouldEqual, model.VerdictBuff)

				got, err := s.GetVote(ctx, spotID, voter)
				So(err, ShouldBeNil)
				So(*got.Rating, ShouldEqual, 4)
				So(*got.Verdict, ShouldEqual, model.VerdictBuff)

				rows, err := s.ListVotes(ctx, spotID)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 1)
			})

			Convey("And clearing the verdict should keep the rating", func() {
				row, err := s.UpsertVote(ctx, voter, model.VoteInput{SpotID: spotID, ClearVerdict: true})
				So(err, ShouldBeNil)
				So(*row.Rating, ShouldEqual, 4)
				So(row.Verdict, ShouldBeNil)
			})
		})

		Convey("When two voters rate and one re-rates", func() {
			a, b := uuid.NewString(), uuid.NewString()
			_, _ = s.UpsertVote(ctx, a, model.VoteInput{SpotID: spotID, Rating: intp(5)})
			_, _ = s.UpsertVote(ctx, b, model.VoteInput{SpotID: spotID, Rating: intp(3)})
			_, _ = s.UpsertVote(ctx, a, model.VoteInput{SpotID: spotID, Rating: intp(1)})
			rows, err := s.ListVotes(ctx, spotID)
			So(err, ShouldBeNil)
			sum := aggregate.Summarize(rows)

			Convey("Then the summary should reflect one row per voter", func() {
				So(sum.Count, ShouldEqual, 2)
				So(*sum.Avg, ShouldEqual, 2.0)
			})
		})

		Convey("When voting on an unknown spot", func() {
			_, err := s.UpsertVote(ctx, uuid.NewString(), model.VoteInput{SpotID: "missing-" + uuid.NewString(), Rating: intp(2)})
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("When a voter has no row", func() {
			_, err := s.GetVote(ctx, spotID, uuid.NewString())
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("When the spot is patched", func() {
			title := "Renamed"
			sp, err := s.UpdateSpot(ctx, spotID, model.SpotPatch{Title: &title})
			So(err, ShouldBeNil)
			So(sp.Title, ShouldEqual, "Renamed")
			So(sp.Lat, ShouldEqual, 1)
		})

		Convey("When the spot is deleted", func() {
			voter := uuid.NewString()
			_, _ = s.UpsertVote(ctx, voter, model.VoteInput{SpotID: spotID, Rating: intp(2)})
			deleted, err := s.DeleteSpot(ctx, spotID)
			So(err, ShouldBeNil)
			So(deleted.ID, ShouldEqual, spotID)

			Convey("Then its votes should be gone too", func() {
				_, err := s.GetSpot(ctx, spotID)
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
				_, err = s.GetVote(ctx, spotID, voter)
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
				_, err = s.DeleteSpot(ctx, spotID)
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When photo deletions are queued", func() {
			path := "photos/" + uuid.NewString() + ".jpg"
			So(s.QueuePhotoDeletion(ctx, path), ShouldBeNil)
			So(s.QueuePhotoDeletion(ctx, path), ShouldBeNil)
			So(s.BumpPhotoDeletion(ctx, path), ShouldBeNil)

			pending, err := s.PendingPhotoDeletions(ctx, 1000)
			So(err, ShouldBeNil)

			Convey("Then the path should be queued once until cleared", func() {
				found := 0
				for _, d := range pending {
					if d.Path == path {
						found++
						So(d.Attempts, ShouldEqual, 1)
					}
				}
				So(found, ShouldEqual, 1)

				So(s.ClearPhotoDeletion(ctx, path), ShouldBeNil)
				So(errors.Is(s.BumpPhotoDeletion(ctx, path), ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When an older deletion keeps failing", func() {
			stuck := "photos/" + uuid.NewString() + ".jpg"
			fresh := "photos/" + uuid.NewString() + ".jpg"
			So(s.QueuePhotoDeletion(ctx, stuck), ShouldBeNil)
			So(s.BumpPhotoDeletion(ctx, stuck), ShouldBeNil)
			So(s.BumpPhotoDeletion(ctx, stuck), ShouldBeNil)
			time.Sleep(5 * time.Millisecond)
			So(s.QueuePhotoDeletion(ctx, fresh), ShouldBeNil)

			pending, err := s.PendingPhotoDeletions(ctx, 1000)
			So(err, ShouldBeNil)

			Convey("Then the newer path should be retried first", func() {
				at := map[string]int{}
				for i, d := range pending {
					at[d.Path] = i
				}
				So(at, ShouldContainKey, stuck)
				So(at, ShouldContainKey, fresh)
				So(at[fresh], ShouldBeLessThan, at[stuck])
			})
		})

		Convey("When listing with a bad limit", func() {
			_, err := s.ListSpots(ctx, 0)
			So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
		})
	})
}

func TestMemStore(t *testing.T) {
	storeContract(t, "memory", func() Store { return NewMemStore() })
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MTW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MTW_TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), dsn, WithConnectRetries(1, time.Millisecond))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = s.Close() }()
	storeContract(t, "postgres", func() Store { return s })
}

func TestMemStoreListOrder(t *testing.T) {
	ctx := context.Background()

	Convey("Given spots created at different times", t, func() {
		s := NewMemStore()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			sp := model.Spot{ID: fmt.Sprintf("s%d", i), Title: "t", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
			So(s.CreateSpot(ctx, sp), ShouldBeNil)
		}

		Convey("When listing with a limit", func() {
			out, err := s.ListSpots(ctx, 3)

			Convey("Then the newest should come first", func() {
				So(err, ShouldBeNil)
				So(len(out), ShouldEqual, 3)
				So(out[0].ID, ShouldEqual, "s4")
				So(out[2].ID, ShouldEqual, "s2")
			})
		})

		Convey("When the store is closed", func() {
			So(s.Close(), ShouldBeNil)
			So(errors.Is(s.Ping(ctx), ErrClosed), ShouldBeTrue)
			So(errors.Is(s.CreateSpot(ctx, model.Spot{ID: "late"}), ErrClosed), ShouldBeTrue)
		})
	})
}

func TestMapPgError(t *testing.T) {
	Convey("Given driver errors", t, func() {
		So(mapPgError("op", pgx.ErrNoRows), ShouldEqual, ErrNotFound)
		So(errors.Is(mapPgError("op", &pgconn.PgError{Code: pgForeignKeyViolation}), ErrNotFound), ShouldBeTrue)
		So(errors.Is(mapPgError("op", &pgconn.PgError{Code: pgUniqueViolation}), ErrConflict), ShouldBeTrue)

		other := errors.New("boom")
		err := mapPgError("op", other)
		So(errors.Is(err, other), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "op: boom")
	})
}
