package janitor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mapthewalls/internal/adapters/objectstore"
	"github.com/okian/mapthewalls/internal/adapters/repository"
	"github.com/okian/mapthewalls/internal/janitor"
)

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	Convey("Given queued photo deletions", t, func() {
		store := repository.NewMemStore()
		bucket := objectstore.NewMemBucket("http://local")
		So(bucket.Put(ctx, "a.jpg", strings.NewReader("a"), "image/jpeg"), ShouldBeNil)
		So(store.QueuePhotoDeletion(ctx, "a.jpg"), ShouldBeNil)
		So(store.QueuePhotoDeletion(ctx, "gone.jpg"), ShouldBeNil)
		j := janitor.New(store, bucket)

		Convey("When the bucket is healthy", func() {
			rep, err := j.RunOnce(ctx)

			Convey("Then every path should be cleared, missing ones included", func() {
				So(err, ShouldBeNil)
				So(rep.Cleared, ShouldEqual, 2)
				So(bucket.Len(), ShouldEqual, 0)
				left, _ := store.PendingPhotoDeletions(ctx, 10)
				So(left, ShouldBeEmpty)
			})
		})

		Convey("When the bucket keeps failing", func() {
			bucket.FailDeletes(errors.New("unavailable"))
			rep, err := j.RunOnce(ctx)

			Convey("Then the paths should stay queued with an attempt counted", func() {
				So(err, ShouldBeNil)
				So(rep.Failed, ShouldEqual, 2)
				left, _ := store.PendingPhotoDeletions(ctx, 10)
				So(len(left), ShouldEqual, 2)
				So(left[0].Attempts, ShouldEqual, 1)
			})
		})
	})
}

func TestRunOnceDoesNotStarve(t *testing.T) {
	ctx := context.Background()

	Convey("Given a one-path batch behind a path that already failed", t, func() {
		store := repository.NewMemStore()
		bucket := objectstore.NewMemBucket("http://local")
		So(store.QueuePhotoDeletion(ctx, "stuck.jpg"), ShouldBeNil)
		So(store.BumpPhotoDeletion(ctx, "stuck.jpg"), ShouldBeNil)
		So(bucket.Put(ctx, "new.jpg", strings.NewReader("n"), "image/jpeg"), ShouldBeNil)
		So(store.QueuePhotoDeletion(ctx, "new.jpg"), ShouldBeNil)
		j := janitor.New(store, bucket, janitor.WithBatch(1))

		Convey("When a run happens", func() {
			rep, err := j.RunOnce(ctx)

			Convey("Then the newer path should be the one processed", func() {
				So(err, ShouldBeNil)
				So(rep.Cleared, ShouldEqual, 1)
				So(bucket.Len(), ShouldEqual, 0)
				left, _ := store.PendingPhotoDeletions(ctx, 10)
				So(len(left), ShouldEqual, 1)
				So(left[0].Path, ShouldEqual, "stuck.jpg")
			})
		})
	})
}

func TestSchedule(t *testing.T) {
	Convey("Given a janitor with a bad schedule", t, func() {
		j := janitor.New(repository.NewMemStore(), objectstore.NewMemBucket(""), janitor.WithSchedule("not cron"))

		Convey("Then Start should fail", func() {
			So(j.Start(context.Background()), ShouldNotBeNil)
		})
	})

	Convey("Given a janitor on a fast schedule", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		So(store.QueuePhotoDeletion(ctx, "x.jpg"), ShouldBeNil)
		j := janitor.New(store, objectstore.NewMemBucket(""), janitor.WithSchedule("@every 1s"))

		So(j.Start(ctx), ShouldBeNil)
		So(errors.Is(j.Start(ctx), janitor.ErrAlreadyStarted), ShouldBeTrue)

		Convey("Then the queue should drain without a manual run", func() {
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				left, _ := store.PendingPhotoDeletions(ctx, 10)
				if len(left) == 0 {
					break
				}
				time.Sleep(100 * time.Millisecond)
			}
			j.Stop()
			left, _ := store.PendingPhotoDeletions(ctx, 10)
			So(left, ShouldBeEmpty)
		})
	})
}
