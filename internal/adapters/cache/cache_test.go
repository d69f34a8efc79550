package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mapthewalls/internal/adapters/cache"
	"github.com/okian/mapthewalls/internal/domain/model"
)

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()

	Convey("Given a cache without a Redis URL", t, func() {
		c := cache.New(ctx, "")

		Convey("Then every call should be a no-op", func() {
			So(c.Enabled(), ShouldBeFalse)
			So(c.Set(ctx, "s1", model.VoteSummary{Count: 1}), ShouldBeNil)
			_, ok, err := c.Get(ctx, "s1")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(c.Invalidate(ctx, "s1"), ShouldBeNil)
			So(c.Ping(ctx), ShouldBeNil)
			So(c.Close(), ShouldBeNil)
		})
	})

	Convey("Given an unparsable Redis URL", t, func() {
		c := cache.New(ctx, "::not a url::")
		So(c.Enabled(), ShouldBeFalse)
	})

	Convey("Given an unreachable Redis", t, func() {
		c := cache.New(ctx, "redis://127.0.0.1:1/0", cache.WithDialTimeout(200*time.Millisecond))
		So(c.Enabled(), ShouldBeFalse)
	})

	Convey("Given a nil cache pointer", t, func() {
		var c *cache.Cache
		So(c.Enabled(), ShouldBeFalse)
	})

	Convey("Given a spot id", t, func() {
		So(cache.Key("abc"), ShouldEqual, "summary:abc")
	})
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("MTW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("MTW_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	Convey("Given a connected cache", t, func() {
		c := cache.New(ctx, url, cache.WithTTL(time.Minute))
		So(c.Enabled(), ShouldBeTrue)
		spotID := uuid.NewString()
		avg := 4.5

		Convey("When a summary is stored and read back", func() {
			So(c.Set(ctx, spotID, model.VoteSummary{Avg: &avg, Count: 2, Frame: 1}), ShouldBeNil)
			got, ok, err := c.Get(ctx, spotID)

			Convey("Then it should hit", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(*got.Avg, ShouldEqual, 4.5)
				So(got.Frame, ShouldEqual, 1)
			})

			Convey("And invalidation should turn it into a miss", func() {
				So(c.Invalidate(ctx, spotID), ShouldBeNil)
				_, ok, _ := c.Get(ctx, spotID)
				So(ok, ShouldBeFalse)
			})
		})
	})
}
