package objectstore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewKey(t *testing.T) {
	Convey("Given an upload time and extension", t, func() {
		now := time.UnixMilli(1_700_000_000_123)

		Convey("When a key is generated", func() {
			key := NewKey(now, ".JPG")

			Convey("Then it should be millis, uuid and lowercase ext", func() {
				So(key, ShouldStartWith, "1700000000123-")
				So(key, ShouldEndWith, ".jpg")
				So(regexp.MustCompile(`^\d+-[0-9a-f-]{36}\.jpg$`).MatchString(key), ShouldBeTrue)
			})
		})

		Convey("When two keys are generated at the same instant", func() {
			So(NewKey(now, "png"), ShouldNotEqual, NewKey(now, "png"))
		})

		Convey("When the extension is empty", func() {
			So(NewKey(now, ""), ShouldEndWith, ".bin")
		})
	})
}

func TestMemBucket(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory bucket", t, func() {
		b := NewMemBucket("http://localhost/photos/")

		Convey("When an object is stored", func() {
			So(b.Put(ctx, "a.jpg", strings.NewReader("data"), "image/jpeg"), ShouldBeNil)

			Convey("Then it should be readable and addressable", func() {
				o, ok := b.Get("a.jpg")
				So(ok, ShouldBeTrue)
				So(string(o.Data), ShouldEqual, "data")
				So(o.ContentType, ShouldEqual, "image/jpeg")
				So(b.PublicURL("a.jpg"), ShouldEqual, "http://localhost/photos/a.jpg")
			})

			Convey("And deleting it twice should report not found", func() {
				So(b.Delete(ctx, "a.jpg"), ShouldBeNil)
				So(errors.Is(b.Delete(ctx, "a.jpg"), ErrNotFound), ShouldBeTrue)
				So(b.Len(), ShouldEqual, 0)
			})

			Convey("And failing deletes should keep it", func() {
				boom := errors.New("bucket down")
				b.FailDeletes(boom)
				So(b.Delete(ctx, "a.jpg"), ShouldEqual, boom)
				So(b.Len(), ShouldEqual, 1)
			})
		})

		Convey("When a key escapes the bucket", func() {
			err := b.Put(ctx, "../etc/passwd", strings.NewReader("x"), "text/plain")
			So(errors.Is(err, ErrInvalidKey), ShouldBeTrue)
		})
	})
}

func TestGCSPublicURL(t *testing.T) {
	Convey("Given a GCS bucket", t, func() {
		b := &GCSBucket{bucket: "walls"}
		So(b.PublicURL("1-x.jpg"), ShouldEqual, "https://storage.googleapis.com/walls/1-x.jpg")
	})
}
