package site

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/mapthewalls/internal/adapters/objectstore"
)

func TestPhotoRoutes(t *testing.T) {
	convey.Convey("Given a memory bucket with one photo", t, func() {
		ctx := context.Background()
		bucket := objectstore.NewMemBucket("http://localhost:9080/photos")
		convey.So(bucket.Put(ctx, "1-abc.jpg", bytes.NewReader([]byte{0xff, 0xd8, 0xff}), "image/jpeg"), convey.ShouldBeNil)

		mux := http.NewServeMux()
		convey.So(Register(ctx, mux, bucket), convey.ShouldBeNil)

		convey.Convey("When fetching the stored key", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/photos/1-abc.jpg", http.NoBody))

			convey.Convey("Then the bytes and type are served", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "image/jpeg")
				convey.So(w.Body.Len(), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When fetching an unknown key", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/photos/nope.jpg", http.NoBody))
			convey.So(w.Code, convey.ShouldEqual, http.StatusNotFound)
		})
	})

	convey.Convey("Given invalid arguments", t, func() {
		convey.So(Register(context.Background(), http.NewServeMux(), nil), convey.ShouldEqual, ErrNilSource)
		convey.So(func() { _ = Register(context.Background(), nil, nil) }, convey.ShouldPanic)
	})
}
