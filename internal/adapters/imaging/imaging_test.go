package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func gradientPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func noiseJPEG(w, h int) []byte {
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// hugePNG is a valid 1x1 PNG whose header claims w by h pixels.
func hugePNG(w, h uint32) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		panic(err)
	}
	data := buf.Bytes()
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc after 13 data bytes
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestProcess(t *testing.T) {
	Convey("Given a photo processor", t, func() {
		p := New()

		Convey("When the upload is larger than the cap", func() {
			_, err := New(WithMaxUpload(10)).Process(gradientPNG(20, 20))

			Convey("Then it should be rejected with a readable size", func() {
				So(errors.Is(err, ErrTooLarge), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "exceeds 10 B")
			})
		})

		Convey("When a small file declares a huge canvas", func() {
			src := hugePNG(12000, 12000)
			_, err := p.Process(src)

			Convey("Then it should be refused from the header alone", func() {
				So(len(src), ShouldBeLessThan, 1024)
				So(errors.Is(err, ErrTooLarge), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "12000x12000")
			})
		})

		Convey("When the pixel limit is lowered", func() {
			_, err := New(WithMaxPixels(100)).Process(gradientPNG(20, 20))
			So(errors.Is(err, ErrTooLarge), ShouldBeTrue)
		})

		Convey("When the upload is empty", func() {
			_, err := p.Process(nil)
			So(errors.Is(err, ErrEmpty), ShouldBeTrue)
		})

		Convey("When the upload is not an image", func() {
			_, err := p.Process([]byte("hello, this is plain text"))
			So(errors.Is(err, ErrUnsupportedType), ShouldBeTrue)
		})

		Convey("When the upload is HEIC", func() {
			heic := append([]byte{0, 0, 0, 0x18}, []byte("ftypheic\x00\x00\x00\x00mif1heic")...)
			heic = append(heic, make([]byte, 64)...)
			_, err := p.Process(heic)

			Convey("Then the client should be asked to convert it", func() {
				So(errors.Is(err, ErrUnsupportedType), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "convert to JPEG")
			})
		})

		Convey("When a JPEG header hides garbage", func() {
			_, err := p.Process(append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{1}, 64)...))
			So(errors.Is(err, ErrCorrupt), ShouldBeTrue)
		})

		Convey("When a large PNG is uploaded", func() {
			res, err := p.Process(gradientPNG(2400, 1200))

			Convey("Then it should become a JPEG within the size limits", func() {
				So(err, ShouldBeNil)
				So(res.ContentType, ShouldEqual, "image/jpeg")
				So(res.OriginalType, ShouldEqual, "image/png")
				So(res.Width, ShouldEqual, 1600)
				So(res.Height, ShouldEqual, 800)
				So(len(res.Data), ShouldBeLessThanOrEqualTo, DefaultBudget)
				So(res.GPS, ShouldBeNil)

				_, format, err := image.DecodeConfig(bytes.NewReader(res.Data))
				So(err, ShouldBeNil)
				So(format, ShouldEqual, "jpeg")
			})
		})

		Convey("When a noisy JPEG cannot meet the budget by quality alone", func() {
			src := noiseJPEG(400, 300)
			res, err := New(WithBudget(20 * 1024)).Process(src)

			Convey("Then it should be shrunk until it fits", func() {
				So(err, ShouldBeNil)
				So(len(res.Data), ShouldBeLessThanOrEqualTo, 20*1024)
				So(res.Width, ShouldBeLessThan, 400)
				So(res.Width*3, ShouldAlmostEqual, res.Height*4, 12)
			})
		})
	})
}

func TestSniff(t *testing.T) {
	Convey("Given image bytes", t, func() {
		kind, err := Sniff(gradientPNG(4, 4))
		So(err, ShouldBeNil)
		So(kind, ShouldEqual, "image/png")
	})
}

func TestReadGPS(t *testing.T) {
	Convey("Given an image without EXIF", t, func() {
		So(ReadGPS(gradientPNG(4, 4)), ShouldBeNil)
		So(ReadGPS(nil), ShouldBeNil)
	})
}
