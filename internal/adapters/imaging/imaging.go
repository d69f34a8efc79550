// Package imaging validates uploaded photos, reads their GPS tags and
// compresses them to a JPEG byte budget.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register decoder
	"math"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/okian/mapthewalls/internal/domain/types"
)

// Defaults.
const (
	DefaultMaxUpload    = 3_000_000
	DefaultBudget       = 380 * 1024
	DefaultMaxDimension = 1600
	DefaultMaxPixels    = 40_000_000
	shrinkFactor        = 0.85
	minDimension        = 64
)

// Sentinel kinds for upload errors.
var (
	ErrEmpty           = errors.New("empty image")
	ErrTooLarge        = errors.New("image too large")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrCorrupt         = errors.New("image could not be decoded")
)

// qualities are tried in order before shrinking.
var qualities = []int{82, 74, 66, 58, 50, 40}

var accepted = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Result is a processed photo, always JPEG.
type Result struct {
	Data         []byte
	ContentType  string
	Ext          string
	Width        int
	Height       int
	OriginalType string
	GPS          *types.GPS
}

// Processor turns raw uploads into stored photos.
type Processor struct {
	maxUpload    int
	budget       int
	maxDimension int
	maxPixels    int
}

// New creates a Processor with the default limits.
func New(opts ...Option) *Processor {
	p := &Processor{
		maxUpload:    DefaultMaxUpload,
		budget:       DefaultBudget,
		maxDimension: DefaultMaxDimension,
		maxPixels:    DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sniff returns the detected media type of data or ErrUnsupportedType.
func Sniff(data []byte) (string, error) {
	m := mimetype.Detect(data)
	for t := m; t != nil; t = t.Parent() {
		if accepted[t.String()] {
			return t.String(), nil
		}
	}
	if m.Is("image/heic") || m.Is("image/heif") {
		return "", fmt.Errorf("%w: %s, convert to JPEG before uploading", ErrUnsupportedType, m.String())
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, m.String())
}

// Process validates data and compresses it to the byte budget.
func (p *Processor) Process(data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, ErrEmpty
	}
	if len(data) > p.maxUpload {
		return Result{}, fmt.Errorf("%w: %s exceeds %s", ErrTooLarge,
			humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(p.maxUpload)))
	}
	kind, err := Sniff(data)
	if err != nil {
		return Result{}, err
	}

	// the header is enough to refuse images that would not fit in memory
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Result{}, fmt.Errorf("%w: %dx%d", ErrCorrupt, cfg.Width, cfg.Height)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > int64(p.maxPixels) {
		return Result{}, fmt.Errorf("%w: %dx%d is %s pixels, limit %s", ErrTooLarge,
			cfg.Width, cfg.Height, humanize.Comma(px), humanize.Comma(int64(p.maxPixels)))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	out, err := p.compress(img)
	if err != nil {
		return Result{}, err
	}
	b := out.Bounds()
	return Result{
		Data:         out.data,
		ContentType:  "image/jpeg",
		Ext:          "jpg",
		Width:        b.Dx(),
		Height:       b.Dy(),
		OriginalType: kind,
		GPS:          ReadGPS(data),
	}, nil
}

type encoded struct {
	image.Image
	data []byte
}

// compress downsizes to maxDimension, then lowers quality, then shrinks
// until the encoding fits the budget. The last attempt is returned if
// nothing fits above minDimension.
func (p *Processor) compress(src image.Image) (encoded, error) {
	img := fit(src, p.maxDimension)
	for {
		var last []byte
		for _, q := range qualities {
			data, err := encodeJPEG(img, q)
			if err != nil {
				return encoded{}, err
			}
			last = data
			if len(data) <= p.budget {
				return encoded{Image: img, data: data}, nil
			}
		}
		b := img.Bounds()
		w := int(math.Round(float64(b.Dx()) * shrinkFactor))
		h := int(math.Round(float64(b.Dy()) * shrinkFactor))
		if w < minDimension || h < minDimension {
			return encoded{Image: img, data: last}, nil
		}
		img = scale(img, w, h)
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales img down so neither side exceeds maxDim. It never enlarges.
func fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	s := math.Min(1, math.Min(float64(maxDim)/float64(w), float64(maxDim)/float64(h)))
	if s >= 1 {
		return img
	}
	return scale(img, int(math.Round(float64(w)*s)), int(math.Round(float64(h)*s)))
}

func scale(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, max(1, w), max(1, h)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// ReadGPS returns the EXIF location of data, or nil when absent or unreadable.
func ReadGPS(data []byte) *types.GPS {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	lat, lng, err := x.LatLong()
	if err != nil || math.IsNaN(lat) || math.IsNaN(lng) {
		return nil
	}
	return &types.GPS{Lat: lat, Lng: lng}
}
