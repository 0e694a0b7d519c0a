// Package imaging decodes and verifies fetched image bytes.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register GIF
	"image/jpeg"
	_ "image/png" // register PNG

	_ "golang.org/x/image/bmp" // register BMP
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF
	_ "golang.org/x/image/webp" // register WebP

	"github.com/JakeFAU/randimg/internal/picker"
)

// MaxDimension rejects images whose declared side exceeds it; decoding such a
// header would allocate an unbounded pixel buffer.
const MaxDimension = 16384

// ErrTooLarge is returned for images with a side above MaxDimension.
var ErrTooLarge = errors.New("image dimensions exceed limit")

// Decoder implements picker.Decoder with the standard and x/image codecs.
type Decoder struct {
	MaxDimension int
}

// NewDecoder returns a Decoder using MaxDimension.
func NewDecoder() *Decoder {
	return &Decoder{MaxDimension: MaxDimension}
}

// Decode reads the header, checks the declared size, then decodes every pixel
// so truncated or corrupt payloads are rejected.
func (d *Decoder) Decode(data []byte) (picker.DecodedImage, error) {
	if len(data) == 0 {
		return picker.DecodedImage{}, errors.New("empty image body")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return picker.DecodedImage{}, fmt.Errorf("decode config: %w", err)
	}
	limit := d.MaxDimension
	if limit <= 0 {
		limit = MaxDimension
	}
	if cfg.Width > limit || cfg.Height > limit {
		return picker.DecodedImage{}, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return picker.DecodedImage{}, fmt.Errorf("decode %s: %w", format, err)
	}
	b := img.Bounds()
	return picker.DecodedImage{Image: img, Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}

// Downscale fits img within maxSide on its longer side, keeping the aspect ratio.
// Images already small enough are returned unchanged.
func Downscale(img image.Image, maxSide int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxSide <= 0 || (width <= maxSide && height <= maxSide) {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSide
		newHeight = max(1, int(float64(height)*float64(maxSide)/float64(width)))
	} else {
		newHeight = maxSide
		newWidth = max(1, int(float64(width)*float64(maxSide)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// EncodeJPEG re-encodes img for upload to remote detectors.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
