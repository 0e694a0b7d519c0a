package person

import (
	"context"
	"image"
	"image/color"

	"github.com/JakeFAU/randimg/internal/imaging"
)

const (
	// DefaultMaxSide bounds the resolution analysed per image.
	DefaultMaxSide = 720
	// DefaultSkinRatio is the share of skin-toned pixels that counts as a person.
	DefaultSkinRatio = 0.06
)

// Skin is a local heuristic: an image shows a person when enough of its
// pixels fall in the YCbCr skin-tone range. It needs no network or model.
type Skin struct {
	MaxSide int
	Ratio   float64
}

// NewSkin returns a Skin detector; zero values select the defaults.
func NewSkin(maxSide int, ratio float64) *Skin {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if ratio <= 0 {
		ratio = DefaultSkinRatio
	}
	return &Skin{MaxSide: maxSide, Ratio: ratio}
}

// HasPerson implements picker.PersonDetector.
func (s *Skin) HasPerson(ctx context.Context, img image.Image) (bool, error) {
	if img == nil {
		return false, nil
	}
	scaled := imaging.Downscale(img, s.MaxSide)
	return SkinRatio(ctx, scaled) >= s.Ratio, ctx.Err()
}

// SkinRatio returns the fraction of opaque pixels classified as skin.
func SkinRatio(ctx context.Context, img image.Image) float64 {
	b := img.Bounds()
	var total, skin int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		if y%64 == 0 && ctx.Err() != nil {
			return 0
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if a < 0x8000 {
				continue
			}
			total++
			if isSkin(uint8(r>>8), uint8(g>>8), uint8(bl>>8)) {
				skin++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(skin) / float64(total)
}

func isSkin(r, g, b uint8) bool {
	y, cb, cr := color.RGBToYCbCr(r, g, b)
	return y > 40 && cb >= 77 && cb <= 127 && cr >= 133 && cr <= 173
}
