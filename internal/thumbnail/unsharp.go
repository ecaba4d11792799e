package thumbnail

import (
	"image"

	"github.com/disintegration/imaging"
)

// UnsharpMask sharpens img: out = orig + amount * (orig - gaussian(orig, sigma)),
// each colour channel clamped to [0, 255]. Alpha is left untouched.
// The result always starts at the origin, sub-images included.
func UnsharpMask(img *image.NRGBA, sigma, amount float64) *image.NRGBA {
	src := imaging.Clone(img)
	blurred := imaging.Blur(src, sigma)
	out := imaging.Clone(src)

	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			orig := float64(src.Pix[i+c])
			v := orig + amount*(orig-float64(blurred.Pix[i+c]))
			out.Pix[i+c] = clampByte(v)
		}
	}
	return out
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
