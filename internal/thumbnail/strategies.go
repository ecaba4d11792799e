package thumbnail

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/facewatch/internal/facematch"
)

// Tier classifies a crop by its smaller side.
type Tier string

const (
	TierTiny   Tier = "tiny"   // < 80 px
	TierSmall  Tier = "small"  // 80-159 px
	TierMedium Tier = "medium" // 160-300 px
	TierLarge  Tier = "large"  // > 300 px
)

// TierFor returns the tier of a crop whose smaller side is minSide pixels.
func TierFor(minSide int) Tier {
	switch {
	case minSide < 80:
		return TierTiny
	case minSide < 160:
		return TierSmall
	case minSide <= 300:
		return TierMedium
	default:
		return TierLarge
	}
}

type tierParams struct {
	filter imaging.ResampleFilter
	sigma  float64 // unsharp blur radius
	amount float64 // unsharp strength, 0 disables sharpening
}

var tiers = map[Tier]tierParams{
	TierTiny:   {filter: imaging.Lanczos, sigma: 1.0, amount: 1.5},
	TierSmall:  {filter: imaging.Lanczos, sigma: 1.0, amount: 0.8},
	TierMedium: {filter: imaging.CatmullRom, sigma: 0.8, amount: 0.4},
	TierLarge:  {filter: imaging.Box},
}

// Adaptive resizes with a filter chosen by crop size and sharpens small
// crops to recover detail lost in upsampling.
type Adaptive struct{}

func (Adaptive) Name() string { return "adaptive" }

func (Adaptive) Apply(_ context.Context, img image.Image, size int) (*image.NRGBA, error) {
	p := tiers[TierFor(facematch.MinSide(img.Bounds()))]
	out := imaging.Fill(img, size, size, imaging.Center, p.filter)
	if p.amount > 0 {
		out = UnsharpMask(out, p.sigma, p.amount)
	}
	return out, nil
}

// SuperResolution upscales crops smaller than Below before handing them to Next.
type SuperResolution struct {
	Upscaler Upscaler
	Below    int
	Next     Strategy
}

func (SuperResolution) Name() string { return "super_resolution" }

func (s SuperResolution) Apply(ctx context.Context, img image.Image, size int) (*image.NRGBA, error) {
	if s.Upscaler == nil || facematch.MinSide(img.Bounds()) >= s.Below {
		return nil, errSkipped
	}
	up, err := s.Upscaler.Upscale(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("upscaling crop: %w", err)
	}
	if up == nil || up.Bounds().Empty() {
		return nil, fmt.Errorf("upscaler returned an empty image")
	}
	return s.Next.Apply(ctx, up, size)
}

// Baseline stretches the crop to size x size with a plain box (area) filter.
// It is the final strategy and cannot fail on a non-empty image.
type Baseline struct{}

func (Baseline) Name() string { return "baseline" }

func (Baseline) Apply(_ context.Context, img image.Image, size int) (*image.NRGBA, error) {
	return imaging.Resize(img, size, size, imaging.Box), nil
}
