// Package xdraw provides a resizer implementation using golang.org/x/image/draw.
// ApproxBiLinear is recommended for balanced speed/quality scaling.
package xdraw

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/srlehn/kmsdisplay/render"
)

// resizer uses "golang.org/x/image/draw"
type resizer struct {
	scaler draw.Scaler
}

var _ render.Resizer = (*resizer)(nil)

// ApproxBiLinear creates a new resizer with ApproxBiLinear scaling (balanced speed/quality).
func ApproxBiLinear() render.Resizer {
	return &resizer{scaler: draw.ApproxBiLinear}
}

// BiLinear creates a new resizer with BiLinear scaling (higher quality, slower).
func BiLinear() render.Resizer {
	return &resizer{scaler: draw.BiLinear}
}

// CatmullRom creates a new resizer with CatmullRom scaling (highest quality, slowest).
func CatmullRom() render.Resizer {
	return &resizer{scaler: draw.CatmullRom}
}

// NearestNeighbor creates a new resizer for pixel art and test patterns.
func NearestNeighbor() render.Resizer {
	return &resizer{scaler: draw.NearestNeighbor}
}

// Resize scales an image to the target size using the configured scaler.
// The result is opaque-composited (draw.Src), scan-out has no alpha.
func (r *resizer) Resize(img image.Image, size image.Point) (image.Image, error) {
	if err := render.CheckResize(img, size); err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	r.scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}
