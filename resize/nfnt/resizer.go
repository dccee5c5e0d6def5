package nfnt

import (
	"image"

	"github.com/nfnt/resize"

	"github.com/srlehn/kmsdisplay/render"
)

// Resizer uses "github.com/nfnt/resize"
type Resizer struct{}

var _ render.Resizer = (*Resizer)(nil)

func (r *Resizer) Resize(img image.Image, size image.Point) (image.Image, error) {
	if err := render.CheckResize(img, size); err != nil {
		return nil, err
	}
	return resize.Resize(uint(size.X), uint(size.Y), img, resize.Lanczos3), nil
}
