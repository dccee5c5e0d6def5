package bild

import (
	"image"

	"github.com/anthonynsimon/bild/transform"

	"github.com/srlehn/kmsdisplay/render"
)

// Resizer uses "github.com/anthonynsimon/bild/transform".
// The zero value uses Lanczos resampling.
type Resizer struct {
	Filter transform.ResampleFilter
}

var _ render.Resizer = (*Resizer)(nil)

func (r *Resizer) Resize(img image.Image, size image.Point) (image.Image, error) {
	if err := render.CheckResize(img, size); err != nil {
		return nil, err
	}
	filter := transform.Lanczos
	if r != nil && r.Filter.Support > 0 {
		filter = r.Filter
	}
	return transform.Resize(img, size.X, size.Y, filter), nil
}
