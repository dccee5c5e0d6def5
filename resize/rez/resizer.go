package rez

import (
	"image"
	"image/draw"

	"github.com/bamiaux/rez"

	"github.com/srlehn/kmsdisplay/render"
)

// Resizer uses "github.com/bamiaux/rez". Sources other than
// *image.NRGBA are converted to NRGBA first.
type Resizer struct{}

var _ render.Resizer = (*Resizer)(nil)

func (r *Resizer) Resize(img image.Image, size image.Point) (image.Image, error) {
	if err := render.CheckResize(img, size); err != nil {
		return nil, err
	}
	src, ok := img.(*image.NRGBA)
	if !ok {
		b := img.Bounds()
		src = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)
	}
	m := image.NewNRGBA(image.Rectangle{Max: size})
	if err := rez.Convert(m, src, rez.NewBilinearFilter()); err != nil {
		return nil, err
	}
	return m, nil
}
