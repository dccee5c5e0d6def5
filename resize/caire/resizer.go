// Seam Carving for Content-Aware Image Resizing
package caire

import (
	"image"
	"image/draw"

	"github.com/esimov/caire"

	"github.com/srlehn/kmsdisplay/render"
)

type Resizer struct{}

var _ render.Resizer = (*Resizer)(nil)

func (r *Resizer) Resize(img image.Image, size image.Point) (image.Image, error) {
	if err := render.CheckResize(img, size); err != nil {
		return nil, err
	}
	p := &caire.Processor{
		BlurRadius:     1, // or ie. 4
		SobelThreshold: 4, // or ie. 2
		NewWidth:       size.X,
		NewHeight:      size.Y,
		ShapeType:      `circle`,
	}
	nimg, ok := img.(*image.NRGBA)
	if !ok {
		b := img.Bounds()
		nimg = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nimg, nimg.Bounds(), img, b.Min, draw.Src)
	}
	return p.Resize(nimg)
}
