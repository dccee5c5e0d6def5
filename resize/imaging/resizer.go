package imaging

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/srlehn/kmsdisplay/render"
)

// Resizer uses "github.com/disintegration/imaging"
type Resizer struct{}

var _ render.Resizer = (*Resizer)(nil)

func (r *Resizer) Resize(img image.Image, size image.Point) (image.Image, error) {
	if err := render.CheckResize(img, size); err != nil {
		return nil, err
	}
	return imaging.Resize(img, size.X, size.Y, imaging.Lanczos), nil
}

// Fill scales and crops img to cover size, keeping the aspect ratio.
func Fill(img image.Image, size image.Point) (image.Image, error) {
	if err := render.CheckResize(img, size); err != nil {
		return nil, err
	}
	return imaging.Fill(img, size.X, size.Y, imaging.Center, imaging.Lanczos), nil
}

// Open decodes the image at path and applies its EXIF orientation.
func Open(path string) (image.Image, error) {
	return imaging.Open(path, imaging.AutoOrientation(true))
}
