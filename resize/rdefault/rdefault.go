// Package rdefault picks a scaler for the wallpaper renderer.
package rdefault

import (
	"image"
	"runtime"

	"github.com/srlehn/kmsdisplay/render"
	"github.com/srlehn/kmsdisplay/resize/rez"
	"github.com/srlehn/kmsdisplay/resize/xdraw"
)

type Resizer struct{}

var _ render.Resizer = (*Resizer)(nil)

func (r *Resizer) Resize(img image.Image, size image.Point) (image.Image, error) {
	if err := render.CheckResize(img, size); err != nil {
		return nil, err
	}
	if runtime.GOARCH != `amd64` {
		return xdraw.ApproxBiLinear().Resize(img, size)
	}
	switch img.(type) {
	case *image.YCbCr, *image.RGBA, *image.NRGBA, *image.Gray:
		// use SIMD assembly if possible
		imgRet, err := (&rez.Resizer{}).Resize(img, size)
		if err == nil {
			return imgRet, nil
		}
	}
	return xdraw.ApproxBiLinear().Resize(img, size)
}
