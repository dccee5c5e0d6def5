package kmsdisplay

import (
	"image"
	"image/draw"
	"math"
	"sync"

	"github.com/srlehn/kmsdisplay/display"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/fimg"
	"github.com/srlehn/kmsdisplay/render"
)

// Wallpaper shows one image on every Output, scaled to cover the mode and
// cropped to the center. Scaled copies are cached per mode size.
type Wallpaper struct {
	img     image.Image
	resizer render.Resizer
	mu      sync.Mutex
	scaled  map[image.Point]*fimg.XRGB
}

// NewWallpaper uses the default resizer if rsz is nil.
func NewWallpaper(img image.Image, rsz render.Resizer) (*Wallpaper, error) {
	if img == nil {
		return nil, errors.NilParam()
	}
	if img.Bounds().Empty() {
		return nil, errors.New(render.ErrInvalidSize)
	}
	if rsz == nil {
		rsz = resizer
	}
	return &Wallpaper{
		img:     img,
		resizer: rsz,
		scaled:  make(map[image.Point]*fimg.XRGB),
	}, nil
}

// FrameFunc is meant for display.SetFrameFunc.
func (w *Wallpaper) FrameFunc() display.FrameFunc {
	return func(out *display.Output, canvas draw.Image) error {
		return w.Draw(canvas)
	}
}

// Draw fills canvas with the wallpaper scaled to the canvas size.
func (w *Wallpaper) Draw(canvas draw.Image) error {
	if w == nil || canvas == nil {
		return errors.NilParam()
	}
	src, err := w.forSize(canvas.Bounds().Size())
	if err != nil {
		return err
	}
	if dst, ok := canvas.(*fimg.XRGB); ok {
		dst.CopyFrom(src)
		return nil
	}
	draw.Draw(canvas, canvas.Bounds(), src, image.Point{}, draw.Src)
	return nil
}

func (w *Wallpaper) forSize(size image.Point) (*fimg.XRGB, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.scaled[size]; ok {
		return s, nil
	}
	cover := CoverSize(w.img.Bounds().Size(), size)
	img, err := w.resizer.Resize(w.img, cover)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't scale wallpaper`)
	}
	crop := image.Rectangle{Max: size}.Add(img.Bounds().Min).Add(cover.Sub(size).Div(2))
	var s *fimg.XRGB
	if si, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		s = fimg.Convert(si.SubImage(crop))
	} else {
		s = fimg.NewXRGB(image.Rectangle{Max: size})
		draw.Draw(s, s.Bounds(), img, crop.Min, draw.Src)
	}
	w.scaled[size] = s
	return s, nil
}

// CoverSize is the smallest size with the aspect ratio of src that
// covers dst.
func CoverSize(src, dst image.Point) image.Point {
	if src.X <= 0 || src.Y <= 0 {
		return dst
	}
	scale := math.Max(float64(dst.X)/float64(src.X), float64(dst.Y)/float64(src.Y))
	return image.Point{
		X: max(dst.X, int(math.Ceil(float64(src.X)*scale))),
		Y: max(dst.Y, int(math.Ceil(float64(src.Y)*scale))),
	}
}
