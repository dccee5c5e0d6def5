// Package kmsdisplay drives every connected monitor of a DRM device with
// double buffered, page flipped Outputs.
//
//	m, err := kmsdisplay.Open(``, display.SetFrameFunc(kmsdisplay.TestPattern()))
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//	return m.Run(ctx)
package kmsdisplay

import (
	"image"
	"os"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"github.com/srlehn/kmsdisplay/display"
	"github.com/srlehn/kmsdisplay/internal/consts"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/render"
	_ "github.com/srlehn/kmsdisplay/render/soft"
	"github.com/srlehn/kmsdisplay/resize/bild"
	"github.com/srlehn/kmsdisplay/resize/caire"
	"github.com/srlehn/kmsdisplay/resize/gift"
	"github.com/srlehn/kmsdisplay/resize/imaging"
	"github.com/srlehn/kmsdisplay/resize/nfnt"
	"github.com/srlehn/kmsdisplay/resize/rdefault"
	"github.com/srlehn/kmsdisplay/resize/rez"
	"github.com/srlehn/kmsdisplay/resize/xdraw"
)

const DefaultDevicePath = consts.DefaultDevicePath

var (
	// chosen defaults
	backendName                = consts.DefaultBackendName
	resizer     render.Resizer = &rdefault.Resizer{}
)

var (
	DefaultConfig = display.Options{
		display.SetSLogger(nil, true),
		display.SetRenderBackend(backendName),
		display.SetPollInterval(display.DefaultPollInterval),
	}
)

// Open opens the device at path (DefaultDevicePath if empty) with
// DefaultConfig followed by opts.
func Open(path string, opts ...display.Option) (*display.Manager, error) {
	if len(path) == 0 {
		path = DefaultDevicePath
	}
	return display.Open(path, append([]display.Option{DefaultConfig}, opts...)...)
}

// DefaultResizer is the scaler used when none is named.
func DefaultResizer() render.Resizer { return resizer }

var resizers = map[string]func() render.Resizer{
	`default`:    func() render.Resizer { return &rdefault.Resizer{} },
	`bild`:       func() render.Resizer { return &bild.Resizer{} },
	`caire`:      func() render.Resizer { return &caire.Resizer{} },
	`gift`:       func() render.Resizer { return &gift.Resizer{} },
	`imaging`:    func() render.Resizer { return &imaging.Resizer{} },
	`nfnt`:       func() render.Resizer { return &nfnt.Resizer{} },
	`rez`:        func() render.Resizer { return &rez.Resizer{} },
	`bilinear`:   xdraw.BiLinear,
	`catmullrom`: xdraw.CatmullRom,
	`nearest`:    xdraw.NearestNeighbor,
}

// Resizers lists the names accepted by ResizerByName.
func Resizers() []string {
	names := make([]string, 0, len(resizers))
	for name := range resizers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func ResizerByName(name string) (render.Resizer, error) {
	if len(name) == 0 {
		return resizer, nil
	}
	newResizer, ok := resizers[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf(`unknown resizer %q (available: %s)`, name, strings.Join(Resizers(), `, `))
	}
	return newResizer(), nil
}

// LoadImage decodes the image file at path, honoring its EXIF orientation.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err)
	}
	mime, err := mimetype.DetectReader(f)
	_ = f.Close()
	if err != nil {
		return nil, errors.New(err)
	}
	if !strings.HasPrefix(mime.String(), `image/`) {
		return nil, errors.Errorf(`%s: not an image (%s)`, path, mime.String())
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't decode `+path)
	}
	return img, nil
}
