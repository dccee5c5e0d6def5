package rdefault_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srlehn/kmsdisplay/render"
	"github.com/srlehn/kmsdisplay/resize/bild"
	"github.com/srlehn/kmsdisplay/resize/gift"
	"github.com/srlehn/kmsdisplay/resize/imaging"
	"github.com/srlehn/kmsdisplay/resize/nfnt"
	"github.com/srlehn/kmsdisplay/resize/rdefault"
	"github.com/srlehn/kmsdisplay/resize/rez"
	"github.com/srlehn/kmsdisplay/resize/xdraw"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 0x80, A: 0xff})
		}
	}
	return img
}

func TestResizers(t *testing.T) {
	resizers := map[string]render.Resizer{
		`bild`:     &bild.Resizer{},
		`gift`:     &gift.Resizer{},
		`imaging`:  &imaging.Resizer{},
		`nfnt`:     &nfnt.Resizer{},
		`rez`:      &rez.Resizer{},
		`xdraw`:    xdraw.CatmullRom(),
		`rdefault`: &rdefault.Resizer{},
	}
	src := testImage()
	for name, r := range resizers {
		t.Run(name, func(t *testing.T) {
			for _, size := range []image.Point{{32, 24}, {128, 96}, {100, 30}} {
				img, err := r.Resize(src, size)
				require.NoError(t, err)
				require.NotNil(t, img)
				assert.Equal(t, size, img.Bounds().Size())
			}
			_, err := r.Resize(src, image.Point{0, 10})
			assert.ErrorIs(t, err, render.ErrInvalidSize)
			_, err = r.Resize(nil, image.Point{10, 10})
			assert.ErrorIs(t, err, render.ErrNilImage)
		})
	}
}

func TestRezConvertsSource(t *testing.T) {
	src := image.NewGray16(image.Rect(0, 0, 20, 20))
	img, err := (&rez.Resizer{}).Resize(src, image.Point{10, 10})
	require.NoError(t, err)
	assert.Equal(t, image.Point{10, 10}, img.Bounds().Size())
}

func TestFill(t *testing.T) {
	img, err := imaging.Fill(testImage(), image.Point{40, 40})
	require.NoError(t, err)
	assert.Equal(t, image.Point{40, 40}, img.Bounds().Size())
}
