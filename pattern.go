package kmsdisplay

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/srlehn/kmsdisplay/display"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/fimg"
)

// SMPTE-like bar colors
var patternBars = [][3]float64{
	{0.75, 0.75, 0.75},
	{0.75, 0.75, 0},
	{0, 0.75, 0.75},
	{0, 0.75, 0},
	{0.75, 0, 0.75},
	{0.75, 0, 0},
	{0, 0, 0.75},
}

// pattern keeps a drawing context per connector. A connector's frames are
// all drawn on its Output's worker thread.
type pattern struct {
	font   *truetype.Font
	mu     sync.Mutex
	states map[uint32]*patternState
}

type patternState struct {
	dc    *gg.Context
	img   *image.RGBA
	face  font.Face
	frame uint64
}

// TestPattern draws color bars, a sweeping marker and the Output's
// connector, mode and frame number.
func TestPattern() display.FrameFunc {
	// no text without font
	f, _ := truetype.Parse(goregular.TTF)
	p := &pattern{
		font:   f,
		states: make(map[uint32]*patternState),
	}
	return p.draw
}

func (p *pattern) state(out *display.Output, size image.Point) *patternState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[out.ConnectorID()]
	if ok && st.img.Bounds().Size() == size {
		return st
	}
	if ok && st.face != nil {
		_ = st.face.Close()
	}
	st = &patternState{img: image.NewRGBA(image.Rectangle{Max: size})}
	st.dc = gg.NewContextForRGBA(st.img)
	if p.font != nil {
		st.face = truetype.NewFace(p.font, &truetype.Options{Size: float64(max(size.Y/24, 8))})
		st.dc.SetFontFace(st.face)
	}
	p.states[out.ConnectorID()] = st
	return st
}

func (p *pattern) draw(out *display.Output, canvas draw.Image) error {
	if out == nil || canvas == nil {
		return errors.NilParam()
	}
	size := canvas.Bounds().Size()
	if size.X <= 0 || size.Y <= 0 {
		return nil
	}
	st := p.state(out, size)
	dc := st.dc
	w, h := float64(size.X), float64(size.Y)
	barW := w / float64(len(patternBars))
	for i, c := range patternBars {
		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawRectangle(float64(i)*barW, 0, barW+1, h*2/3)
		dc.Fill()
	}
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.DrawRectangle(0, h*2/3, w, h/3)
	dc.Fill()
	// one sweep across the screen every 4 seconds at 60Hz
	x := float64(st.frame%240) / 240 * w
	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(x, h*2/3, w/100+1, h/3)
	dc.Fill()
	if st.face != nil {
		mode := out.Mode()
		label := fmt.Sprintf(`connector %d  crtc %d  %s  frame %d`, out.ConnectorID(), out.CRTC(), mode.String(), st.frame)
		dc.DrawStringAnchored(label, w/2, h*5/6, 0.5, 0.5)
	}
	st.frame++
	if dst, ok := canvas.(*fimg.XRGB); ok {
		dst.CopyRGBA(st.img)
		return nil
	}
	draw.Draw(canvas, canvas.Bounds(), st.img, image.Point{}, draw.Src)
	return nil
}
