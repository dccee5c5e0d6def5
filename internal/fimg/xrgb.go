package fimg

import (
	"image"
	"image/color"
)

// XRGB is an image in the DRM XRGB8888 layout: one little endian 32 bit word
// per pixel, so the bytes in memory are B, G, R, X. The X byte is ignored on read.
type XRGB struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func NewXRGB(r image.Rectangle) *XRGB {
	return &XRGB{
		Pix:    make([]byte, 4*r.Dx()*r.Dy()),
		Stride: 4 * r.Dx(),
		Rect:   r,
	}
}

// WrapXRGB uses pix as backing memory, e.g. a mapped scan-out buffer.
// Rows may be padded: stride is in bytes and must be at least 4*width.
func WrapXRGB(pix []byte, width, height, stride int) *XRGB {
	return &XRGB{
		Pix:    pix,
		Stride: stride,
		Rect:   image.Rect(0, 0, width, height),
	}
}

func (p *XRGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *XRGB) Bounds() image.Rectangle { return p.Rect }

func (p *XRGB) ColorModel() color.Model { return color.RGBAModel }

func (p *XRGB) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{p.Pix[i+2], p.Pix[i+1], p.Pix[i], 0xff}
}

func (p *XRGB) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	r, g, b, _ := c.RGBA()
	i := p.PixOffset(x, y)
	p.Pix[i] = uint8(b >> 8)
	p.Pix[i+1] = uint8(g >> 8)
	p.Pix[i+2] = uint8(r >> 8)
	p.Pix[i+3] = 0xff
}

// Fill sets every pixel to c.
func (p *XRGB) Fill(c color.Color) {
	if p == nil || p.Rect.Empty() {
		return
	}
	r, g, b, _ := c.RGBA()
	px := [4]byte{uint8(b >> 8), uint8(g >> 8), uint8(r >> 8), 0xff}
	w := p.Rect.Dx() * 4
	// first row pixel by pixel, the rest copied from it
	row0 := p.Pix[:w]
	for i := 0; i < w; i += 4 {
		copy(row0[i:i+4], px[:])
	}
	for y := 1; y < p.Rect.Dy(); y++ {
		off := y * p.Stride
		copy(p.Pix[off:off+w], row0)
	}
}

// Convert returns src in the XRGB layout, anchored at the origin.
// Alpha is dropped, *image.NRGBA pixels are taken unpremultiplied.
func Convert(src image.Image) *XRGB {
	b := src.Bounds()
	dst := NewXRGB(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch s := src.(type) {
	case *XRGB:
		dst.CopyFrom(s)
	case *image.RGBA:
		dst.swizzle(s.Pix[s.PixOffset(b.Min.X, b.Min.Y):], s.Stride, b.Dx(), b.Dy())
	case *image.NRGBA:
		dst.swizzle(s.Pix[s.PixOffset(b.Min.X, b.Min.Y):], s.Stride, b.Dx(), b.Dy())
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				dst.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	}
	return dst
}

// CopyRGBA copies the overlapping top-left area of src.
func (p *XRGB) CopyRGBA(src *image.RGBA) {
	if p == nil || src == nil {
		return
	}
	b := src.Bounds()
	p.swizzle(src.Pix[src.PixOffset(b.Min.X, b.Min.Y):], src.Stride, b.Dx(), b.Dy())
}

// swizzle copies w×h RGBA ordered pixels into p, clipped to p.
func (p *XRGB) swizzle(pix []byte, stride, w, h int) {
	w, h = min(w, p.Rect.Dx()), min(h, p.Rect.Dy())
	for y := 0; y < h; y++ {
		si, di := y*stride, y*p.Stride
		for x := 0; x < w; x++ {
			p.Pix[di], p.Pix[di+1], p.Pix[di+2], p.Pix[di+3] = pix[si+2], pix[si+1], pix[si], 0xff
			si += 4
			di += 4
		}
	}
}

// CopyFrom copies the overlapping top-left area of src row by row.
func (p *XRGB) CopyFrom(src *XRGB) {
	if p == nil || src == nil {
		return
	}
	w := min(p.Rect.Dx(), src.Rect.Dx()) * 4
	h := min(p.Rect.Dy(), src.Rect.Dy())
	for y := 0; y < h; y++ {
		copy(p.Pix[y*p.Stride:y*p.Stride+w], src.Pix[y*src.Stride:y*src.Stride+w])
	}
}
