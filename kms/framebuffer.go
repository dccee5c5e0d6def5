package kms

import (
	"context"
	"sync"

	"github.com/srlehn/kmsdisplay/internal/errors"
)

const (
	fbDepth = 24
	fbBPP   = 32
)

// Framebuffer is a kernel scan-out descriptor over one buffer handle,
// 32 bits per pixel with 24 significant bits.
type Framebuffer struct {
	dev    Device
	id     uint32
	width  int
	height int
	pitch  uint32
	handle uint32
	once   sync.Once
}

func NewFramebuffer(dev Device, width, height int, pitch, handle uint32) (*Framebuffer, error) {
	if dev == nil {
		return nil, errors.NilParam()
	}
	if width <= 0 || height <= 0 || width > 0xffff || height > 0xffff {
		return nil, errors.Errorf(`couldn't add framebuffer: invalid size %dx%d`, width, height)
	}
	id, err := dev.AddFB(uint16(width), uint16(height), fbDepth, fbBPP, pitch, handle)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't add framebuffer`)
	}
	return &Framebuffer{
		dev:    dev,
		id:     id,
		width:  width,
		height: height,
		pitch:  pitch,
		handle: handle,
	}, nil
}

func (f *Framebuffer) ID() uint32     { return f.id }
func (f *Framebuffer) Width() int     { return f.width }
func (f *Framebuffer) Height() int    { return f.height }
func (f *Framebuffer) Pitch() uint32  { return f.pitch }
func (f *Framebuffer) Handle() uint32 { return f.handle }

// Close removes the kernel framebuffer. Only the first call has an effect.
func (f *Framebuffer) Close() error {
	if f == nil {
		return nil
	}
	var err error
	f.once.Do(func() {
		if e := f.dev.RmFB(f.id); e != nil {
			err = errors.WrapPrefix(e, `couldn't remove framebuffer`)
		}
	})
	return err
}

// SetMode synchronously programs crtcID to scan out fb on the connector.
func SetMode(dev Device, fb *Framebuffer, connectorID, crtcID uint32, mode ModeInfo) error {
	if dev == nil || fb == nil {
		return errors.NilParam()
	}
	if err := dev.SetCrtc(crtcID, fb.ID(), []uint32{connectorID}, &mode); err != nil {
		return errors.WrapPrefix(err, `couldn't set crtc mode`)
	}
	return nil
}

// BeginPageFlip requests fb to be shown on crtcID at the next vblank.
// userData is returned with the completion event.
func BeginPageFlip(dev Device, fb *Framebuffer, crtcID uint32, userData uint64) error {
	if dev == nil || fb == nil {
		return errors.NilParam()
	}
	if err := dev.PageFlip(crtcID, fb.ID(), PageFlipEvent, userData); err != nil {
		return errors.WrapPrefix(err, `couldn't request page flip`)
	}
	return nil
}

// HandleEvent blocks for one batch of device events and calls onFlip for
// every page flip completion in it.
func HandleEvent(ctx context.Context, dev Device, onFlip func(Event)) error {
	if dev == nil {
		return errors.NilParam()
	}
	evs, err := dev.ReadEvents(ctx)
	if err != nil {
		return errors.WrapPrefix(err, `couldn't read drm events`)
	}
	for _, ev := range evs {
		if ev.Type == EventFlipComplete && onFlip != nil {
			onFlip(ev)
		}
	}
	return nil
}
