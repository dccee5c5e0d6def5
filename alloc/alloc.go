// Package alloc implements scan-out capable swapchain surfaces on top of
// kernel dumb buffers.
package alloc

import (
	"sync"

	"github.com/srlehn/kmsdisplay/internal/consts"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/kms"
)

var (
	ErrNoFreeBuffer       = consts.ErrNoFreeBuffer
	ErrNoFrontBuffer      = consts.ErrNoFrontBuffer
	ErrAlreadyReleased    = consts.ErrAlreadyReleased
	ErrUnsupportedFormat  = consts.ErrUnsupportedFormat
	ErrUnsupportedUsage   = consts.ErrUnsupportedUsage
	ErrSurfaceClosed      = consts.ErrSurfaceClosed
	ErrInvalidSurfaceSize = consts.ErrInvalidSurfaceSize
)

// FormatXRGB8888 is the DRM fourcc 'XR24': 32 bit, 24 bits of color, no alpha.
const FormatXRGB8888 uint32 = 'X' | 'R'<<8 | '2'<<16 | '4'<<24

// Usage flags of a surface.
type Usage uint32

const (
	UseScanout   Usage = 1 << 0
	UseRendering Usage = 1 << 2
)

// DefaultMaxBuffers is the number of buffer objects a surface may hold:
// one being shown, one waiting for the flip and one being rendered into.
const DefaultMaxBuffers = 3

const bitsPerPixel = 32

// Device is an allocation context bound to a DRM device.
type Device struct {
	dev      kms.Device
	mu       sync.Mutex
	surfaces map[*Surface]struct{}
	closed   bool
}

// NewDevice requires the dumb buffer capability.
func NewDevice(dev kms.Device) (*Device, error) {
	if dev == nil {
		return nil, errors.NilParam()
	}
	v, err := dev.GetCap(kms.CapDumbBuffer)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't query dumb buffer capability`)
	}
	if v == 0 {
		return nil, errors.New(kms.ErrNoDumbBuffer)
	}
	return &Device{
		dev:      dev,
		surfaces: make(map[*Surface]struct{}),
	}, nil
}

// KMS returns the device the buffers are allocated on.
func (d *Device) KMS() kms.Device {
	if d == nil {
		return nil
	}
	return d.dev
}

// NewSurface creates a swapchain of up to maxBuffers buffer objects
// (DefaultMaxBuffers if maxBuffers < 1). The surface must be usable for
// both scan-out and rendering.
func (d *Device) NewSurface(width, height int, format uint32, usage Usage, maxBuffers int) (*Surface, error) {
	if d == nil {
		return nil, errors.NilReceiver()
	}
	if format != FormatXRGB8888 {
		return nil, errors.New(ErrUnsupportedFormat)
	}
	if usage&(UseScanout|UseRendering) != UseScanout|UseRendering {
		return nil, errors.New(ErrUnsupportedUsage)
	}
	if width <= 0 || height <= 0 || width > 0xffff || height > 0xffff {
		return nil, errors.New(ErrInvalidSurfaceSize)
	}
	if maxBuffers < 1 {
		maxBuffers = DefaultMaxBuffers
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New(consts.ErrSurfaceClosed)
	}
	s := &Surface{
		dev:        d,
		width:      width,
		height:     height,
		format:     format,
		maxBuffers: maxBuffers,
		fbs:        make(map[int]*kms.Framebuffer),
	}
	d.surfaces[s] = struct{}{}
	return s, nil
}

func (d *Device) forget(s *Surface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.surfaces, s)
}

// Close destroys all surfaces still alive. The underlying kms.Device is not closed.
func (d *Device) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	surfaces := make([]*Surface, 0, len(d.surfaces))
	for s := range d.surfaces {
		surfaces = append(surfaces, s)
	}
	d.mu.Unlock()

	var errs []error
	for _, s := range surfaces {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
