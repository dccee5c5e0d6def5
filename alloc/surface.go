package alloc

import (
	"image/draw"
	"sync"

	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/fimg"
	"github.com/srlehn/kmsdisplay/kms"
)

type boState int

const (
	boFree boState = iota
	boBack
	boQueued
	boLocked
)

// BufferObject is one mapped dumb buffer of a surface.
type BufferObject struct {
	index  int
	handle uint32
	width  int
	height int
	stride uint32
	size   uint64
	mem    []byte
	img    *fimg.XRGB
	state  boState
}

// Index is stable for the lifetime of the surface.
func (b *BufferObject) Index() int     { return b.index }
func (b *BufferObject) Handle() uint32 { return b.handle }
func (b *BufferObject) Width() int     { return b.width }
func (b *BufferObject) Height() int    { return b.height }
func (b *BufferObject) Stride() uint32 { return b.stride }

// Image draws directly into the buffer memory.
func (b *BufferObject) Image() draw.Image { return b.img }

// XRGB is Image without the interface.
func (b *BufferObject) XRGB() *fimg.XRGB { return b.img }

// Surface is a swapchain: the renderer draws into the back buffer, swaps it
// into the queue, and the display side locks the oldest queued buffer as front
// buffer until it is released.
type Surface struct {
	dev        *Device
	mu         sync.Mutex
	width      int
	height     int
	format     uint32
	maxBuffers int
	bos        []*BufferObject
	back       *BufferObject
	queue      []*BufferObject
	// scan-out framebuffers by buffer index
	fbs    map[int]*kms.Framebuffer
	closed bool
}

func (s *Surface) Width() int      { return s.width }
func (s *Surface) Height() int     { return s.height }
func (s *Surface) Format() uint32  { return s.format }
func (s *Surface) MaxBuffers() int { return s.maxBuffers }

// BackBuffer returns the buffer to render into, acquiring a free one if needed.
func (s *Surface) BackBuffer() (*BufferObject, error) {
	if s == nil {
		return nil, errors.NilReceiver()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backBuffer()
}

func (s *Surface) backBuffer() (*BufferObject, error) {
	if s.closed {
		return nil, errors.New(ErrSurfaceClosed)
	}
	if s.back != nil {
		return s.back, nil
	}
	for _, bo := range s.bos {
		if bo.state == boFree {
			bo.state = boBack
			s.back = bo
			return bo, nil
		}
	}
	if len(s.bos) >= s.maxBuffers {
		return nil, errors.New(ErrNoFreeBuffer)
	}
	bo, err := s.newBufferObject(len(s.bos))
	if err != nil {
		return nil, err
	}
	s.bos = append(s.bos, bo)
	bo.state = boBack
	s.back = bo
	return bo, nil
}

func (s *Surface) newBufferObject(index int) (*BufferObject, error) {
	kdev := s.dev.dev
	db, err := kdev.CreateDumb(uint16(s.width), uint16(s.height), bitsPerPixel)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't create dumb buffer`)
	}
	mem, err := kdev.MapDumb(db.Handle, db.Size)
	if err != nil {
		_ = kdev.DestroyDumb(db.Handle)
		return nil, errors.WrapPrefix(err, `couldn't map dumb buffer`)
	}
	clear(mem)
	return &BufferObject{
		index:  index,
		handle: db.Handle,
		width:  s.width,
		height: s.height,
		stride: db.Pitch,
		size:   db.Size,
		mem:    mem,
		img:    fimg.WrapXRGB(mem, s.width, s.height, int(db.Pitch)),
	}, nil
}

// SwapBuffers queues the back buffer as the next front buffer.
func (s *Surface) SwapBuffers() error {
	if s == nil {
		return errors.NilReceiver()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bo, err := s.backBuffer()
	if err != nil {
		return err
	}
	bo.state = boQueued
	s.queue = append(s.queue, bo)
	s.back = nil
	return nil
}

// HasFreeBuffers reports whether a back buffer can still be acquired.
func (s *Surface) HasFreeBuffers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.back != nil || len(s.bos) < s.maxBuffers {
		return true
	}
	for _, bo := range s.bos {
		if bo.state == boFree {
			return true
		}
	}
	return false
}

// LockFrontBuffer locks the oldest swapped buffer. Failing is a dropped frame.
func (s *Surface) LockFrontBuffer() (*FrontBuffer, error) {
	if s == nil {
		return nil, errors.NilReceiver()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(ErrSurfaceClosed)
	}
	if len(s.queue) == 0 {
		return nil, errors.New(ErrNoFrontBuffer)
	}
	bo := s.queue[0]
	s.queue = s.queue[1:]
	bo.state = boLocked
	return &FrontBuffer{surface: s, bo: bo}, nil
}

func (s *Surface) framebuffer(bo *BufferObject) (*kms.Framebuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(ErrSurfaceClosed)
	}
	if fb, ok := s.fbs[bo.index]; ok {
		return fb, nil
	}
	fb, err := kms.NewFramebuffer(s.dev.dev, bo.width, bo.height, bo.stride, bo.handle)
	if err != nil {
		return nil, err
	}
	s.fbs[bo.index] = fb
	return fb, nil
}

func (s *Surface) release(bo *BufferObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bo.state == boLocked {
		bo.state = boFree
	}
}

// Close removes the cached framebuffers and frees all buffer objects.
// Outstanding FrontBuffers become inert.
func (s *Surface) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	fbs := s.fbs
	bos := s.bos
	s.fbs = nil
	s.bos = nil
	s.back = nil
	s.queue = nil
	s.mu.Unlock()

	var errs []error
	for _, fb := range fbs {
		if err := fb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	kdev := s.dev.dev
	for _, bo := range bos {
		if err := kdev.UnmapDumb(bo.mem); err != nil {
			errs = append(errs, errors.WrapPrefix(err, `couldn't unmap dumb buffer`))
		}
		if err := kdev.DestroyDumb(bo.handle); err != nil {
			errs = append(errs, errors.WrapPrefix(err, `couldn't destroy dumb buffer`))
		}
	}
	s.dev.forget(s)
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// FrontBuffer is the lock on a buffer taken from the front of the queue.
type FrontBuffer struct {
	surface  *Surface
	bo       *BufferObject
	released bool
}

func (f *FrontBuffer) BufferObject() *BufferObject { return f.bo }

// EnsureFramebuffer returns the scan-out framebuffer of the locked buffer,
// creating it on first use. Later calls for the same buffer object return
// the same framebuffer.
func (f *FrontBuffer) EnsureFramebuffer() (*kms.Framebuffer, error) {
	if f == nil || f.bo == nil {
		return nil, errors.NilReceiver()
	}
	if f.released {
		return nil, errors.New(ErrAlreadyReleased)
	}
	return f.surface.framebuffer(f.bo)
}

// Release returns the buffer to the surface. It must be called exactly once.
func (f *FrontBuffer) Release() error {
	if f == nil || f.bo == nil {
		return errors.NilReceiver()
	}
	if f.released {
		return errors.New(ErrAlreadyReleased)
	}
	f.released = true
	f.surface.release(f.bo)
	return nil
}
