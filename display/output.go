package display

import (
	"image/color"
	"image/draw"
	"log/slog"
	"sync/atomic"

	"github.com/srlehn/kmsdisplay/alloc"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/linux"
	"github.com/srlehn/kmsdisplay/internal/logx"
	"github.com/srlehn/kmsdisplay/kms"
	"github.com/srlehn/kmsdisplay/render"
)

// State of an Output.
type State int32

const (
	StateUninitialized State = iota
	StateModeSet
	StateSteady
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return `uninitialized`
	case StateModeSet:
		return `mode set`
	case StateSteady:
		return `steady`
	case StateTornDown:
		return `torn down`
	}
	return `invalid`
}

// DefaultClearColor is the neutral color shown right after the mode-set.
var DefaultClearColor color.Color = color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}

var flipTokens atomic.Uint64

// OutputConfig holds the optional parameters of NewOutput.
type OutputConfig struct {
	Logger      *slog.Logger
	ClearColor  color.Color
	BufferCount int
}

var _ logx.LoggerProvider = (*Output)(nil)

// Output drives one mode-set monitor: a swapchain surface, a drawable
// context, the buffer currently scanned out and the one waiting for its flip.
//
// An Output belongs to the OS thread that created it. It is not safe for
// concurrent use. FlipPending, Flipped, Valid and State may be called from
// any thread; the methods touching buffers or the context panic on other threads.
type Output struct {
	dev        kms.Device
	thread     int
	surface    *alloc.Surface
	drawable   *render.DrawableContext
	crtcID     uint32
	connID     uint32
	mode       kms.ModeInfo
	width      int
	height     int
	state      atomic.Int32
	current    *alloc.FrontBuffer
	next       *alloc.FrontBuffer
	pending    atomic.Bool
	token      uint64
	flipped    chan struct{}
	lastFlip   kms.Event
	logger     *slog.Logger
	clearColor color.Color
}

// NewOutput creates the swapchain and a drawable child context of master for
// a width×height output on crtcID, bound on the calling thread. On failure
// nothing is left allocated.
func NewOutput(dev kms.Device, ad *alloc.Device, master *render.SurfacelessContext, width, height int, crtcID uint32, cfg OutputConfig) (_ *Output, err error) {
	if dev == nil || ad == nil || master == nil {
		return nil, errors.NilParam()
	}
	surface, err := ad.NewSurface(width, height, alloc.FormatXRGB8888, alloc.UseScanout|alloc.UseRendering, cfg.BufferCount)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't create output surface`)
	}
	drawable, err := master.CreateChildContext(surface)
	if err != nil {
		_ = surface.Close()
		return nil, errors.WrapPrefix(err, `couldn't create output context`)
	}
	clearColor := cfg.ClearColor
	if clearColor == nil {
		clearColor = DefaultClearColor
	}
	return &Output{
		dev:        dev,
		thread:     linux.ThreadID(),
		surface:    surface,
		drawable:   drawable,
		crtcID:     crtcID,
		width:      width,
		height:     height,
		token:      flipTokens.Add(1),
		flipped:    make(chan struct{}, 1),
		logger:     cfg.Logger,
		clearColor: clearColor,
	}, nil
}

func (o *Output) check() {
	if o == nil {
		panic(errors.Usage(errors.NilReceiver()))
	}
	if linux.ThreadID() != o.thread {
		panic(errors.Usage(render.ErrWrongThread))
	}
	if o.State() == StateTornDown {
		panic(errors.Usage(ErrOutputClosed))
	}
}

// Valid reports whether the Output is usable from the calling thread.
func (o *Output) Valid() bool {
	return o != nil && o.State() != StateTornDown && linux.ThreadID() == o.thread
}

func (o *Output) Logger() *slog.Logger {
	if o == nil || o.logger == nil {
		return nil
	}
	return o.logger.With(`crtc`, o.crtcID, `connector`, o.connID)
}

func (o *Output) CRTC() uint32             { return o.crtcID }
func (o *Output) ConnectorID() uint32      { return o.connID }
func (o *Output) Mode() kms.ModeInfo       { return o.mode }
func (o *Output) Width() int               { return o.width }
func (o *Output) Height() int              { return o.height }
func (o *Output) State() State             { return State(o.state.Load()) }
func (o *Output) Thread() int              { return o.thread }
func (o *Output) FlipToken() uint64        { return o.token }
func (o *Output) LastFlip() kms.Event      { return o.lastFlip }
func (o *Output) FlipPending() bool        { return o.pending.Load() }
func (o *Output) Flipped() <-chan struct{} { return o.flipped }

// Clear fills the back buffer.
func (o *Output) Clear(c color.Color) error {
	o.check()
	return o.drawable.Current().Clear(c)
}

// Canvas is the back buffer the next BeginSwapBuffers presents.
func (o *Output) Canvas() (draw.Image, error) {
	o.check()
	return o.drawable.Current().Target()
}

// SetMode shows a cleared frame on the connector with a synchronous mode-set.
// On failure no state changes.
func (o *Output) SetMode(connectorID uint32, mode kms.ModeInfo) error {
	o.check()
	if st := o.State(); st != StateUninitialized {
		panic(errors.Usage(errors.Errorf(`mode already set (state %s)`, st)))
	}
	cur := o.drawable.Current()
	if err := cur.Clear(o.clearColor); err != nil {
		return err
	}
	if err := cur.SwapBuffers(); err != nil {
		return err
	}
	front, err := o.surface.LockFrontBuffer()
	if err != nil {
		return errors.WrapPrefix(err, `couldn't lock front buffer`)
	}
	fb, err := front.EnsureFramebuffer()
	if err != nil {
		_ = front.Release()
		return err
	}
	if err := kms.SetMode(o.dev, fb, connectorID, o.crtcID, mode); err != nil {
		_ = front.Release()
		return err
	}
	o.current = front
	o.connID = connectorID
	o.mode = mode
	o.state.Store(int32(StateModeSet))
	logx.Debug(`mode set`, o, `mode`, mode.String(), `fb`, fb.ID())
	return nil
}

// BeginSwapBuffers presents the back buffer with a page flip at the next
// vblank. Calling it while a flip is pending is a usage error. A returned
// error drops the frame and leaves the Output as it was.
func (o *Output) BeginSwapBuffers() error {
	o.check()
	if st := o.State(); st != StateModeSet && st != StateSteady {
		panic(errors.Usage(errors.Errorf(`cannot swap buffers in state %s`, st)))
	}
	if o.current == nil {
		panic(errors.Usage(ErrNoCurrentFront))
	}
	if o.pending.Load() {
		panic(errors.Usage(ErrFlipPending))
	}
	if err := o.drawable.Current().SwapBuffers(); err != nil {
		return err
	}
	front, err := o.surface.LockFrontBuffer()
	if err != nil {
		return errors.WrapPrefix(err, `couldn't lock front buffer`)
	}
	fb, err := front.EnsureFramebuffer()
	if err != nil {
		_ = front.Release()
		return err
	}
	// drop a completion signal nobody waited for
	select {
	case <-o.flipped:
	default:
	}
	// set before the request, the completion may be dispatched concurrently
	o.pending.Store(true)
	if err := kms.BeginPageFlip(o.dev, fb, o.crtcID, o.token); err != nil {
		o.pending.Store(false)
		_ = front.Release()
		return err
	}
	o.next = front
	o.state.Store(int32(StateSteady))
	return nil
}

// FinishSwapBuffers makes the flipped buffer current and releases the one
// that was shown before. It must only be called once the flip completed.
func (o *Output) FinishSwapBuffers() error {
	o.check()
	if o.pending.Load() {
		panic(errors.Usage(ErrFlipPending))
	}
	if o.next == nil {
		panic(errors.Usage(errors.New(`no page flip was requested`)))
	}
	prev := o.current
	o.current = o.next
	o.next = nil
	if prev != nil {
		return prev.Release()
	}
	return nil
}

// flipComplete may be called from any goroutine.
func (o *Output) flipComplete(ev kms.Event) {
	o.lastFlip = ev
	o.pending.Store(false)
	select {
	case o.flipped <- struct{}{}:
	default:
	}
}

// Close releases both buffer locks, the context and the surface.
// A pending flip is abandoned.
func (o *Output) Close() error {
	if o == nil || o.State() == StateTornDown {
		return nil
	}
	if linux.ThreadID() != o.thread {
		panic(errors.Usage(render.ErrWrongThread))
	}
	o.state.Store(int32(StateTornDown))
	var errs []error
	for _, fb := range []*alloc.FrontBuffer{o.next, o.current} {
		if fb == nil {
			continue
		}
		if err := fb.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	o.next, o.current = nil, nil
	if err := o.drawable.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := o.surface.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
