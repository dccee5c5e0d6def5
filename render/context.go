package render

import (
	"image/color"
	"image/draw"
	"sync"

	"github.com/srlehn/kmsdisplay/alloc"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/linux"
)

// Context is a rendering context, optionally sharing objects with a parent.
type Context struct {
	d      *Display
	id     ContextID
	cfg    ConfigInfo
	share  *Context
	closed bool
}

func NewContext(d *Display, cfg ConfigInfo, share *Context) (*Context, error) {
	if d == nil {
		return nil, errors.NilParam()
	}
	shareID := NoContext
	if share != nil {
		if share.closed {
			return nil, errors.New(ErrBadContext)
		}
		shareID = share.id
	}
	id, err := d.conn.CreateContext(cfg.ID, shareID, glesClientVersion)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't create rendering context`)
	}
	return &Context{d: d, id: id, cfg: cfg, share: share}, nil
}

func (c *Context) ID() ContextID      { return c.id }
func (c *Context) Config() ConfigInfo { return c.cfg }

// Shares returns the context this one shares objects with, if any.
func (c *Context) Shares() *Context { return c.share }

// Objects is the object namespace, shared along the share chain.
func (c *Context) Objects() (*sync.Map, error) { return c.d.conn.SharedObjects(c.id) }

func (c *Context) Close() error {
	if c == nil || c.closed {
		return nil
	}
	c.closed = true
	if err := c.d.conn.DestroyContext(c.id); err != nil {
		return errors.WrapPrefix(err, `couldn't destroy rendering context`)
	}
	return nil
}

// Surface is a window surface rendering into an allocator swapchain.
type Surface struct {
	d      *Display
	id     SurfaceID
	target *alloc.Surface
	closed bool
}

func NewSurface(d *Display, cfg ConfigInfo, target *alloc.Surface) (*Surface, error) {
	if d == nil || target == nil {
		return nil, errors.NilParam()
	}
	id, err := d.conn.CreateWindowSurface(cfg.ID, target)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't create window surface`)
	}
	return &Surface{d: d, id: id, target: target}, nil
}

func (s *Surface) ID() SurfaceID          { return s.id }
func (s *Surface) Target() *alloc.Surface { return s.target }

func (s *Surface) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	if err := s.d.conn.DestroySurface(s.id); err != nil {
		return errors.WrapPrefix(err, `couldn't destroy window surface`)
	}
	return nil
}

// Current is the capability to draw with a context bound on one OS thread.
// It is only obtainable by binding, and every method panics when called
// from another thread than the one it was bound on.
type Current struct {
	d        *Display
	ctx      *Context
	surface  *Surface
	thread   int
	released bool
}

// Bind makes ctx and s current on the calling OS thread. The goroutine must
// be locked to its thread for as long as the returned Current is used.
func Bind(ctx *Context, s *Surface) (*Current, error) {
	if ctx == nil || s == nil {
		return nil, errors.NilParam()
	}
	if err := ctx.d.conn.MakeCurrent(s.id, ctx.id); err != nil {
		return nil, errors.WrapPrefix(err, `couldn't make context current`)
	}
	return &Current{d: ctx.d, ctx: ctx, surface: s, thread: linux.ThreadID()}, nil
}

// BindSurfaceless makes ctx current without a surface. The calling thread
// must not have a current context yet.
func BindSurfaceless(ctx *Context) (*Current, error) {
	if ctx == nil {
		return nil, errors.NilParam()
	}
	conn := ctx.d.conn
	if conn.CurrentContext() != NoContext {
		return nil, errors.New(ErrAlreadyCurrent)
	}
	if err := conn.MakeCurrent(NoSurface, ctx.id); err != nil {
		return nil, errors.WrapPrefix(err, `couldn't make context current`)
	}
	return &Current{d: ctx.d, ctx: ctx, thread: linux.ThreadID()}, nil
}

func (c *Current) check() {
	if c == nil {
		panic(errors.Usage(errors.NilReceiver()))
	}
	if tid := linux.ThreadID(); tid != c.thread {
		panic(errors.Usage(ErrWrongThread))
	}
	if c.released {
		panic(errors.Usage(ErrContextReleased))
	}
}

// rebind restores this binding if another binding on the same thread
// replaced it.
func (c *Current) rebind() error {
	conn := c.d.conn
	if conn.CurrentContext() == c.ctx.id {
		return nil
	}
	sid := NoSurface
	if c.surface != nil {
		sid = c.surface.id
	}
	if err := conn.MakeCurrent(sid, c.ctx.id); err != nil {
		return errors.WrapPrefix(err, `couldn't make context current`)
	}
	return nil
}

func (c *Current) Thread() int       { return c.thread }
func (c *Current) Context() *Context { return c.ctx }

// Surface is nil for a surfaceless binding.
func (c *Current) Surface() *Surface { return c.surface }

func (c *Current) Clear(col color.Color) error {
	c.check()
	if c.surface == nil {
		return errors.New(ErrBadSurface)
	}
	if err := c.rebind(); err != nil {
		return err
	}
	return c.d.conn.Clear(c.surface.id, col)
}

// Target is the image the next SwapBuffers presents.
func (c *Current) Target() (draw.Image, error) {
	c.check()
	if c.surface == nil {
		return nil, errors.New(ErrBadSurface)
	}
	if err := c.rebind(); err != nil {
		return nil, err
	}
	return c.d.conn.Target(c.surface.id)
}

func (c *Current) SwapBuffers() error {
	c.check()
	if c.surface == nil {
		return errors.New(ErrBadSurface)
	}
	if err := c.rebind(); err != nil {
		return err
	}
	if err := c.d.conn.SwapBuffers(c.surface.id); err != nil {
		return errors.WrapPrefix(err, `couldn't swap buffers`)
	}
	return nil
}

// Release unbinds the context from the thread if it is still the current one.
// It must happen before the context or surface is destroyed.
func (c *Current) Release() error {
	if c == nil {
		return errors.NilReceiver()
	}
	if tid := linux.ThreadID(); tid != c.thread {
		panic(errors.Usage(ErrWrongThread))
	}
	if c.released {
		return errors.New(ErrContextReleased)
	}
	c.released = true
	conn := c.d.conn
	if conn.CurrentContext() != c.ctx.id {
		return nil
	}
	if err := conn.MakeCurrent(NoSurface, NoContext); err != nil {
		return errors.WrapPrefix(err, `couldn't release current context`)
	}
	return nil
}

// Close is Release for LIFO closers; releasing twice is not an error here.
func (c *Current) Close() error {
	if c == nil || c.released {
		return nil
	}
	return c.Release()
}
