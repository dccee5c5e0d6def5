package render

import (
	"github.com/srlehn/kmsdisplay/alloc"
	"github.com/srlehn/kmsdisplay/internal"
	"github.com/srlehn/kmsdisplay/internal/errors"
)

// DrawableContext is a context with a window surface, bound on the thread
// that created it.
type DrawableContext struct {
	ctx     *Context
	surface *Surface
	current *Current
	closer  internal.Closer
}

// NewDrawableContext selects a config, creates a context (sharing with share
// if not nil) and a window surface over target, and binds both on the calling
// thread. Either all of it succeeds or nothing is left behind.
func NewDrawableContext(d *Display, target *alloc.Surface, share *Context) (_ *DrawableContext, err error) {
	if d == nil || target == nil {
		return nil, errors.NilParam()
	}
	closer := internal.NewCloser()
	defer func() {
		if err != nil {
			_ = closer.Close()
		}
	}()
	cfg, err := FindConfig(d)
	if err != nil {
		return nil, err
	}
	ctx, err := NewContext(d, cfg, share)
	if err != nil {
		return nil, err
	}
	closer.AddClosers(ctx)
	s, err := NewSurface(d, cfg, target)
	if err != nil {
		return nil, err
	}
	closer.AddClosers(s)
	cur, err := Bind(ctx, s)
	if err != nil {
		return nil, err
	}
	closer.AddClosers(cur)
	return &DrawableContext{
		ctx:     ctx,
		surface: s,
		current: cur,
		closer:  closer,
	}, nil
}

func (dc *DrawableContext) Context() *Context { return dc.ctx }
func (dc *DrawableContext) Surface() *Surface { return dc.surface }

// Current is the binding token. It panics on use from a foreign thread.
func (dc *DrawableContext) Current() *Current { return dc.current }

// Close unbinds, then destroys the surface and the context.
func (dc *DrawableContext) Close() error {
	if dc == nil {
		return nil
	}
	return dc.closer.Close()
}

// SurfacelessContext is a context without a surface whose only purpose is
// to share its objects with child contexts bound on other threads.
type SurfacelessContext struct {
	d       *Display
	ctx     *Context
	current *Current
}

func NewSurfacelessContext(d *Display) (*SurfacelessContext, error) {
	if d == nil {
		return nil, errors.NilParam()
	}
	cfg, err := FindConfig(d)
	if err != nil {
		return nil, err
	}
	ctx, err := NewContext(d, cfg, nil)
	if err != nil {
		return nil, err
	}
	cur, err := BindSurfaceless(ctx)
	if err != nil {
		_ = ctx.Close()
		return nil, err
	}
	return &SurfacelessContext{d: d, ctx: ctx, current: cur}, nil
}

func (sc *SurfacelessContext) Context() *Context { return sc.ctx }
func (sc *SurfacelessContext) Current() *Current { return sc.current }

// CreateChildContext creates a drawable context over target sharing this
// context's objects, bound on the calling thread.
func (sc *SurfacelessContext) CreateChildContext(target *alloc.Surface) (*DrawableContext, error) {
	if sc == nil {
		return nil, errors.NilReceiver()
	}
	return NewDrawableContext(sc.d, target, sc.ctx)
}

func (sc *SurfacelessContext) Close() error {
	if sc == nil {
		return nil
	}
	var errs []error
	if err := sc.current.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := sc.ctx.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
