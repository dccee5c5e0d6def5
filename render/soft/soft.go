// Package soft is a software rendering backend drawing with the CPU directly
// into allocator buffer objects. Importing it registers the backend as "soft".
package soft

import (
	"image/color"
	"image/draw"
	"sync"

	"github.com/srlehn/kmsdisplay/alloc"
	"github.com/srlehn/kmsdisplay/internal/consts"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/linux"
	"github.com/srlehn/kmsdisplay/render"
)

func init() { render.RegisterBackend(&Backend{}) }

const (
	versionMajor = 1
	versionMinor = 5
)

const (
	configXRGB render.ConfigID = iota + 1
	configARGB
)

var configs = []render.ConfigInfo{
	{
		ID:             configXRGB,
		SurfaceType:    render.SurfaceWindow | render.SurfacePbuffer,
		RenderableType: render.RenderableGLES2 | render.RenderableGLES3,
		RedSize:        8,
		GreenSize:      8,
		BlueSize:       8,
		NativeVisualID: alloc.FormatXRGB8888,
	},
	{
		ID:             configARGB,
		SurfaceType:    render.SurfaceWindow | render.SurfacePbuffer,
		RenderableType: render.RenderableGLES2 | render.RenderableGLES3,
		RedSize:        8,
		GreenSize:      8,
		BlueSize:       8,
		AlphaSize:      8,
		NativeVisualID: 'A' | 'R'<<8 | '2'<<16 | '4'<<24,
	},
}

var _ render.Backend = (*Backend)(nil)

type Backend struct{}

func (b *Backend) Name() string { return consts.DefaultBackendName }

func (b *Backend) Open(dev *alloc.Device) (render.Conn, error) {
	if dev == nil {
		return nil, errors.NilParam()
	}
	return &conn{dev: dev}, nil
}

type context struct {
	id      render.ContextID
	cfg     render.ConfigInfo
	objects *sync.Map
	bound   bool
	thread  int
}

type surface struct {
	id     render.SurfaceID
	cfg    render.ConfigInfo
	target *alloc.Surface
	bound  bool
	thread int
}

type binding struct {
	ctx     *context
	surface *surface
}

var _ render.Conn = (*conn)(nil)

type conn struct {
	mu          sync.Mutex
	dev         *alloc.Device
	initialized bool
	api         render.API
	nextID      uint32
	contexts    map[render.ContextID]*context
	surfaces    map[render.SurfaceID]*surface
	// current binding per OS thread
	current map[int]binding
}

func (c *conn) Initialize() (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		c.initialized = true
		c.contexts = make(map[render.ContextID]*context)
		c.surfaces = make(map[render.SurfaceID]*surface)
		c.current = make(map[int]binding)
	}
	return versionMajor, versionMinor, nil
}

func (c *conn) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.contexts = nil
	c.surfaces = nil
	c.current = nil
	return nil
}

func (c *conn) QueryString(name render.StringName) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ``, errors.New(render.ErrNotInitialized)
	}
	switch name {
	case render.StringVendor:
		return consts.LibraryName, nil
	case render.StringVersion:
		return `1.5 software`, nil
	case render.StringExtensions:
		return `KMSD_surfaceless_context KMSD_create_context KMSD_platform_dumb_buffer`, nil
	case render.StringClientAPIs:
		return `OpenGL_ES`, nil
	}
	return ``, errors.Errorf(`unknown string name %d`, name)
}

func (c *conn) Configs() ([]render.ConfigInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, errors.New(render.ErrNotInitialized)
	}
	return append([]render.ConfigInfo(nil), configs...), nil
}

func (c *conn) BindAPI(api render.API) error {
	if api != render.APIOpenGLES {
		return errors.New(render.ErrUnsupportedAPI)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.api = api
	return nil
}

func config(id render.ConfigID) (render.ConfigInfo, bool) {
	for _, cfg := range configs {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return render.ConfigInfo{}, false
}

func (c *conn) CreateContext(cfgID render.ConfigID, share render.ContextID, clientVersion int) (render.ContextID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return render.NoContext, errors.New(render.ErrNotInitialized)
	}
	if c.api != render.APIOpenGLES {
		return render.NoContext, errors.New(render.ErrUnsupportedAPI)
	}
	cfg, ok := config(cfgID)
	if !ok {
		return render.NoContext, errors.New(render.ErrNoConfig)
	}
	switch {
	case clientVersion == 2 && cfg.RenderableType&render.RenderableGLES2 != 0:
	case clientVersion == 3 && cfg.RenderableType&render.RenderableGLES3 != 0:
	default:
		return render.NoContext, errors.New(render.ErrUnsupportedAPI)
	}
	objects := &sync.Map{}
	if share != render.NoContext {
		parent, ok := c.contexts[share]
		if !ok {
			return render.NoContext, errors.New(render.ErrBadContext)
		}
		objects = parent.objects
	}
	c.nextID++
	id := render.ContextID(c.nextID)
	c.contexts[id] = &context{id: id, cfg: cfg, objects: objects}
	return id, nil
}

func (c *conn) DestroyContext(id render.ContextID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return errors.New(render.ErrNotInitialized)
	}
	ctx, ok := c.contexts[id]
	if !ok {
		return errors.New(render.ErrBadContext)
	}
	if ctx.bound {
		c.unbindLocked(ctx.thread)
	}
	delete(c.contexts, id)
	return nil
}

func (c *conn) CreateWindowSurface(cfgID render.ConfigID, target *alloc.Surface) (render.SurfaceID, error) {
	if target == nil {
		return render.NoSurface, errors.NilParam()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return render.NoSurface, errors.New(render.ErrNotInitialized)
	}
	cfg, ok := config(cfgID)
	if !ok || cfg.SurfaceType&render.SurfaceWindow == 0 {
		return render.NoSurface, errors.New(render.ErrNoConfig)
	}
	if cfg.NativeVisualID != target.Format() {
		return render.NoSurface, errors.New(alloc.ErrUnsupportedFormat)
	}
	c.nextID++
	id := render.SurfaceID(c.nextID)
	c.surfaces[id] = &surface{id: id, cfg: cfg, target: target}
	return id, nil
}

func (c *conn) DestroySurface(id render.SurfaceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return errors.New(render.ErrNotInitialized)
	}
	s, ok := c.surfaces[id]
	if !ok {
		return errors.New(render.ErrBadSurface)
	}
	if s.bound {
		c.unbindLocked(s.thread)
	}
	delete(c.surfaces, id)
	return nil
}

func (c *conn) unbindLocked(tid int) {
	b, ok := c.current[tid]
	if !ok {
		return
	}
	if b.ctx != nil {
		b.ctx.bound = false
	}
	if b.surface != nil {
		b.surface.bound = false
	}
	delete(c.current, tid)
}

func (c *conn) MakeCurrent(sid render.SurfaceID, cid render.ContextID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return errors.New(render.ErrNotInitialized)
	}
	tid := linux.ThreadID()
	if cid == render.NoContext {
		if sid != render.NoSurface {
			return errors.New(render.ErrBadContext)
		}
		c.unbindLocked(tid)
		return nil
	}
	ctx, ok := c.contexts[cid]
	if !ok {
		return errors.New(render.ErrBadContext)
	}
	if ctx.bound && ctx.thread != tid {
		return errors.New(render.ErrBadAccess)
	}
	var s *surface
	if sid != render.NoSurface {
		s, ok = c.surfaces[sid]
		if !ok {
			return errors.New(render.ErrBadSurface)
		}
		if s.bound && s.thread != tid {
			return errors.New(render.ErrBadAccess)
		}
		if s.cfg.ID != ctx.cfg.ID {
			return errors.New(render.ErrBadContext)
		}
	}
	c.unbindLocked(tid)
	ctx.bound, ctx.thread = true, tid
	if s != nil {
		s.bound, s.thread = true, tid
	}
	c.current[tid] = binding{ctx: ctx, surface: s}
	return nil
}

func (c *conn) CurrentContext() render.ContextID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.current[linux.ThreadID()]; ok && b.ctx != nil {
		return b.ctx.id
	}
	return render.NoContext
}

// currentSurface returns the target of sid if it is bound on the calling thread.
func (c *conn) currentSurface(sid render.SurfaceID) (*alloc.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, errors.New(render.ErrNotInitialized)
	}
	b, ok := c.current[linux.ThreadID()]
	if !ok {
		return nil, errors.New(render.ErrNoCurrent)
	}
	if b.surface == nil || b.surface.id != sid {
		return nil, errors.New(render.ErrBadSurface)
	}
	return b.surface.target, nil
}

func (c *conn) SwapBuffers(sid render.SurfaceID) error {
	target, err := c.currentSurface(sid)
	if err != nil {
		return err
	}
	return target.SwapBuffers()
}

func (c *conn) Clear(sid render.SurfaceID, col color.Color) error {
	target, err := c.currentSurface(sid)
	if err != nil {
		return err
	}
	bo, err := target.BackBuffer()
	if err != nil {
		return err
	}
	bo.XRGB().Fill(col)
	return nil
}

func (c *conn) Target(sid render.SurfaceID) (draw.Image, error) {
	target, err := c.currentSurface(sid)
	if err != nil {
		return nil, err
	}
	bo, err := target.BackBuffer()
	if err != nil {
		return nil, err
	}
	return bo.Image(), nil
}

func (c *conn) SharedObjects(id render.ContextID) (*sync.Map, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, errors.New(render.ErrNotInitialized)
	}
	ctx, ok := c.contexts[id]
	if !ok {
		return nil, errors.New(render.ErrBadContext)
	}
	return ctx.objects, nil
}
