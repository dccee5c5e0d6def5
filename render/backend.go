// Package render wraps a rendering backend connection: pixel format
// selection, contexts, window surfaces and the per-thread current binding.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"slices"
	"strings"
	"sync"

	"github.com/srlehn/kmsdisplay/alloc"
	"github.com/srlehn/kmsdisplay/internal/consts"
	"github.com/srlehn/kmsdisplay/internal/errors"
)

var (
	ErrNoBackend       = consts.ErrNoBackend
	ErrNoConfig        = consts.ErrNoConfig
	ErrNotInitialized  = consts.ErrNotInitialized
	ErrBadContext      = consts.ErrBadContext
	ErrBadSurface      = consts.ErrBadSurface
	ErrBadAccess       = consts.ErrBadAccess
	ErrAlreadyCurrent  = consts.ErrAlreadyCurrent
	ErrNoCurrent       = consts.ErrNoCurrent
	ErrWrongThread     = consts.ErrWrongThread
	ErrUnsupportedAPI  = consts.ErrUnsupportedAPI
	ErrContextReleased = consts.ErrContextReleased
	ErrNilImage        = consts.ErrNilImage
	ErrInvalidSize     = consts.ErrInvalidSize
)

// Backend opens connections to one rendering implementation.
type Backend interface {
	Name() string
	Open(dev *alloc.Device) (Conn, error)
}

type (
	ConfigID  uint32
	ContextID uint32
	SurfaceID uint32
)

const (
	NoContext ContextID = 0
	NoSurface SurfaceID = 0
)

type StringName int

const (
	StringVendor StringName = iota
	StringVersion
	StringExtensions
	StringClientAPIs
)

// API is a client API a context can be created for.
type API int

const (
	APIOpenGLES API = 0x30A0
)

// surface type bits
const (
	SurfacePbuffer uint32 = 0x0001
	SurfacePixmap  uint32 = 0x0002
	SurfaceWindow  uint32 = 0x0004
)

// renderable type bits
const (
	RenderableGLES  uint32 = 0x0001
	RenderableGLES2 uint32 = 0x0004
	RenderableGLES3 uint32 = 0x0040
)

// ConfigInfo describes one pixel format configuration.
type ConfigInfo struct {
	ID             ConfigID
	SurfaceType    uint32
	RenderableType uint32
	RedSize        int
	GreenSize      int
	BlueSize       int
	AlphaSize      int
	// NativeVisualID is the fourcc of the matching allocator format
	NativeVisualID uint32
}

// Conn is a connection to a rendering backend bound to an allocator device.
//
// The current context and surface are per OS thread: MakeCurrent,
// CurrentContext and everything drawing through the current binding act on
// the calling thread.
type Conn interface {
	Initialize() (major, minor int, _ error)
	Terminate() error
	QueryString(name StringName) (string, error)
	Configs() ([]ConfigInfo, error)
	BindAPI(api API) error

	CreateContext(cfg ConfigID, share ContextID, clientVersion int) (ContextID, error)
	DestroyContext(ctx ContextID) error
	CreateWindowSurface(cfg ConfigID, target *alloc.Surface) (SurfaceID, error)
	DestroySurface(s SurfaceID) error

	// MakeCurrent binds ctx and surface to the calling thread.
	// NoContext with NoSurface unbinds.
	MakeCurrent(s SurfaceID, ctx ContextID) error
	CurrentContext() ContextID

	SwapBuffers(s SurfaceID) error
	Clear(s SurfaceID, c color.Color) error
	Target(s SurfaceID) (draw.Image, error)
	// SharedObjects is the object namespace of ctx, shared with every context
	// created sharing it.
	SharedObjects(ctx ContextID) (*sync.Map, error)
}

// Resizer scales images, e.g. for frame renderers.
type Resizer interface {
	Resize(img image.Image, size image.Point) (image.Image, error)
}

// CheckResize validates the arguments of [Resizer.Resize].
func CheckResize(img image.Image, size image.Point) error {
	if img == nil {
		return errors.New(consts.ErrNilImage)
	}
	if size.X <= 0 || size.Y <= 0 {
		return errors.New(consts.ErrInvalidSize)
	}
	return nil
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// RegisterBackend makes b available by name. Registering a name twice
// replaces the earlier backend.
func RegisterBackend(b Backend) {
	if b == nil {
		return
	}
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[strings.ToLower(b.Name())] = b
}

// Backends returns the registered backends sorted by name.
func Backends() []Backend {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	bs := make([]Backend, 0, len(backends))
	for _, b := range backends {
		bs = append(bs, b)
	}
	slices.SortFunc(bs, func(a, b Backend) int { return strings.Compare(a.Name(), b.Name()) })
	return bs
}

func GetBackendByName(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[strings.ToLower(name)]
	if !ok {
		return nil, errors.WrapPrefix(ErrNoBackend, name)
	}
	return b, nil
}
