package consts

import (
	"errors"
)

var (
	ErrNotImplemented       = errors.New(`not implemented`)
	ErrNilReceiver          = errors.New(`nil receiver`)
	ErrNilParam             = errors.New(`nil parameter`)
	ErrPlatformNotSupported = errors.New(`platform not supported`)

	// kernel mode setting
	ErrNoMode         = errors.New(`no mode found`)
	ErrNotMaster      = errors.New(`not drm master`)
	ErrNoDumbBuffer   = errors.New(`drm device does not support dumb buffers`)
	ErrShortEventRead = errors.New(`short drm event read`)

	// allocator
	ErrNoFreeBuffer       = errors.New(`allocator has no free buffer`)
	ErrNoFrontBuffer      = errors.New(`no buffer was swapped to the front`)
	ErrAlreadyReleased    = errors.New(`front buffer already released`)
	ErrUnsupportedFormat  = errors.New(`unsupported pixel format`)
	ErrUnsupportedUsage   = errors.New(`surface must be usable for scan-out and rendering`)
	ErrSurfaceClosed      = errors.New(`surface closed`)
	ErrInvalidSurfaceSize = errors.New(`invalid surface size`)

	// rendering
	ErrNoBackend       = errors.New(`no such rendering backend`)
	ErrNoConfig        = errors.New(`no matching pixel format configuration`)
	ErrNotInitialized  = errors.New(`rendering connection not initialized`)
	ErrBadContext      = errors.New(`bad rendering context`)
	ErrBadSurface      = errors.New(`bad rendering surface`)
	ErrBadAccess       = errors.New(`context or surface is current on another thread`)
	ErrAlreadyCurrent  = errors.New(`thread already has a current context`)
	ErrNoCurrent       = errors.New(`no current context on this thread`)
	ErrWrongThread     = errors.New(`used from a thread other than the one it was bound on`)
	ErrUnsupportedAPI  = errors.New(`unsupported client api`)
	ErrContextReleased = errors.New(`context binding already released`)
	ErrNilImage        = errors.New(`nil image`)
	ErrInvalidSize     = errors.New(`invalid target size`)

	// outputs
	ErrFlipPending    = errors.New(`page flip already pending`)
	ErrNoCurrentFront = errors.New(`output has no current front buffer`)
	ErrOutputClosed   = errors.New(`output torn down`)
	ErrNoFreeCRTC     = errors.New(`no free crtc for connector`)
	ErrManagerClosed  = errors.New(`device manager closed`)
)

const (
	LibraryName = `kmsdisplay`

	DefaultDevicePath  = `/dev/dri/card0`
	DefaultBackendName = `soft`
)
