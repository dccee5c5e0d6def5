// Package kms wraps the kernel mode-setting objects a display core needs:
// the master lease, resource snapshots, connectors, encoders, scan-out
// framebuffers, mode-sets and page flips.
package kms

import (
	"context"

	"github.com/srlehn/kmsdisplay/internal/consts"
)

var (
	ErrNoMode               = consts.ErrNoMode
	ErrNotMaster            = consts.ErrNotMaster
	ErrNoDumbBuffer         = consts.ErrNoDumbBuffer
	ErrShortEventRead       = consts.ErrShortEventRead
	ErrPlatformNotSupported = consts.ErrPlatformNotSupported
)

// Device is the kernel call surface of one DRM device node.
// Implementations are not required to be safe for concurrent use except for
// ReadEvents, which may block in its own goroutine.
type Device interface {
	SetMaster() error
	DropMaster() error
	GetCap(capability uint64) (uint64, error)

	GetResources() (*ResourcesInfo, error)
	GetConnector(id uint32) (*ConnectorInfo, error)
	GetEncoder(id uint32) (*EncoderInfo, error)

	AddFB(width, height uint16, depth, bpp uint8, pitch, handle uint32) (uint32, error)
	RmFB(fbID uint32) error
	SetCrtc(crtcID, fbID uint32, connectors []uint32, mode *ModeInfo) error
	PageFlip(crtcID, fbID, flags uint32, userData uint64) error
	// ReadEvents blocks until at least one event is available or ctx is done.
	ReadEvents(ctx context.Context) ([]Event, error)

	CreateDumb(width, height uint16, bpp uint32) (*DumbBuffer, error)
	MapDumb(handle uint32, size uint64) ([]byte, error)
	UnmapDumb(mem []byte) error
	DestroyDumb(handle uint32) error

	Close() error
}

const (
	CapDumbBuffer uint64 = 0x1
)

const (
	PageFlipEvent uint32 = 0x01
)

// Connection is the status reported for a connector.
type Connection uint8

const (
	Connected         Connection = 1
	Disconnected      Connection = 2
	UnknownConnection Connection = 3
)

func (c Connection) String() string {
	switch c {
	case Connected:
		return `connected`
	case Disconnected:
		return `disconnected`
	}
	return `unknown`
}

var connectorTypeNames = []string{
	`Unknown`, `VGA`, `DVI-I`, `DVI-D`, `DVI-A`, `Composite`, `SVIDEO`,
	`LVDS`, `Component`, `DIN`, `DP`, `HDMI-A`, `HDMI-B`, `TV`, `eDP`,
	`Virtual`, `DSI`, `DPI`, `Writeback`, `SPI`, `USB`,
}

// ConnectorTypeName names a DRM_MODE_CONNECTOR_* type.
func ConnectorTypeName(t uint32) string {
	if int(t) < len(connectorTypeNames) {
		return connectorTypeNames[t]
	}
	return connectorTypeNames[0]
}

const (
	ModeTypePreferred uint32 = 1 << 3
)

// ModeInfo is a display mode in the kernel's drm_mode_modeinfo layout.
type ModeInfo struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

	Vrefresh uint32

	Flags uint32
	Type  uint32
	Name  [32]uint8
}

func (m ModeInfo) Width() int      { return int(m.Hdisplay) }
func (m ModeInfo) Height() int     { return int(m.Vdisplay) }
func (m ModeInfo) Preferred() bool { return m.Type&ModeTypePreferred != 0 }

func (m ModeInfo) String() string {
	for i, c := range m.Name {
		if c == 0 {
			return string(m.Name[:i])
		}
	}
	return string(m.Name[:])
}

type ResourcesInfo struct {
	CRTCs      []uint32
	Connectors []uint32
	Encoders   []uint32
}

type ConnectorInfo struct {
	ID         uint32
	EncoderID  uint32
	Type       uint32
	TypeID     uint32
	Connection Connection
	Encoders   []uint32
	Modes      []ModeInfo
}

type EncoderInfo struct {
	ID            uint32
	CRTCID        uint32
	PossibleCRTCs uint32
}

// DumbBuffer describes a kernel allocated, CPU mappable buffer.
type DumbBuffer struct {
	Handle uint32
	Pitch  uint32
	Size   uint64
	Width  uint16
	Height uint16
	BPP    uint32
}

type EventType uint32

const (
	EventVBlank       EventType = 0x01
	EventFlipComplete EventType = 0x02
)

// Event is a decoded vblank or page flip completion event.
type Event struct {
	Type     EventType
	UserData uint64
	Sec      uint32
	Usec     uint32
	Sequence uint32
	CRTCID   uint32
}
