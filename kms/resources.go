package kms

import (
	"slices"
	"strconv"

	"github.com/srlehn/kmsdisplay/internal/errors"
)

// Resources is an immutable snapshot of the device's connectors and CRTCs.
type Resources struct {
	crtcs      []uint32
	connectors []uint32
}

func GetResources(dev Device) (*Resources, error) {
	if dev == nil {
		return nil, errors.NilParam()
	}
	info, err := dev.GetResources()
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't get drm resources`)
	}
	return NewResources(info.CRTCs, info.Connectors), nil
}

func NewResources(crtcs, connectors []uint32) *Resources {
	return &Resources{
		crtcs:      slices.Clone(crtcs),
		connectors: slices.Clone(connectors),
	}
}

// CRTCs returns the CRTC ids in kernel order. The position of an id is the
// bit index used by encoder possible-CRTC masks.
func (r *Resources) CRTCs() []uint32 {
	if r == nil {
		return nil
	}
	return slices.Clone(r.crtcs)
}

func (r *Resources) Connectors() []uint32 {
	if r == nil {
		return nil
	}
	return slices.Clone(r.connectors)
}

func (r *Resources) CRTCIndex(crtcID uint32) (int, bool) {
	if r == nil {
		return -1, false
	}
	i := slices.Index(r.crtcs, crtcID)
	return i, i >= 0
}

// Connector is a physical output port as queried during one reconciliation pass.
type Connector struct {
	info ConnectorInfo
}

func GetConnector(dev Device, id uint32) (*Connector, error) {
	if dev == nil {
		return nil, errors.NilParam()
	}
	info, err := dev.GetConnector(id)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't get connector`)
	}
	return &Connector{info: *info}, nil
}

func (c *Connector) ID() uint32 { return c.info.ID }

// EncoderID is the encoder currently driving the connector, 0 if none.
func (c *Connector) EncoderID() uint32 { return c.info.EncoderID }

func (c *Connector) Connection() Connection { return c.info.Connection }

// Name is the kernel's name for the connector, e.g. "HDMI-A-1".
func (c *Connector) Name() string {
	return ConnectorTypeName(c.info.Type) + `-` + strconv.FormatUint(uint64(c.info.TypeID), 10)
}

func (c *Connector) IsConnected() bool { return c.info.Connection == Connected }

// Encoders returns the candidate encoder ids.
func (c *Connector) Encoders() []uint32 { return slices.Clone(c.info.Encoders) }

func (c *Connector) Modes() []ModeInfo { return slices.Clone(c.info.Modes) }

func (c *Connector) BestMode() (ModeInfo, error) { return BestMode(c.info.Modes) }

// BestMode returns the first preferred mode, or else the first mode with the
// largest nonzero width×height.
func BestMode(modes []ModeInfo) (ModeInfo, error) {
	if len(modes) == 0 {
		return ModeInfo{}, errors.New(ErrNoMode)
	}
	best := -1
	bestArea := 0
	for i, m := range modes {
		if m.Preferred() {
			return m, nil
		}
		if area := m.Width() * m.Height(); area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return ModeInfo{}, errors.New(ErrNoMode)
	}
	return modes[best], nil
}

type Encoder struct {
	info EncoderInfo
}

func GetEncoder(dev Device, id uint32) (*Encoder, error) {
	if dev == nil {
		return nil, errors.NilParam()
	}
	info, err := dev.GetEncoder(id)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't get encoder`)
	}
	return &Encoder{info: *info}, nil
}

func (e *Encoder) ID() uint32 { return e.info.ID }

// CRTC is the currently bound CRTC id, 0 if none.
func (e *Encoder) CRTC() uint32 { return e.info.CRTCID }

func (e *Encoder) PossibleCRTCs() uint32 { return e.info.PossibleCRTCs }

// HasCRTC reports whether the encoder can drive the CRTC at position index
// of the resource snapshot.
func (e *Encoder) HasCRTC(index int) bool {
	if index < 0 || index > 31 {
		return false
	}
	return e.info.PossibleCRTCs&(1<<uint(index)) != 0
}
