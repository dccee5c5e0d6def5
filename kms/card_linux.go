//go:build linux

package kms

import (
	"context"
	"os"
	"unsafe"

	"github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/ioctl"
	"github.com/NeowayLabs/drm/mode"
	"golang.org/x/sys/unix"

	"github.com/srlehn/kmsdisplay/internal/errors"
)

const (
	ioctlSetMaster  = 0x641e
	ioctlDropMaster = 0x641f

	eventPollMillis = 100
	eventBufLen     = 4096
)

type pageFlipReq struct {
	crtcID   uint32
	fbID     uint32
	flags    uint32
	reserved uint32
	userData uint64
}

var ioctlModePageFlip = ioctl.NewCode(ioctl.Read|ioctl.Write,
	uint16(unsafe.Sizeof(pageFlipReq{})), drm.IOCTLBase, 0xB0)

var _ Device = (*Card)(nil)

// Card is a DRM device node opened read-write.
type Card struct {
	file *os.File
}

func OpenCard(path string) (*Card, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't open drm device`)
	}
	return &Card{file: f}, nil
}

func (c *Card) fd() uintptr { return c.file.Fd() }

func (c *Card) SetMaster() error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, c.fd(), ioctlSetMaster, 0); errno != 0 {
		return errors.New(errno)
	}
	return nil
}

func (c *Card) DropMaster() error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, c.fd(), ioctlDropMaster, 0); errno != 0 {
		return errors.New(errno)
	}
	return nil
}

func (c *Card) GetCap(capability uint64) (uint64, error) {
	v, err := drm.GetCap(c.file, capability)
	if err != nil {
		return 0, errors.New(err)
	}
	return v, nil
}

func (c *Card) GetResources() (*ResourcesInfo, error) {
	res, err := mode.GetResources(c.file)
	if err != nil {
		return nil, errors.New(err)
	}
	return &ResourcesInfo{
		CRTCs:      res.Crtcs,
		Connectors: res.Connectors,
		Encoders:   res.Encoders,
	}, nil
}

func (c *Card) GetConnector(id uint32) (*ConnectorInfo, error) {
	conn, err := mode.GetConnector(c.file, id)
	if err != nil {
		return nil, errors.New(err)
	}
	modes := make([]ModeInfo, len(conn.Modes))
	for i, m := range conn.Modes {
		modes[i] = ModeInfo(m)
	}
	return &ConnectorInfo{
		ID:         conn.ID,
		EncoderID:  conn.EncoderID,
		Type:       conn.Type,
		TypeID:     conn.TypeID,
		Connection: Connection(conn.Connection),
		Encoders:   conn.Encoders,
		Modes:      modes,
	}, nil
}

func (c *Card) GetEncoder(id uint32) (*EncoderInfo, error) {
	enc, err := mode.GetEncoder(c.file, id)
	if err != nil {
		return nil, errors.New(err)
	}
	return &EncoderInfo{
		ID:            enc.ID,
		CRTCID:        enc.CrtcID,
		PossibleCRTCs: enc.PossibleCrtcs,
	}, nil
}

func (c *Card) AddFB(width, height uint16, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	id, err := mode.AddFB(c.file, width, height, depth, bpp, pitch, handle)
	if err != nil {
		return 0, errors.New(err)
	}
	return id, nil
}

func (c *Card) RmFB(fbID uint32) error {
	if err := mode.RmFB(c.file, fbID); err != nil {
		return errors.New(err)
	}
	return nil
}

func (c *Card) SetCrtc(crtcID, fbID uint32, connectors []uint32, m *ModeInfo) error {
	var connPtr *uint32
	if len(connectors) > 0 {
		connPtr = &connectors[0]
	}
	var info *mode.Info
	if m != nil {
		mi := mode.Info(*m)
		info = &mi
	}
	if err := mode.SetCrtc(c.file, crtcID, fbID, 0, 0, connPtr, len(connectors), info); err != nil {
		return errors.New(err)
	}
	return nil
}

func (c *Card) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	req := &pageFlipReq{
		crtcID:   crtcID,
		fbID:     fbID,
		flags:    flags,
		userData: userData,
	}
	if err := ioctl.Do(c.fd(), uintptr(ioctlModePageFlip), uintptr(unsafe.Pointer(req))); err != nil {
		return errors.New(err)
	}
	return nil
}

// ReadEvents polls the device so a done ctx is noticed within eventPollMillis.
func (c *Card) ReadEvents(ctx context.Context) ([]Event, error) {
	fd := int(c.fd())
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := unix.Poll(fds, eventPollMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, errors.New(err)
		}
		if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			continue
		}
		buf := make([]byte, eventBufLen)
		rn, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return nil, errors.New(err)
		}
		return DecodeEvents(buf[:rn])
	}
}

func (c *Card) CreateDumb(width, height uint16, bpp uint32) (*DumbBuffer, error) {
	fb, err := mode.CreateFB(c.file, width, height, bpp)
	if err != nil {
		return nil, errors.New(err)
	}
	return &DumbBuffer{
		Handle: fb.Handle,
		Pitch:  fb.Pitch,
		Size:   fb.Size,
		Width:  uint16(fb.Width),
		Height: uint16(fb.Height),
		BPP:    fb.BPP,
	}, nil
}

func (c *Card) MapDumb(handle uint32, size uint64) ([]byte, error) {
	offset, err := mode.MapDumb(c.file, handle)
	if err != nil {
		return nil, errors.New(err)
	}
	mem, err := unix.Mmap(int(c.fd()), int64(offset), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.New(err)
	}
	return mem, nil
}

func (c *Card) UnmapDumb(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return errors.New(err)
	}
	return nil
}

func (c *Card) DestroyDumb(handle uint32) error {
	if err := mode.DestroyDumb(c.file, handle); err != nil {
		return errors.New(err)
	}
	return nil
}

func (c *Card) Close() error {
	if c == nil || c.file == nil {
		return nil
	}
	if err := c.file.Close(); err != nil {
		return errors.New(err)
	}
	return nil
}
