// Package kmstest provides an in-memory kms.Device for tests.
package kmstest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/kms"
)

var (
	ErrBusy     = errors.New(`device or resource busy`)
	ErrNotFound = errors.New(`no such object`)
	ErrClosed   = errors.New(`device closed`)
)

// operation names accepted by Fail
const (
	OpSetMaster    = `SetMaster`
	OpGetResources = `GetResources`
	OpGetConnector = `GetConnector`
	OpGetEncoder   = `GetEncoder`
	OpAddFB        = `AddFB`
	OpSetCrtc      = `SetCrtc`
	OpPageFlip     = `PageFlip`
	OpCreateDumb   = `CreateDumb`
	OpMapDumb      = `MapDumb`
)

const ConnectorTypeHDMIA = 11

type SetCrtcCall struct {
	CRTCID     uint32
	FBID       uint32
	Connectors []uint32
	Mode       kms.ModeInfo
}

type Framebuffer struct {
	ID     uint32
	Width  uint16
	Height uint16
	Depth  uint8
	BPP    uint8
	Pitch  uint32
	Handle uint32
}

type flip struct {
	fbID     uint32
	userData uint64
}

var _ kms.Device = (*Device)(nil)

// Device is a fake kernel mode-setting device. Connectors, encoders and CRTCs
// are configured with the Add* methods; page flips stay pending until
// CompleteFlips is called.
type Device struct {
	mu sync.Mutex

	crtcs      []uint32
	connectors []uint32
	conns      map[uint32]*kms.ConnectorInfo
	encoders   map[uint32]*kms.EncoderInfo
	caps       map[uint64]uint64
	fail       map[string]error

	fbs        map[uint32]Framebuffer
	nextFB     uint32
	dumbs      map[uint32][]byte
	nextHandle uint32

	scanout  map[uint32]uint32
	pending  map[uint32]flip
	sequence uint32
	events   chan kms.Event

	master       bool
	closed       bool
	setCrtcCalls []SetCrtcCall
	addFBCalls   int
}

func New() *Device {
	return &Device{
		conns:    make(map[uint32]*kms.ConnectorInfo),
		encoders: make(map[uint32]*kms.EncoderInfo),
		caps:     map[uint64]uint64{kms.CapDumbBuffer: 1},
		fail:     make(map[string]error),
		fbs:      make(map[uint32]Framebuffer),
		dumbs:    make(map[uint32][]byte),
		scanout:  make(map[uint32]uint32),
		pending:  make(map[uint32]flip),
		events:   make(chan kms.Event, 64),
	}
}

// Mode returns a mode of the given size.
func Mode(width, height int, preferred bool) kms.ModeInfo {
	m := kms.ModeInfo{
		Hdisplay: uint16(width),
		Vdisplay: uint16(height),
		Vrefresh: 60,
	}
	if preferred {
		m.Type |= kms.ModeTypePreferred
	}
	copy(m.Name[:], fmt.Sprintf(`%dx%d`, width, height))
	return m
}

func (d *Device) AddCRTCs(ids ...uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crtcs = append(d.crtcs, ids...)
}

func (d *Device) AddEncoder(id, possibleCRTCs uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.encoders[id] = &kms.EncoderInfo{ID: id, PossibleCRTCs: possibleCRTCs}
}

func (d *Device) AddConnector(id uint32, connected bool, encoders []uint32, modes ...kms.ModeInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.conns[id]; !ok {
		d.connectors = append(d.connectors, id)
	}
	// all connectors are HDMI-A, numbered in insertion order
	d.conns[id] = &kms.ConnectorInfo{
		ID:         id,
		Type:       ConnectorTypeHDMIA,
		TypeID:     uint32(slices.Index(d.connectors, id) + 1),
		Connection: connection(connected),
		Encoders:   slices.Clone(encoders),
		Modes:      slices.Clone(modes),
	}
}

func (d *Device) SetConnected(id uint32, connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[id]; ok {
		c.Connection = connection(connected)
	}
}

// RemoveConnector drops the connector from the resource snapshot entirely.
func (d *Device) RemoveConnector(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, id)
	d.connectors = slices.DeleteFunc(d.connectors, func(c uint32) bool { return c == id })
}

func (d *Device) SetCap(capability, value uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps[capability] = value
}

// Fail makes every later call of op return err. A nil err clears the failure.
func (d *Device) Fail(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, op)
		return
	}
	d.fail[op] = err
}

func connection(connected bool) kms.Connection {
	if connected {
		return kms.Connected
	}
	return kms.Disconnected
}

func (d *Device) failure(op string) error {
	if d.closed {
		return ErrClosed
	}
	return d.fail[op]
}

func (d *Device) SetMaster() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure(OpSetMaster); err != nil {
		return err
	}
	d.master = true
	return nil
}

func (d *Device) DropMaster() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.master {
		return errors.New(kms.ErrNotMaster)
	}
	d.master = false
	return nil
}

func (d *Device) GetCap(capability uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps[capability], nil
}

func (d *Device) GetResources() (*kms.ResourcesInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure(OpGetResources); err != nil {
		return nil, err
	}
	encs := make([]uint32, 0, len(d.encoders))
	for id := range d.encoders {
		encs = append(encs, id)
	}
	slices.Sort(encs)
	return &kms.ResourcesInfo{
		CRTCs:      slices.Clone(d.crtcs),
		Connectors: slices.Clone(d.connectors),
		Encoders:   encs,
	}, nil
}

func (d *Device) GetConnector(id uint32) (*kms.ConnectorInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure(OpGetConnector); err != nil {
		return nil, err
	}
	c, ok := d.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	info := *c
	info.Encoders = slices.Clone(c.Encoders)
	info.Modes = slices.Clone(c.Modes)
	return &info, nil
}

func (d *Device) GetEncoder(id uint32) (*kms.EncoderInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure(OpGetEncoder); err != nil {
		return nil, err
	}
	e, ok := d.encoders[id]
	if !ok {
		return nil, ErrNotFound
	}
	info := *e
	return &info, nil
}

func (d *Device) AddFB(width, height uint16, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure(OpAddFB); err != nil {
		return 0, err
	}
	if !d.master {
		return 0, errors.New(kms.ErrNotMaster)
	}
	if _, ok := d.dumbs[handle]; !ok {
		return 0, ErrNotFound
	}
	d.addFBCalls++
	d.nextFB++
	d.fbs[d.nextFB] = Framebuffer{
		ID:     d.nextFB,
		Width:  width,
		Height: height,
		Depth:  depth,
		BPP:    bpp,
		Pitch:  pitch,
		Handle: handle,
	}
	return d.nextFB, nil
}

func (d *Device) RmFB(fbID uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fbs[fbID]; !ok {
		return ErrNotFound
	}
	delete(d.fbs, fbID)
	return nil
}

func (d *Device) SetCrtc(crtcID, fbID uint32, connectors []uint32, mode *kms.ModeInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure(OpSetCrtc); err != nil {
		return err
	}
	if !slices.Contains(d.crtcs, crtcID) {
		return ErrNotFound
	}
	if _, ok := d.fbs[fbID]; !ok {
		return ErrNotFound
	}
	call := SetCrtcCall{CRTCID: crtcID, FBID: fbID, Connectors: slices.Clone(connectors)}
	if mode != nil {
		call.Mode = *mode
	}
	d.setCrtcCalls = append(d.setCrtcCalls, call)
	d.scanout[crtcID] = fbID
	return nil
}

func (d *Device) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure(OpPageFlip); err != nil {
		return err
	}
	if _, ok := d.fbs[fbID]; !ok {
		return ErrNotFound
	}
	if _, busy := d.pending[crtcID]; busy {
		return ErrBusy
	}
	if flags&kms.PageFlipEvent == 0 {
		d.scanout[crtcID] = fbID
		return nil
	}
	d.pending[crtcID] = flip{fbID: fbID, userData: userData}
	return nil
}

// CompleteFlips signals vblank on every CRTC with a pending flip and queues
// the completion events. It returns the number of completed flips.
func (d *Device) CompleteFlips() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	crtcs := make([]uint32, 0, len(d.pending))
	for c := range d.pending {
		crtcs = append(crtcs, c)
	}
	slices.Sort(crtcs)
	for _, c := range crtcs {
		f := d.pending[c]
		delete(d.pending, c)
		d.scanout[c] = f.fbID
		d.sequence++
		d.events <- kms.Event{
			Type:     kms.EventFlipComplete,
			UserData: f.userData,
			Sequence: d.sequence,
			CRTCID:   c,
		}
	}
	return len(crtcs)
}

// QueueEvent injects an arbitrary event.
func (d *Device) QueueEvent(ev kms.Event) { d.events <- ev }

func (d *Device) ReadEvents(ctx context.Context) ([]kms.Event, error) {
	var evs []kms.Event
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev := <-d.events:
		evs = append(evs, ev)
	}
	for {
		select {
		case ev := <-d.events:
			evs = append(evs, ev)
		default:
			return evs, nil
		}
	}
}

func (d *Device) CreateDumb(width, height uint16, bpp uint32) (*kms.DumbBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure(OpCreateDumb); err != nil {
		return nil, err
	}
	pitch := uint32(width) * ((bpp + 7) / 8)
	size := uint64(pitch) * uint64(height)
	d.nextHandle++
	d.dumbs[d.nextHandle] = make([]byte, size)
	return &kms.DumbBuffer{
		Handle: d.nextHandle,
		Pitch:  pitch,
		Size:   size,
		Width:  width,
		Height: height,
		BPP:    bpp,
	}, nil
}

func (d *Device) MapDumb(handle uint32, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure(OpMapDumb); err != nil {
		return nil, err
	}
	mem, ok := d.dumbs[handle]
	if !ok || uint64(len(mem)) < size {
		return nil, ErrNotFound
	}
	return mem[:size], nil
}

func (d *Device) UnmapDumb(mem []byte) error { return nil }

func (d *Device) DestroyDumb(handle uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.dumbs[handle]; !ok {
		return ErrNotFound
	}
	delete(d.dumbs, handle)
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// inspection

func (d *Device) IsMaster() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.master
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) SetCrtcCalls() []SetCrtcCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.setCrtcCalls)
}

// AddFBCalls counts successful AddFB calls.
func (d *Device) AddFBCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addFBCalls
}

// Framebuffers returns the live kernel framebuffers ordered by id.
func (d *Device) Framebuffers() []Framebuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	fbs := make([]Framebuffer, 0, len(d.fbs))
	for _, fb := range d.fbs {
		fbs = append(fbs, fb)
	}
	slices.SortFunc(fbs, func(a, b Framebuffer) int { return int(a.ID) - int(b.ID) })
	return fbs
}

func (d *Device) DumbBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dumbs)
}

// DumbData returns the backing memory of a dumb buffer.
func (d *Device) DumbData(handle uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dumbs[handle]
}

func (d *Device) PendingFlips() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// ScanoutFB returns the framebuffer currently shown by crtcID.
func (d *Device) ScanoutFB(crtcID uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanout[crtcID]
}
