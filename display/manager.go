// Package display turns the kernel's connectors and CRTCs into mode-set,
// double buffered Outputs and keeps them in sync with hot-plug state.
package display

import (
	"context"
	"image/color"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/srlehn/kmsdisplay/alloc"
	"github.com/srlehn/kmsdisplay/internal"
	"github.com/srlehn/kmsdisplay/internal/consts"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/linux"
	"github.com/srlehn/kmsdisplay/internal/logx"
	"github.com/srlehn/kmsdisplay/kms"
	"github.com/srlehn/kmsdisplay/render"
)

var (
	ErrFlipPending    = consts.ErrFlipPending
	ErrNoCurrentFront = consts.ErrNoCurrentFront
	ErrOutputClosed   = consts.ErrOutputClosed
	ErrNoFreeCRTC     = consts.ErrNoFreeCRTC
	ErrManagerClosed  = consts.ErrManagerClosed
)

var _ logx.LoggerProvider = (*Manager)(nil)

// Manager owns one GPU: the master lease, the allocator device, the
// rendering connection with its master context, the connector→Output map
// and the pool of unassigned CRTCs.
//
// The Manager is bound to the OS thread of the goroutine that created it.
// UpdateConnections, Run and Close must be called from that goroutine.
type Manager struct {
	lease   *kms.Lease
	dev     kms.Device
	alloc   *alloc.Device
	display *render.Display
	master  *render.SurfacelessContext
	closer  internal.Closer
	thread  int

	logger       *slog.Logger
	backendName  string
	frameFunc    FrameFunc
	frameAcks    chan<- FrameAck
	pollInterval time.Duration
	clearColor   color.Color
	bufferCount  int

	// mu guards the maps for readers on other goroutines; they are only
	// written by the reconciliation pass
	mu      sync.RWMutex
	outputs map[uint32]*Output
	workers map[uint32]*worker
	crtcs   *crtcPool
	flips   *flipRegistry
	closed  bool
}

// Open opens the device node at path as master and builds a Manager on it.
func Open(path string, opts ...Option) (*Manager, error) {
	if len(path) == 0 {
		path = consts.DefaultDevicePath
	}
	lease, err := kms.Open(path)
	if err != nil {
		return nil, err
	}
	return New(lease, opts...)
}

// New builds a Manager on lease. The Manager owns the lease, also when
// construction fails. The calling goroutine is locked to its OS thread
// until Close.
func New(lease *kms.Lease, opts ...Option) (_ *Manager, err error) {
	if lease == nil {
		return nil, errors.NilParam()
	}
	runtime.LockOSThread()
	closer := internal.NewCloser()
	closer.AddClosers(lease)
	defer func() {
		if err != nil {
			_ = closer.Close()
			runtime.UnlockOSThread()
		}
	}()
	m := &Manager{
		lease:        lease,
		dev:          lease.Device(),
		closer:       closer,
		thread:       linux.ThreadID(),
		logger:       slog.Default(),
		backendName:  consts.DefaultBackendName,
		pollInterval: DefaultPollInterval,
		outputs:      make(map[uint32]*Output),
		workers:      make(map[uint32]*worker),
		flips:        newFlipRegistry(),
	}
	if err := m.setOptions(opts...); err != nil {
		return nil, err
	}
	if !lease.IsMaster() {
		return nil, errors.New(kms.ErrNotMaster)
	}
	m.alloc, err = alloc.NewDevice(m.dev)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't create allocator device`)
	}
	closer.AddClosers(m.alloc)
	backend, err := render.GetBackendByName(m.backendName)
	if err != nil {
		return nil, err
	}
	m.display, err = render.OpenDisplay(backend, m.alloc, m.logger)
	if err != nil {
		return nil, err
	}
	closer.AddClosers(m.display)
	m.master, err = render.NewSurfacelessContext(m.display)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't create master context`)
	}
	closer.AddClosers(m.master)
	res, err := kms.GetResources(m.dev)
	if err != nil {
		return nil, err
	}
	m.crtcs = newCRTCPool(res.CRTCs())
	logx.Info(`device manager ready`, m, `crtcs`, len(res.CRTCs()), `connectors`, len(res.Connectors()), `backend`, m.backendName)
	return m, nil
}

func (m *Manager) Logger() *slog.Logger {
	if m == nil {
		return nil
	}
	return m.logger
}

func (m *Manager) checkThread() {
	if linux.ThreadID() != m.thread {
		panic(errors.Usage(render.ErrWrongThread))
	}
}

func (m *Manager) Device() kms.Device                 { return m.dev }
func (m *Manager) AllocDevice() *alloc.Device         { return m.alloc }
func (m *Manager) Display() *render.Display           { return m.display }
func (m *Manager) Master() *render.SurfacelessContext { return m.master }

// Output returns the Output driving connectorID.
func (m *Manager) Output(connectorID uint32) (*Output, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outputs[connectorID]
	return o, ok
}

// Outputs returns the live Outputs ordered by connector id.
func (m *Manager) Outputs() []*Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	outs := make([]*Output, 0, len(m.outputs))
	for _, id := range slices.Sorted(maps.Keys(m.outputs)) {
		outs = append(outs, m.outputs[id])
	}
	return outs
}

// FreeCRTCs returns the unassigned CRTC ids in ascending order.
func (m *Manager) FreeCRTCs() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.crtcs.list()
}

// FindCRTCForConnector returns the first free CRTC one of conn's encoders can drive.
func (m *Manager) FindCRTCForConnector(res *kms.Resources, conn *kms.Connector) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return FindCRTC(m.dev, res, conn, m.crtcs.isFree, m)
}

// UpdateConnections reconciles the Outputs with the connectors' state:
// disconnected (or vanished) connectors lose their Output and CRTC, newly
// connected ones get a mode-set Output on a free CRTC. Failures are logged
// per connector and retried on the next call. Only a failing resource
// snapshot is returned as error.
func (m *Manager) UpdateConnections() error {
	m.checkThread()
	if m.closed {
		return errors.New(ErrManagerClosed)
	}
	res, err := kms.GetResources(m.dev)
	if logx.IsErr(err, m, slog.LevelError) {
		return err
	}
	seen := make(map[uint32]struct{})
	for _, connID := range res.Connectors() {
		seen[connID] = struct{}{}
		conn, err := kms.GetConnector(m.dev, connID)
		if logx.IsErr(err, m, slog.LevelError, `connector`, connID) {
			continue
		}
		_, tracked := m.Output(connID)
		switch {
		case tracked && !conn.IsConnected():
			logx.Info(`connector disconnected`, m, `connector`, connID)
			m.removeOutput(connID)
		case !tracked && conn.IsConnected():
			err := m.addOutput(res, conn)
			logx.IsErr(err, m, slog.LevelError, `connector`, connID)
		}
	}
	m.mu.RLock()
	tracked := slices.Sorted(maps.Keys(m.outputs))
	m.mu.RUnlock()
	for _, connID := range tracked {
		if _, ok := seen[connID]; !ok {
			logx.Info(`connector vanished`, m, `connector`, connID)
			m.removeOutput(connID)
		}
	}
	return nil
}

func (m *Manager) addOutput(res *kms.Resources, conn *kms.Connector) error {
	mode, err := conn.BestMode()
	if err != nil {
		return err
	}
	m.mu.RLock()
	free := m.crtcs.len()
	m.mu.RUnlock()
	if free == 0 {
		return errors.New(ErrNoFreeCRTC)
	}
	crtcID, ok := m.FindCRTCForConnector(res, conn)
	if !ok {
		return errors.New(ErrNoFreeCRTC)
	}
	var (
		out *Output
		w   *worker
	)
	if m.frameFunc != nil {
		w, err = m.startWorker(conn.ID(), crtcID, mode)
		if err != nil {
			return err
		}
		out = w.out
	} else {
		out, err = m.newOutput(conn.ID(), crtcID, mode)
		if err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.outputs[conn.ID()] = out
	if w != nil {
		m.workers[conn.ID()] = w
	}
	m.crtcs.take(crtcID)
	m.mu.Unlock()
	m.flips.add(out)
	logx.Info(`output added`, m, `connector`, conn.ID(), `crtc`, crtcID, `mode`, mode.String())
	return nil
}

// newOutput runs on the thread that will own the Output.
func (m *Manager) newOutput(connID, crtcID uint32, mode kms.ModeInfo) (*Output, error) {
	out, err := NewOutput(m.dev, m.alloc, m.master, mode.Width(), mode.Height(), crtcID, OutputConfig{
		Logger:      m.logger,
		ClearColor:  m.clearColor,
		BufferCount: m.bufferCount,
	})
	if err != nil {
		return nil, err
	}
	if err := out.SetMode(connID, mode); err != nil {
		logx.IsErr(out.Close(), m, slog.LevelWarn, `connector`, connID)
		return nil, err
	}
	return out, nil
}

// removeOutput waits for the Output's worker before the CRTC becomes free.
func (m *Manager) removeOutput(connID uint32) {
	m.mu.RLock()
	out, ok := m.outputs[connID]
	w := m.workers[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if w != nil {
		w.stopAndWait()
	} else {
		logx.IsErr(out.Close(), m, slog.LevelWarn, `connector`, connID)
	}
	m.flips.remove(out)
	m.mu.Lock()
	delete(m.outputs, connID)
	delete(m.workers, connID)
	m.crtcs.put(out.CRTC())
	m.mu.Unlock()
	logx.Info(`output removed`, m, `connector`, connID, `crtc`, out.CRTC())
}

// HandleEvent blocks for one batch of device events and marks the flips of
// the matching Outputs as completed. It may be called from any goroutine.
func (m *Manager) HandleEvent(ctx context.Context) error {
	return kms.HandleEvent(ctx, m.dev, func(ev kms.Event) {
		if !m.flips.dispatch(ev) {
			logx.Debug(`flip event for unknown output`, m, `token`, ev.UserData, `crtc`, ev.CRTCID)
		}
	})
}

// Run reconciles every poll interval on the calling thread and dispatches
// device events on another goroutine until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.checkThread()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			err := m.HandleEvent(gctx)
			if gctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
		}
	})
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		_ = m.UpdateConnections()
		select {
		case <-gctx.Done():
			return g.Wait()
		case <-ticker.C:
		}
	}
}

// Close tears down all Outputs and their workers, then the master context,
// the rendering connection, the allocator device and the lease.
func (m *Manager) Close() error {
	if m == nil || m.closed {
		return nil
	}
	m.checkThread()
	m.mu.RLock()
	connIDs := slices.Sorted(maps.Keys(m.outputs))
	m.mu.RUnlock()
	for _, connID := range connIDs {
		m.removeOutput(connID)
	}
	m.closed = true
	err := m.closer.Close()
	runtime.UnlockOSThread()
	return err
}
