package display_test

import (
	"context"
	"errors"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srlehn/kmsdisplay/display"
	"github.com/srlehn/kmsdisplay/internal/kmstest"
	"github.com/srlehn/kmsdisplay/internal/linux"
	"github.com/srlehn/kmsdisplay/kms"
	_ "github.com/srlehn/kmsdisplay/render/soft"
)

const (
	crtcA = 100 + iota
	crtcB
	crtcC
	crtcD
)

func singleHeadDevice() *kmstest.Device {
	dev := kmstest.New()
	dev.AddCRTCs(crtcA)
	dev.AddEncoder(200, 0b1)
	dev.AddConnector(300, true, []uint32{200}, kmstest.Mode(1024, 768, true))
	return dev
}

func newManager(t *testing.T, dev *kmstest.Device, opts ...display.Option) *display.Manager {
	t.Helper()
	lease, err := kms.Acquire(dev)
	require.NoError(t, err)
	m, err := display.New(lease, append([]display.Option{display.SetSLogger(nil, false)}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestManagerEndToEnd(t *testing.T) {
	dev := singleHeadDevice()
	m := newManager(t, dev)
	assert.Equal(t, []uint32{crtcA}, m.FreeCRTCs())

	require.NoError(t, m.UpdateConnections())
	outs := m.Outputs()
	require.Len(t, outs, 1)
	out := outs[0]
	assert.Equal(t, uint32(crtcA), out.CRTC())
	assert.Equal(t, uint32(300), out.ConnectorID())
	assert.Equal(t, display.StateModeSet, out.State())
	assert.Equal(t, 1024, out.Width())
	assert.Equal(t, 768, out.Height())
	assert.Empty(t, m.FreeCRTCs())

	calls := dev.SetCrtcCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(crtcA), calls[0].CRTCID)
	assert.Equal(t, []uint32{300}, calls[0].Connectors)
	assert.Equal(t, 1024, calls[0].Mode.Width())

	// an unchanged pass changes nothing
	require.NoError(t, m.UpdateConnections())
	assert.Len(t, m.Outputs(), 1)
	assert.Len(t, dev.SetCrtcCalls(), 1)

	dev.SetConnected(300, false)
	require.NoError(t, m.UpdateConnections())
	assert.Empty(t, m.Outputs())
	assert.Equal(t, []uint32{crtcA}, m.FreeCRTCs())
	assert.Empty(t, dev.Framebuffers())

	require.NoError(t, m.Close())
	assert.False(t, dev.IsMaster())
	assert.True(t, dev.Closed())
	assert.NoError(t, m.Close())
}

func TestManagerCRTCReuse(t *testing.T) {
	dev := singleHeadDevice()
	m := newManager(t, dev)
	defer m.Close()
	for i := 0; i < 5; i++ {
		dev.SetConnected(300, true)
		require.NoError(t, m.UpdateConnections())
		out, ok := m.Output(300)
		require.True(t, ok, `pass %d`, i)
		assert.Equal(t, uint32(crtcA), out.CRTC())

		dev.SetConnected(300, false)
		require.NoError(t, m.UpdateConnections())
		assert.Equal(t, []uint32{crtcA}, m.FreeCRTCs())
	}
	assert.Zero(t, dev.DumbBuffers())
}

func TestManagerCRTCUniqueness(t *testing.T) {
	dev := kmstest.New()
	dev.AddCRTCs(crtcA, crtcB)
	dev.AddEncoder(200, 0b11)
	for _, id := range []uint32{300, 301, 302} {
		dev.AddConnector(id, true, []uint32{200}, kmstest.Mode(640, 480, false))
	}
	m := newManager(t, dev)
	defer m.Close()

	require.NoError(t, m.UpdateConnections())
	outs := m.Outputs()
	require.Len(t, outs, 2)
	assert.NotEqual(t, outs[0].CRTC(), outs[1].CRTC())
	_, ok := m.Output(302)
	assert.False(t, ok)

	// 300 is processed before 302 and hands over its CRTC in the same pass
	dev.SetConnected(300, false)
	require.NoError(t, m.UpdateConnections())
	outs = m.Outputs()
	require.Len(t, outs, 2)
	seen := map[uint32]bool{}
	for _, o := range outs {
		assert.False(t, seen[o.CRTC()])
		seen[o.CRTC()] = true
	}
	_, ok = m.Output(302)
	assert.True(t, ok)
}

func TestFindCRTC(t *testing.T) {
	dev := kmstest.New()
	dev.AddCRTCs(crtcA, crtcB, crtcC, crtcD)
	dev.AddEncoder(200, 1<<2)
	dev.AddConnector(300, true, []uint32{999, 200}, kmstest.Mode(640, 480, true))
	res, err := kms.GetResources(dev)
	require.NoError(t, err)
	conn, err := kms.GetConnector(dev, 300)
	require.NoError(t, err)

	free := map[uint32]bool{crtcC: true}
	isFree := func(id uint32) bool { return free[id] }
	crtc, ok := display.FindCRTC(dev, res, conn, isFree, nil)
	assert.True(t, ok)
	assert.Equal(t, uint32(crtcC), crtc)

	free[crtcC] = false
	free[crtcA] = true
	_, ok = display.FindCRTC(dev, res, conn, isFree, nil)
	assert.False(t, ok)
}

func TestManagerVanishedConnector(t *testing.T) {
	dev := singleHeadDevice()
	m := newManager(t, dev)
	defer m.Close()
	require.NoError(t, m.UpdateConnections())
	require.Len(t, m.Outputs(), 1)

	dev.RemoveConnector(300)
	require.NoError(t, m.UpdateConnections())
	assert.Empty(t, m.Outputs())
	assert.Equal(t, []uint32{crtcA}, m.FreeCRTCs())
}

func TestManagerPartialFailure(t *testing.T) {
	dev := singleHeadDevice()
	dev.AddCRTCs(crtcB)
	dev.AddEncoder(201, 0b10)
	dev.AddConnector(301, true, []uint32{201})
	m := newManager(t, dev)
	defer m.Close()

	// 301 has no modes, 300 fails its mode-set
	dev.Fail(kmstest.OpSetCrtc, errors.New(`invalid argument`))
	require.NoError(t, m.UpdateConnections())
	assert.Empty(t, m.Outputs())
	assert.Equal(t, []uint32{crtcA, crtcB}, m.FreeCRTCs())
	assert.Zero(t, dev.DumbBuffers())

	dev.Fail(kmstest.OpSetCrtc, nil)
	require.NoError(t, m.UpdateConnections())
	require.Len(t, m.Outputs(), 1)
	_, ok := m.Output(300)
	assert.True(t, ok)
	assert.Equal(t, []uint32{crtcB}, m.FreeCRTCs())
}

func TestManagerSnapshotFailure(t *testing.T) {
	dev := singleHeadDevice()
	m := newManager(t, dev)
	defer m.Close()
	dev.Fail(kmstest.OpGetResources, errors.New(`no such device`))
	assert.Error(t, m.UpdateConnections())
}

func TestNewAbortsCleanly(t *testing.T) {
	dev := singleHeadDevice()
	dev.SetCap(kms.CapDumbBuffer, 0)
	lease, err := kms.Acquire(dev)
	require.NoError(t, err)
	m, err := display.New(lease, display.SetSLogger(nil, false))
	assert.Nil(t, m)
	assert.ErrorIs(t, err, kms.ErrNoDumbBuffer)
	assert.False(t, dev.IsMaster())
	assert.True(t, dev.Closed())
}

func TestNewUnknownBackend(t *testing.T) {
	dev := singleHeadDevice()
	lease, err := kms.Acquire(dev)
	require.NoError(t, err)
	_, err = display.New(lease, display.SetSLogger(nil, false), display.SetRenderBackend(`vulkan`))
	assert.Error(t, err)
	assert.True(t, dev.Closed())
}

func TestManagerFlipDispatch(t *testing.T) {
	dev := singleHeadDevice()
	m := newManager(t, dev)
	defer m.Close()
	require.NoError(t, m.UpdateConnections())
	out, ok := m.Output(300)
	require.True(t, ok)
	require.True(t, out.Valid())

	require.NoError(t, out.BeginSwapBuffers())
	assert.True(t, out.FlipPending())
	dev.QueueEvent(kms.Event{Type: kms.EventFlipComplete, UserData: out.FlipToken() + 1000})
	dev.CompleteFlips()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.HandleEvent(ctx))
	assert.False(t, out.FlipPending())
	require.NoError(t, out.FinishSwapBuffers())
}

func TestManagerWorkers(t *testing.T) {
	dev := singleHeadDevice()
	acks := make(chan display.FrameAck, 16)
	frameFunc := func(out *display.Output, canvas draw.Image) error {
		canvas.Set(0, 0, color.RGBA{B: 0xff, A: 0xff})
		return nil
	}
	m := newManager(t, dev, display.SetFrameFunc(frameFunc), display.SetFrameAcks(acks), display.SetBufferCount(2))
	defer m.Close()

	require.NoError(t, m.UpdateConnections())
	out, ok := m.Output(300)
	require.True(t, ok)
	assert.NotEqual(t, linux.ThreadID(), out.Thread())
	assert.Empty(t, m.FreeCRTCs())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for frame := uint64(1); frame <= 3; frame++ {
		require.Eventually(t, func() bool { return dev.PendingFlips() == 1 }, 2*time.Second, time.Millisecond)
		dev.CompleteFlips()
		require.NoError(t, m.HandleEvent(ctx))
		select {
		case ack := <-acks:
			assert.Equal(t, uint32(300), ack.ConnectorID)
			assert.Equal(t, uint32(crtcA), ack.CRTCID)
			assert.Equal(t, frame, ack.Frame)
		case <-ctx.Done():
			t.Fatal(`no frame ack`)
		}
	}

	dev.SetConnected(300, false)
	require.NoError(t, m.UpdateConnections())
	assert.Empty(t, m.Outputs())
	assert.Equal(t, []uint32{crtcA}, m.FreeCRTCs())
	assert.Zero(t, dev.DumbBuffers())
}

func TestManagerRun(t *testing.T) {
	dev := singleHeadDevice()
	m := newManager(t, dev, display.SetPollInterval(5*time.Millisecond))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		assert.Eventually(t, func() bool { return len(m.Outputs()) == 1 }, 2*time.Second, time.Millisecond)
		dev.SetConnected(300, false)
		assert.Eventually(t, func() bool { return len(m.Outputs()) == 0 }, 2*time.Second, time.Millisecond)
		cancel()
	}()
	require.NoError(t, m.Run(ctx))
	assert.Empty(t, m.Outputs())
	assert.Equal(t, []uint32{crtcA}, m.FreeCRTCs())
}

func TestOptionValidation(t *testing.T) {
	dev := singleHeadDevice()
	lease, err := kms.Acquire(dev)
	require.NoError(t, err)
	_, err = display.New(lease, display.SetBufferCount(1))
	assert.Error(t, err)
}
