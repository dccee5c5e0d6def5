package display

import (
	"context"
	"errors"
	"image/color"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srlehn/kmsdisplay/alloc"
	"github.com/srlehn/kmsdisplay/internal/kmstest"
	"github.com/srlehn/kmsdisplay/kms"
	"github.com/srlehn/kmsdisplay/render"
	_ "github.com/srlehn/kmsdisplay/render/soft"
)

const (
	testCRTC      = 10
	testConnector = 20
)

func newTestOutput(t *testing.T) (*kmstest.Device, *Output) {
	t.Helper()
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)

	dev := kmstest.New()
	dev.AddCRTCs(testCRTC)
	require.NoError(t, dev.SetMaster())
	ad, err := alloc.NewDevice(dev)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ad.Close() })
	backend, err := render.GetBackendByName(`soft`)
	require.NoError(t, err)
	d, err := render.OpenDisplay(backend, ad, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	master, err := render.NewSurfacelessContext(d)
	require.NoError(t, err)
	t.Cleanup(func() { _ = master.Close() })

	out, err := NewOutput(dev, ad, master, 32, 16, testCRTC, OutputConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = out.Close() })
	return dev, out
}

func completeFlip(t *testing.T, dev *kmstest.Device, out *Output) {
	t.Helper()
	require.Equal(t, 1, dev.PendingFlips())
	dev.CompleteFlips()
	reg := newFlipRegistry()
	reg.add(out)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evs, err := dev.ReadEvents(ctx)
	require.NoError(t, err)
	for _, ev := range evs {
		assert.True(t, reg.dispatch(ev))
	}
}

func TestOutputSetMode(t *testing.T) {
	dev, out := newTestOutput(t)
	assert.Equal(t, StateUninitialized, out.State())
	assert.True(t, out.Valid())

	mode := kmstest.Mode(32, 16, true)
	require.NoError(t, out.SetMode(testConnector, mode))
	assert.Equal(t, StateModeSet, out.State())
	assert.Equal(t, uint32(testConnector), out.ConnectorID())

	calls := dev.SetCrtcCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(testCRTC), calls[0].CRTCID)
	assert.Equal(t, []uint32{testConnector}, calls[0].Connectors)
	assert.Equal(t, mode, calls[0].Mode)

	assert.Panics(t, func() { _ = out.SetMode(testConnector, mode) })
}

func TestOutputSetModeFailureCommitsNothing(t *testing.T) {
	dev, out := newTestOutput(t)
	dev.Fail(kmstest.OpSetCrtc, errors.New(`invalid argument`))
	err := out.SetMode(testConnector, kmstest.Mode(32, 16, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `couldn't set crtc mode`)
	assert.Equal(t, StateUninitialized, out.State())

	dev.Fail(kmstest.OpSetCrtc, nil)
	require.NoError(t, out.SetMode(testConnector, kmstest.Mode(32, 16, true)))
	assert.Equal(t, StateModeSet, out.State())
}

func TestOutputFlipSequence(t *testing.T) {
	dev, out := newTestOutput(t)
	assert.Panics(t, func() { _ = out.BeginSwapBuffers() })
	require.NoError(t, out.SetMode(testConnector, kmstest.Mode(32, 16, true)))

	require.NoError(t, out.Clear(color.White))
	require.NoError(t, out.BeginSwapBuffers())
	assert.True(t, out.FlipPending())
	assert.Equal(t, StateSteady, out.State())

	// no second flip while one is outstanding
	assert.Panics(t, func() { _ = out.BeginSwapBuffers() })
	assert.Panics(t, func() { _ = out.FinishSwapBuffers() })
	assert.Equal(t, 1, dev.PendingFlips())

	completeFlip(t, dev, out)
	assert.False(t, out.FlipPending())
	select {
	case <-out.Flipped():
	default:
		t.Fatal(`flip completion not signaled`)
	}
	require.NoError(t, out.FinishSwapBuffers())
	assert.Panics(t, func() { _ = out.FinishSwapBuffers() })
}

func TestOutputPolledFlipLeavesNoStaleSignal(t *testing.T) {
	dev, out := newTestOutput(t)
	require.NoError(t, out.SetMode(testConnector, kmstest.Mode(32, 16, true)))

	// first cycle waits by polling, Flipped is never read
	require.NoError(t, out.BeginSwapBuffers())
	completeFlip(t, dev, out)
	require.False(t, out.FlipPending())
	require.NoError(t, out.FinishSwapBuffers())

	require.NoError(t, out.BeginSwapBuffers())
	require.True(t, out.FlipPending())
	select {
	case <-out.Flipped():
		t.Fatal(`flip signaled while still pending`)
	default:
	}
	completeFlip(t, dev, out)
	select {
	case <-out.Flipped():
	default:
		t.Fatal(`flip completion not signaled`)
	}
	require.NoError(t, out.FinishSwapBuffers())
}

func TestOutputReusesFramebuffers(t *testing.T) {
	dev, out := newTestOutput(t)
	require.NoError(t, out.SetMode(testConnector, kmstest.Mode(32, 16, true)))
	for i := 0; i < 10; i++ {
		canvas, err := out.Canvas()
		require.NoError(t, err)
		canvas.Set(0, 0, color.RGBA{R: uint8(i), A: 0xff})
		require.NoError(t, out.BeginSwapBuffers())
		completeFlip(t, dev, out)
		require.NoError(t, out.FinishSwapBuffers())
	}
	assert.LessOrEqual(t, dev.AddFBCalls(), alloc.DefaultMaxBuffers)
	assert.LessOrEqual(t, dev.DumbBuffers(), alloc.DefaultMaxBuffers)
}

func TestOutputForeignThreadPanics(t *testing.T) {
	_, out := newTestOutput(t)
	require.NoError(t, out.SetMode(testConnector, kmstest.Mode(32, 16, true)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		assert.False(t, out.Valid())
		assert.Panics(t, func() { _ = out.BeginSwapBuffers() })
		assert.Panics(t, func() { _, _ = out.Canvas() })
		assert.Panics(t, func() { _ = out.Close() })
	}()
	<-done
	assert.True(t, out.Valid())
}

func TestOutputClose(t *testing.T) {
	dev, out := newTestOutput(t)
	require.NoError(t, out.SetMode(testConnector, kmstest.Mode(32, 16, true)))
	require.NoError(t, out.BeginSwapBuffers())

	// a pending flip is abandoned
	require.NoError(t, out.Close())
	assert.Equal(t, StateTornDown, out.State())
	assert.False(t, out.Valid())
	assert.Empty(t, dev.Framebuffers())
	assert.Zero(t, dev.DumbBuffers())
	assert.NoError(t, out.Close())
	assert.Panics(t, func() { _ = out.Clear(color.Black) })
}

func TestOutputValidWhileClosing(t *testing.T) {
	_, out := newTestOutput(t)
	require.NoError(t, out.SetMode(testConnector, kmstest.Mode(32, 16, true)))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		for {
			select {
			case <-stop:
				return
			default:
			}
			assert.False(t, out.Valid())
			_ = out.State()
		}
	}()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, out.Close())
	close(stop)
	<-done
	assert.Equal(t, StateTornDown, out.State())
}

func TestNewOutputNeedsMaster(t *testing.T) {
	dev, out := newTestOutput(t)
	o, err := NewOutput(dev, nil, nil, 32, 16, testCRTC, OutputConfig{})
	assert.Error(t, err)
	assert.Nil(t, o)
	assert.Equal(t, kms.ModeInfo{}, out.Mode())
}
