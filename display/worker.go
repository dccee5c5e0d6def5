package display

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/srlehn/kmsdisplay/internal/logx"
	"github.com/srlehn/kmsdisplay/kms"
)

// retry delay after a dropped frame
const dropDelay = 16 * time.Millisecond

// worker owns one Output on its own locked OS thread.
type worker struct {
	m      *Manager
	connID uint32
	out    *Output
	stop   chan struct{}
	done   chan struct{}
	frames uint64
}

// startWorker returns once the worker constructed and mode-set its Output,
// or failed doing so.
func (m *Manager) startWorker(connID, crtcID uint32, mode kms.ModeInfo) (*worker, error) {
	w := &worker{
		m:      m,
		connID: connID,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	ready := make(chan error, 1)
	go w.run(crtcID, mode, ready)
	if err := <-ready; err != nil {
		<-w.done
		return nil, err
	}
	return w, nil
}

func (w *worker) run(crtcID uint32, mode kms.ModeInfo, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	out, err := w.m.newOutput(w.connID, crtcID, mode)
	if err != nil {
		ready <- err
		return
	}
	w.out = out
	ready <- nil
	defer func() {
		logx.IsErr(out.Close(), out, slog.LevelWarn)
	}()
	logx.Debug(`output worker started`, out)

	for {
		select {
		case <-w.stop:
			return
		default:
		}
		if !w.present() {
			select {
			case <-w.stop:
				return
			case <-time.After(dropDelay):
			}
			continue
		}
		select {
		case <-w.stop:
			return
		case <-out.Flipped():
		}
		if logx.IsErr(out.FinishSwapBuffers(), out, slog.LevelWarn) {
			continue
		}
		w.frames++
		w.ack()
	}
}

// present renders and requests the flip. It reports false for a dropped frame.
func (w *worker) present() bool {
	out := w.out
	canvas, err := out.Canvas()
	if logx.IsErr(err, out, slog.LevelDebug) {
		return false
	}
	if err := w.m.frameFunc(out, canvas); logx.IsErr(err, out, slog.LevelWarn) {
		return false
	}
	return !logx.IsErr(out.BeginSwapBuffers(), out, slog.LevelDebug)
}

func (w *worker) ack() {
	if w.m.frameAcks == nil {
		return
	}
	ev := w.out.LastFlip()
	select {
	case w.m.frameAcks <- FrameAck{
		ConnectorID: w.connID,
		CRTCID:      w.out.CRTC(),
		Frame:       w.frames,
		Sequence:    ev.Sequence,
	}:
	default:
	}
}

func (w *worker) stopAndWait() {
	close(w.stop)
	<-w.done
}
