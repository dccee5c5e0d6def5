package display

import (
	"image/color"
	"image/draw"
	"log/slog"
	"time"

	"github.com/srlehn/kmsdisplay/internal/errors"
)

type Option interface {
	ApplyOption(m *Manager) error
}

var _ Option = (OptFunc)(nil)

type OptFunc func(*Manager) error

func (o OptFunc) ApplyOption(m *Manager) error { return o(m) }

var _ Option = (Options)(nil)

type Options []Option

func (o Options) ApplyOption(m *Manager) error { return m.setOptions([]Option(o)...) }

func (m *Manager) setOptions(opts ...Option) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.ApplyOption(m); err != nil {
			return errors.New(err)
		}
	}
	return nil
}

const DefaultPollInterval = 2 * time.Second

// FrameFunc draws the next frame of out into canvas. It runs on the
// Output's worker thread.
type FrameFunc func(out *Output, canvas draw.Image) error

// FrameAck reports a presented frame.
type FrameAck struct {
	ConnectorID uint32
	CRTCID      uint32
	Frame       uint64
	Sequence    uint32
}

// SetSLogger logs to h, or to slog.Default() if h is nil. Logging is off
// when enable is false.
func SetSLogger(h slog.Handler, enable bool) Option {
	return OptFunc(func(m *Manager) error {
		if enable {
			if h == nil {
				m.logger = slog.Default()
			} else {
				m.logger = slog.New(h)
			}
		} else {
			m.logger = nil
		}
		return nil
	})
}

// SetRenderBackend selects a registered rendering backend by name.
func SetRenderBackend(name string) Option {
	return OptFunc(func(m *Manager) error {
		if len(name) == 0 {
			return errors.New(`empty rendering backend name`)
		}
		m.backendName = name
		return nil
	})
}

// SetFrameFunc gives every Output its own worker thread that renders with fn
// and presents frame after frame.
func SetFrameFunc(fn FrameFunc) Option {
	return OptFunc(func(m *Manager) error {
		m.frameFunc = fn
		return nil
	})
}

// SetFrameAcks receives an ack per presented frame. Acks are dropped while
// the channel is full.
func SetFrameAcks(acks chan<- FrameAck) Option {
	return OptFunc(func(m *Manager) error {
		m.frameAcks = acks
		return nil
	})
}

// SetPollInterval sets the reconciliation interval of Run.
func SetPollInterval(d time.Duration) Option {
	return OptFunc(func(m *Manager) error {
		if d <= 0 {
			return errors.Errorf(`invalid poll interval %s`, d)
		}
		m.pollInterval = d
		return nil
	})
}

// SetClearColor sets the color shown right after the mode-set.
func SetClearColor(c color.Color) Option {
	return OptFunc(func(m *Manager) error {
		m.clearColor = c
		return nil
	})
}

// SetBufferCount sets the number of buffers per Output swapchain.
// Double buffering with page flips needs at least 2.
func SetBufferCount(n int) Option {
	return OptFunc(func(m *Manager) error {
		if n < 2 {
			return errors.Errorf(`buffer count %d below 2`, n)
		}
		m.bufferCount = n
		return nil
	})
}
