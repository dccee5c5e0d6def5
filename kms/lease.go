package kms

import (
	"sync"

	"github.com/srlehn/kmsdisplay/internal/errors"
)

// Lease is exclusive master access to one DRM device.
// Every handle created from the device borrows the lease and must be closed first.
type Lease struct {
	mu     sync.Mutex
	dev    Device
	master bool
	closed bool
}

// Open opens the device node at path and becomes master on it.
func Open(path string) (*Lease, error) {
	dev, err := OpenCard(path)
	if err != nil {
		return nil, err
	}
	l, err := Acquire(dev)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return l, nil
}

// Acquire becomes master on an already opened device. The lease takes
// ownership of dev only on success.
func Acquire(dev Device) (*Lease, error) {
	if dev == nil {
		return nil, errors.NilParam()
	}
	if err := dev.SetMaster(); err != nil {
		return nil, errors.WrapPrefix(err, `couldn't become drm master`)
	}
	return &Lease{dev: dev, master: true}, nil
}

func (l *Lease) Device() Device {
	if l == nil {
		return nil
	}
	return l.dev
}

func (l *Lease) IsMaster() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.master && !l.closed
}

// Close drops master and closes the device.
func (l *Lease) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var errs []error
	if l.master {
		if err := l.dev.DropMaster(); err != nil {
			errs = append(errs, errors.WrapPrefix(err, `couldn't drop drm master`))
		}
		l.master = false
	}
	if err := l.dev.Close(); err != nil {
		errs = append(errs, errors.New(err))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
