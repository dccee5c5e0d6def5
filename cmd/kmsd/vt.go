package main

import (
	"os"

	"github.com/containerd/console"

	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/linux"
)

// vtGraphics switches the virtual terminal to graphics mode, so the
// kernel console doesn't draw over the outputs, and stops key echo.
type vtGraphics struct {
	console console.Console
	prev    linux.KDMode
}

func newVTGraphics(ttyFile string) (_ *vtGraphics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(r)
		}
	}()
	f, err := os.OpenFile(ttyFile, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.New(err)
	}
	c, err := console.ConsoleFromFile(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.New(err)
	}
	prev, isConsole, err := linux.KDGetMode(c.Fd())
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if !isConsole {
		_ = c.Close()
		return nil, errors.Errorf(`%s is not a virtual terminal`, ttyFile)
	}
	if err := c.SetRaw(); err != nil {
		_ = c.Close()
		return nil, errors.New(err)
	}
	if err := linux.KDSetMode(c.Fd(), linux.KDGraphics); err != nil {
		_ = c.Reset()
		_ = c.Close()
		return nil, err
	}
	return &vtGraphics{console: c, prev: prev}, nil
}

func (v *vtGraphics) Close() error {
	if v == nil || v.console == nil {
		return nil
	}
	defer func() { v.console = nil }()
	errMode := linux.KDSetMode(v.console.Fd(), v.prev)
	errReset := v.console.Reset()
	errClose := v.console.Close()
	return errors.Join(errMode, errReset, errClose)
}
