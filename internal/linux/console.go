//go:build linux

package linux

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/srlehn/kmsdisplay/internal/errors"
)

// KDMode is the display mode of a virtual terminal.
type KDMode int

const (
	KDText     KDMode = 0x0
	KDGraphics KDMode = 0x1
)

const (
	kdSetMode uint = 0x4b3a
	kdGetMode uint = 0x4b3b
)

// ThreadID returns the id of the calling OS thread.
// Goroutines must be locked to their thread for the value to stay meaningful.
func ThreadID() int { return unix.Gettid() }

func KDGetMode(fd uintptr) (mode KDMode, isLinuxConsole bool, _ error) {
	m, err := unix.IoctlGetInt(int(fd), kdGetMode)
	mode = KDMode(m)
	if err == nil {
		return mode, true, nil
	}
	if errors.Is(err, unix.ENOTTY) {
		return -1, false, nil
	}
	return -1, false, errors.New(err)
}

// KDSetMode switches the virtual terminal behind fd between text and graphics
// mode. In graphics mode the kernel stops drawing the text console over scan-out.
func KDSetMode(fd uintptr, mode KDMode) error {
	if err := unix.IoctlSetInt(int(fd), kdSetMode, int(mode)); err != nil {
		return errors.New(err)
	}
	return nil
}

func (k KDMode) String() string {
	switch k {
	case KDText:
		return `KD_TEXT`
	case KDGraphics:
		return `KD_GRAPHICS`
	case 0x2:
		return `KD_TEXT0`
	case 0x3:
		return `KD_TEXT1`
	}
	if k > 0 {
		return fmt.Sprintf(`0x%x`, int(k))
	}
	return fmt.Sprintf(`-0x%x`, -int(k))
}
