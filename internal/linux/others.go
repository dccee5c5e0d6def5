//go:build !linux

package linux

import (
	"github.com/srlehn/kmsdisplay/internal/consts"
	"github.com/srlehn/kmsdisplay/internal/errors"
)

type KDMode int

const (
	KDText     KDMode = 0x0
	KDGraphics KDMode = 0x1
)

// ThreadID is 0 on platforms without a thread id syscall; affinity checks
// then degrade to always passing.
func ThreadID() int { return 0 }

func KDGetMode(fd uintptr) (mode KDMode, isLinuxConsole bool, _ error) {
	return -1, false, errors.New(consts.ErrPlatformNotSupported)
}

func KDSetMode(fd uintptr, mode KDMode) error {
	return errors.New(consts.ErrPlatformNotSupported)
}

func (k KDMode) String() string {
	switch k {
	case KDText:
		return `KD_TEXT`
	case KDGraphics:
		return `KD_GRAPHICS`
	}
	return `unknown`
}
