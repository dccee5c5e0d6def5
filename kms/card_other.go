//go:build !linux

package kms

import (
	"github.com/srlehn/kmsdisplay/internal/errors"
)

func OpenCard(path string) (Device, error) {
	return nil, errors.New(ErrPlatformNotSupported)
}
