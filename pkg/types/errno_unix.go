//go:build !windows

package types

import (
	"errors"
	"os"
	"syscall"
)

func isCrossDeviceErrno(err error) bool {
	var pathErr *os.LinkError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EXDEV
	}
	return false
}
