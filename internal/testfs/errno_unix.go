//go:build !windows

package testfs

import "syscall"

func crossDeviceErrno() error {
	return syscall.EXDEV
}
