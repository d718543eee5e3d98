//go:build windows

package testfs

import "syscall"

func crossDeviceErrno() error {
	return syscall.Errno(17) // ERROR_NOT_SAME_DEVICE
}
