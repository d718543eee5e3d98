//go:build windows

package types

func isCrossDeviceErrno(err error) bool {
	// Windows reports cross-volume moves as ERROR_NOT_SAME_DEVICE; the
	// standard library surfaces it as a plain *LinkError wrapping a
	// syscall.Errno we don't special-case further here: every non-nil
	// Rename error counts as cross-device, so callers fall back to
	// copy-then-delete on any Rename failure.
	return err != nil
}
