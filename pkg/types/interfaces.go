package types

import "os"

// HostFS is the set of syscalls the router, aggregator, and balancer depend
// on. It exists so those packages can run against an in-memory fake
// (internal/testfs) in unit tests and against the real operating system
// (internal/hostfs) when mounted. Every method is a direct, scoped
// pass-through to the host — no method here does any routing or merging of
// its own; that is the caller's job.
type HostFS interface {
	// Lstat reports whether path exists, without following a trailing
	// symlink, and returns its metadata. A non-existence error must be
	// reported as os.ErrNotExist-compatible (os.IsNotExist(err) == true).
	Lstat(path string) (FileInfo, error)

	// ReadDir lists the immediate children of a directory, in host order.
	ReadDir(path string) ([]DirEntry, error)

	// Statfs returns filesystem-wide usage statistics for the filesystem
	// backing path.
	Statfs(path string) (UsageStats, error)

	// Rename performs a host rename; implementations report a cross-device
	// condition distinguishably (see IsCrossDevice).
	Rename(oldPath, newPath string) error

	// Remove removes a single file, empty directory, or symlink.
	Remove(path string) error

	// MkdirAll creates path and any missing parents.
	MkdirAll(path string, perm os.FileMode) error

	// CopyFile copies the regular file at src to dst, preserving mode.
	CopyFile(src, dst string) error

	// WalkSize sums the apparent size of every regular file reachable from
	// root (root itself if it is a regular file; its recursive descendants
	// if it is a directory). Symlinks contribute their link size.
	WalkSize(root string) (int64, error)
}

// IsCrossDevice reports whether err is the host's cross-device-link error,
// the condition under which a rename must fall back to copy-then-delete.
func IsCrossDevice(err error) bool {
	return isCrossDeviceErrno(err)
}
