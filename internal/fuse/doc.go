/*
Package fuse implements the union mount's FUSE server: the glue between
the kernel's VFS and the routing/aggregation core in internal/router,
internal/aggregator, and internal/balancer.

# Architecture

	┌───────────────────────────────┐
	│        User applications      │
	└───────────────────────────────┘
	               │
	┌───────────────────────────────┐
	│        Kernel VFS / FUSE       │
	└───────────────────────────────┘
	               │
	┌───────────────────────────────┐
	│     internal/fuse (this pkg)   │
	│  Node: one type, every op      │
	│  resolves via internal/router  │
	│  then raw syscalls on the      │
	│  concrete path it returns      │
	└───────────────────────────────┘
	               │
	┌───────────────────────────────┐
	│  Backing directories (sources) │
	└───────────────────────────────┘

A single Node type, embedding go-fuse's fs.Inode, backs every file,
directory, and symlink in the mount. It carries only its logical path
and implements the full NodeXxxer interface set go-fuse dispatches to:
Lookup, Getattr, Setattr, Access, Readdir, Readlink, Symlink, Mkdir,
Mknod, Unlink, Rmdir, Rename, Link, Create, Open, and Statfs.

Every operation but the root's Readdir and Statfs resolves its logical
path through internal/router.Resolve to a concrete host path and then
issues the matching raw syscall directly against it (Lstat, Chmod,
Chown, Truncate, Symlink, Mkdir, Unlink, ...). internal/router's
placement rules (existing entry, then existing top-level parent, then
most free space) mean the concrete path returned always belongs to
exactly one source; there is no merging or precedence to apply once a
path has been resolved.

The root node's Readdir and Statfs have no single source to resolve
to, so they call internal/aggregator instead: ListRoot concatenates
every source's root listing (the duplicate-top-level-name invariant is
enforced once at startup, before the mount is served, so no
deduplication is needed here), and Statfs sums block and inode counts
across sources, per the merge table documented next to
internal/aggregator.Statfs.

# File handles

Open and Create hand back a fileHandle wrapping a raw file descriptor.
Read, Write, Flush, Release, and Fsync operate directly on that
descriptor via Pread/Pwrite/Fsync/Close -- there is nothing left to
route once a file is open, matching the style of go-fuse's own
loopback file handle.

# Error translation

pkg/errors.UnionFSError carries an AsErrno method translating every
domain error code to the syscall.Errno FUSE callers expect; a plain
host error not wrapped in a UnionFSError is translated by go-fuse's own
fs.ToErrno.

# Mount lifecycle

MountManager (mount.go) owns mounting, unmounting (with a lazy-then-
force fallback when a client still holds the mount point busy),
periodic liveness checks against /proc/mounts via MountWatcher, and
translates internal/config.MountOptions into go-fuse's fs.Options.

# Non-goals

No kernel-side caching beyond go-fuse's attribute/entry timeouts, no
read-ahead or write-coalescing layer of its own -- a union mount reads
and writes real host files, where the kernel's own page cache and
writeback already do that work -- and no cross-source atomic rename:
Rename issues the host rename(2) call on the two independently
resolved paths and reports whatever the host reports.
*/
package fuse
