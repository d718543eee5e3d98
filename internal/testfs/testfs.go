// Package testfs provides an in-memory fake of pkg/types.HostFS for unit
// tests of internal/router, internal/aggregator, and internal/balancer,
// so those packages don't need a real directory tree on disk to exercise.
package testfs

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unionfs/unionfs/pkg/types"
)

type node struct {
	isDir     bool
	isSymlink bool
	data      []byte
	target    string // symlink target
	mode      os.FileMode
	mtime     time.Time
}

// FS is an in-memory filesystem fake implementing types.HostFS. Paths are
// slash-separated and always absolute ("/a/b.txt"); the zero value is not
// usable, construct with New.
type FS struct {
	mu    sync.RWMutex
	nodes map[string]*node

	// crossDevice, when set, makes Rename report a cross-device error for
	// any pair of paths whose cleaned top-level component differs, so
	// tests can exercise the EXDEV fallback path without real mounts.
	crossDevice bool

	// freeBytes and totals override the usage reported by Statfs per
	// root path, keyed by the root exactly as passed to WithFreeBytes.
	// total is the capacity reported for paths under no configured root.
	freeBytes map[string]uint64
	totals    map[string]uint64
	total     uint64
}

// New returns an empty in-memory filesystem containing only "/".
func New() *FS {
	return &FS{
		nodes: map[string]*node{
			"/": {isDir: true, mode: 0o755, mtime: time.Now()},
		},
		freeBytes: make(map[string]uint64),
		totals:    make(map[string]uint64),
		total:     1 << 30, // 1GiB default
	}
}

// WithCrossDevice marks this fake as simulating distinct devices per
// top-level path component, so Rename across them returns a
// cross-device error instead of succeeding.
func (f *FS) WithCrossDevice() *FS {
	f.crossDevice = true
	return f
}

// WithFreeBytes sets the free space and the total capacity Statfs
// reports for root and every path beneath it.
func (f *FS) WithFreeBytes(root string, free, total uint64) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeBytes[clean(root)] = free
	f.totals[clean(root)] = total
	return f
}

// MkdirAll creates path and any missing parents, matching os.MkdirAll.
func (f *FS) MkdirAll(p string, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mkdirAllLocked(clean(p), perm)
}

func (f *FS) mkdirAllLocked(p string, perm os.FileMode) error {
	if n, ok := f.nodes[p]; ok {
		if !n.isDir {
			return &os.PathError{Op: "mkdir", Path: p, Err: fmt.Errorf("not a directory")}
		}
		return nil
	}
	parent := path.Dir(p)
	if parent != p {
		if err := f.mkdirAllLocked(parent, perm); err != nil {
			return err
		}
	}
	f.nodes[p] = &node{isDir: true, mode: perm, mtime: time.Now()}
	return nil
}

// WriteFile creates or overwrites a regular file, for test setup. It is
// not part of types.HostFS.
func (f *FS) WriteFile(p string, data []byte, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	if err := f.mkdirAllLocked(path.Dir(p), 0o755); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.nodes[p] = &node{data: cp, mode: perm, mtime: time.Now()}
	return nil
}

// Symlink creates a symlink at p pointing at target, for test setup.
func (f *FS) Symlink(target, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	if err := f.mkdirAllLocked(path.Dir(p), 0o755); err != nil {
		return err
	}
	f.nodes[p] = &node{isSymlink: true, target: target, mode: 0o777, mtime: time.Now()}
	return nil
}

// Lstat reports path's metadata without following a trailing symlink.
func (f *FS) Lstat(p string) (types.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n, ok := f.nodes[clean(p)]
	if !ok {
		return types.FileInfo{}, &os.PathError{Op: "lstat", Path: p, Err: os.ErrNotExist}
	}
	return types.FileInfo{
		Mode:      uint32(n.mode.Perm()),
		Size:      int64(len(n.data)),
		Nlink:     1,
		IsDir:     n.isDir,
		IsSymlink: n.isSymlink,
		Mtime:     n.mtime,
	}, nil
}

// ReadDir lists the immediate children of path in sorted name order.
func (f *FS) ReadDir(p string) ([]types.DirEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p = clean(p)
	dir, ok := f.nodes[p]
	if !ok {
		return nil, &os.PathError{Op: "readdir", Path: p, Err: os.ErrNotExist}
	}
	if !dir.isDir {
		return nil, &os.PathError{Op: "readdir", Path: p, Err: fmt.Errorf("not a directory")}
	}

	var names []string
	for candidate := range f.nodes {
		if candidate == p {
			continue
		}
		if path.Dir(candidate) == p {
			names = append(names, candidate)
		}
	}
	sort.Strings(names)

	entries := make([]types.DirEntry, 0, len(names))
	for _, full := range names {
		n := f.nodes[full]
		kind := types.KindFile
		switch {
		case n.isSymlink:
			kind = types.KindSymlink
		case n.isDir:
			kind = types.KindDir
		}
		entries = append(entries, types.DirEntry{Name: path.Base(full), Kind: kind})
	}
	return entries, nil
}

// Statfs returns usage statistics derived from WithFreeBytes, defaulting
// to a large, mostly-empty filesystem if never configured for path.
func (f *FS) Statfs(p string) (types.UsageStats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	const blockSize = 4096
	root := findRoot(f.freeBytes, clean(p))
	free, ok := f.freeBytes[root]
	total := f.totals[root]
	if !ok {
		free, total = f.total, f.total
	}
	return types.UsageStats{
		TotalBlocks: total / blockSize,
		FreeBlocks:  free / blockSize,
		AvailBlocks: free / blockSize,
		BlockSize:   blockSize,
	}, nil
}

// Rename moves oldPath to newPath, returning a cross-device error if
// WithCrossDevice is set and the two paths' top-level components
// differ. A rename between two roots configured with WithFreeBytes
// moves the renamed file content's byte count from the new root's free
// space to the old root's, as a host move between volumes would.
func (f *FS) Rename(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldPath, newPath = clean(oldPath), clean(newPath)
	if f.crossDevice && topLevel(oldPath) != topLevel(newPath) {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: crossDeviceErrno()}
	}

	n, ok := f.nodes[oldPath]
	if !ok {
		return &os.PathError{Op: "rename", Path: oldPath, Err: os.ErrNotExist}
	}
	if err := f.mkdirAllLocked(path.Dir(newPath), 0o755); err != nil {
		return err
	}
	f.nodes[newPath] = n
	delete(f.nodes, oldPath)

	moved := uint64(len(n.data))
	prefix := oldPath + "/"
	for candidate, cn := range f.nodes {
		if strings.HasPrefix(candidate, prefix) {
			moved += uint64(len(cn.data))
			f.nodes[newPath+"/"+strings.TrimPrefix(candidate, prefix)] = cn
			delete(f.nodes, candidate)
		}
	}

	from, to := findRoot(f.freeBytes, oldPath), findRoot(f.freeBytes, newPath)
	fromFree, fromOK := f.freeBytes[from]
	toFree, toOK := f.freeBytes[to]
	if fromOK && toOK && from != to {
		f.freeBytes[from] = fromFree + moved
		if moved > toFree {
			moved = toFree
		}
		f.freeBytes[to] = toFree - moved
	}
	return nil
}

// Remove removes a single file, empty directory, or symlink.
func (f *FS) Remove(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	n, ok := f.nodes[p]
	if !ok {
		return &os.PathError{Op: "remove", Path: p, Err: os.ErrNotExist}
	}
	if n.isDir {
		for candidate := range f.nodes {
			if candidate != p && path.Dir(candidate) == p {
				return &os.PathError{Op: "remove", Path: p, Err: fmt.Errorf("directory not empty")}
			}
		}
	}
	delete(f.nodes, p)
	return nil
}

// CopyFile copies the file or symlink at src to dst, preserving mode.
func (f *FS) CopyFile(src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	src = clean(src)
	n, ok := f.nodes[src]
	if !ok {
		return &os.PathError{Op: "copy", Path: src, Err: os.ErrNotExist}
	}
	dst = clean(dst)
	if err := f.mkdirAllLocked(path.Dir(dst), 0o755); err != nil {
		return err
	}
	cp := make([]byte, len(n.data))
	copy(cp, n.data)
	f.nodes[dst] = &node{
		isSymlink: n.isSymlink,
		target:    n.target,
		data:      cp,
		mode:      n.mode,
		mtime:     time.Now(),
	}
	return nil
}

// WalkSize sums the size of every regular file reachable from root.
func (f *FS) WalkSize(root string) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	root = clean(root)
	n, ok := f.nodes[root]
	if !ok {
		return 0, &os.PathError{Op: "walk", Path: root, Err: os.ErrNotExist}
	}
	if !n.isDir {
		return int64(len(n.data)), nil
	}

	var total int64
	prefix := root + "/"
	if root == "/" {
		prefix = "/"
	}
	for candidate, cn := range f.nodes {
		if candidate == root {
			continue
		}
		if strings.HasPrefix(candidate, prefix) && !cn.isDir {
			total += int64(len(cn.data))
		}
	}
	return total, nil
}

func clean(p string) string {
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func topLevel(p string) string {
	parts := strings.SplitN(strings.TrimPrefix(p, "/"), "/", 2)
	return parts[0]
}

func findRoot(configured map[string]uint64, p string) string {
	for p != "/" {
		if _, ok := configured[p]; ok {
			return p
		}
		p = path.Dir(p)
	}
	return "/"
}

var _ types.HostFS = (*FS)(nil)
