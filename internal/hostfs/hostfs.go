// Package hostfs implements pkg/types.HostFS against the real operating
// system: direct, scoped os/syscall pass-through calls, with every file
// descriptor released on every exit path.
package hostfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/unionfs/unionfs/pkg/errors"
	"github.com/unionfs/unionfs/pkg/types"
)

// OS is the real-filesystem implementation of types.HostFS.
type OS struct{}

// New returns a HostFS backed by the operating system.
func New() *OS {
	return &OS{}
}

// Lstat reports path's metadata without following a trailing symlink.
func (OS) Lstat(path string) (types.FileInfo, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return types.FileInfo{}, err
	}
	return toFileInfo(fi), nil
}

// ReadDir lists the immediate children of path in host order.
func (OS) ReadDir(path string) ([]types.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	result := make([]types.DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := types.KindFile
		switch {
		case e.Type()&fs.ModeSymlink != 0:
			kind = types.KindSymlink
		case e.IsDir():
			kind = types.KindDir
		case e.Type()&fs.ModeType != 0:
			kind = types.KindOther
		}
		result = append(result, types.DirEntry{Name: e.Name(), Kind: kind})
	}
	return result, nil
}

// Statfs returns filesystem-wide usage statistics for the filesystem
// backing path.
func (OS) Statfs(path string) (types.UsageStats, error) {
	return statfs(path)
}

// Rename performs a host rename. On EXDEV the caller (internal/balancer)
// falls back to CopyFile-then-Remove; types.IsCrossDevice distinguishes
// that condition from other failures.
func (OS) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// Remove removes a single file, empty directory, or symlink.
func (OS) Remove(path string) error {
	return os.Remove(path)
}

// MkdirAll creates path and any missing parents.
func (OS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// CopyFile copies the regular file at src to dst, preserving mode. Used
// as the cross-device fallback when Rename reports EXDEV.
func (OS) CopyFile(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// WalkSize sums the apparent size of every regular file reachable from
// root. Symlinks contribute their link size, matching os.Lstat semantics
// rather than following the link.
func (OS) WalkSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk size of %s: %w", root, err)
	}
	return total, nil
}

func toFileInfo(fi os.FileInfo) types.FileInfo {
	out := types.FileInfo{
		Mode:      uint32(fi.Mode().Perm()),
		Size:      fi.Size(),
		IsDir:     fi.IsDir(),
		IsSymlink: fi.Mode()&os.ModeSymlink != 0,
		Mtime:     fi.ModTime(),
	}
	fillPlatformInfo(&out, fi)
	return out
}

// HostError wraps err (expected to carry a syscall.Errno) as a
// pkg/errors.UnionFSError for propagation across the FUSE boundary.
func HostError(component, operation string, err error) error {
	if err == nil {
		return nil
	}
	return errors.NewHostError(component, operation, errnoOf(err), err)
}
