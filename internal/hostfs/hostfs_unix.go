//go:build !windows

package hostfs

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/unionfs/unionfs/pkg/types"
)

// statfs fills types.UsageStats from syscall.Statfs_t.
func statfs(path string) (types.UsageStats, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return types.UsageStats{}, err
	}

	return types.UsageStats{
		TotalBlocks:  st.Blocks,
		FreeBlocks:   st.Bfree,
		AvailBlocks:  st.Bavail,
		TotalFiles:   st.Files,
		FreeFiles:    st.Ffree,
		AvailFiles:   st.Ffree,
		BlockSize:    uint64(st.Bsize),
		FragmentSize: uint64(st.Frsize),
		Flags:        uint64(st.Flags),
		MaxNameLen:   uint64(st.Namelen),
	}, nil
}

// fillPlatformInfo adds the unix-only fields (owner, link count, times)
// that os.FileInfo doesn't expose directly.
func fillPlatformInfo(out *types.FileInfo, fi os.FileInfo) {
	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	out.Uid = stat.Uid
	out.Gid = stat.Gid
	out.Nlink = uint32(stat.Nlink)
	out.Blocks = stat.Blocks
	out.Atime = time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	out.Ctime = time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
}

// errnoOf extracts the underlying syscall.Errno from a wrapped OS error,
// for propagation into pkg/errors.NewHostError.
func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return int(syscall.EIO)
}
