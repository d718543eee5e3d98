//go:build windows

package hostfs

import (
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/unionfs/unionfs/pkg/types"
)

// statfs fills types.UsageStats from the volume's free/total byte counts.
// Windows has no inode concept, so the file-count fields are left zero.
func statfs(path string) (types.UsageStats, error) {
	root := filepath.VolumeName(path) + string(filepath.Separator)
	var free, total, totalFree uint64
	pRoot, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return types.UsageStats{}, err
	}
	if err := windows.GetDiskFreeSpaceEx(pRoot, &free, &total, &totalFree); err != nil {
		return types.UsageStats{}, err
	}

	const blockSize = 4096
	return types.UsageStats{
		TotalBlocks: total / blockSize,
		FreeBlocks:  totalFree / blockSize,
		AvailBlocks: free / blockSize,
		BlockSize:   blockSize,
	}, nil
}

func fillPlatformInfo(out *types.FileInfo, fi os.FileInfo) {
	out.Nlink = 1
}

func errnoOf(err error) int {
	var errno syscall.Errno
	if e, ok := err.(syscall.Errno); ok {
		errno = e
	}
	return int(errno)
}
