// Package types holds the shared data model for the union filesystem core:
// sources, directory entries, and aggregated usage statistics.
package types

import "time"

// Source is one backing directory unioned into the mount. Path is absolute.
// Index is the source's position in the declared order, which is the
// tiebreak for ambiguous placement decisions.
type Source struct {
	Path  string
	Index int
}

func (s *Source) String() string {
	return s.Path
}

// EntryKind classifies a directory entry without following symlinks.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
	KindSymlink
	KindOther
)

// DirEntry is one entry returned by a directory listing.
type DirEntry struct {
	Name string
	Kind EntryKind
}

// UsageStats mirrors the host filesystem statistics needed by the
// Aggregator's merge table and the Balancer's usage snapshot. Byte fields
// are derived from the block fields using BlockSize (free_bytes =
// free_blocks * block_size, and so on), matching statvfs semantics.
type UsageStats struct {
	TotalBlocks     uint64
	FreeBlocks      uint64
	AvailBlocks     uint64
	TotalFiles      uint64
	FreeFiles       uint64
	AvailFiles      uint64
	BlockSize       uint64
	FragmentSize    uint64
	Flags           uint64
	MaxNameLen      uint64
}

// FreeBytes returns free_blocks * block_size.
func (u UsageStats) FreeBytes() int64 {
	return int64(u.FreeBlocks * u.BlockSize)
}

// AvailBytes returns avail_blocks * block_size, the quantity an unprivileged
// writer can actually use.
func (u UsageStats) AvailBytes() int64 {
	return int64(u.AvailBlocks * u.BlockSize)
}

// TotalBytes returns total_blocks * block_size.
func (u UsageStats) TotalBytes() int64 {
	return int64(u.TotalBlocks * u.BlockSize)
}

// UsedBytes returns (total_blocks - free_blocks) * block_size.
func (u UsageStats) UsedBytes() int64 {
	return int64((u.TotalBlocks - u.FreeBlocks) * u.BlockSize)
}

// FileInfo is the subset of host filesystem metadata the core needs for
// getattr/lstat-style responses, independent of any particular FUSE binding.
type FileInfo struct {
	Mode       uint32
	Size       int64
	Uid        uint32
	Gid        uint32
	Nlink      uint32
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
	Blocks     int64
	IsDir      bool
	IsSymlink  bool
}
