// Package aggregator implements the union filesystem's root-scoped
// operations: listing the merged root directory, aggregating per-source
// statfs results, and the startup duplicate-name check.
package aggregator

import (
	"context"
	"fmt"
	"path"

	"github.com/unionfs/unionfs/pkg/errors"
	"github.com/unionfs/unionfs/pkg/types"
)

// Aggregator provides union-level answers derived by fanning a query
// out to every source and merging the results. It holds no state of
// its own beyond the immutable sources list and the HostFS it queries
// through.
type Aggregator struct {
	sources []*types.Source
	hostFS  types.HostFS
}

// New returns an Aggregator over sources, queried through hostFS.
func New(sources []*types.Source, hostFS types.HostFS) *Aggregator {
	return &Aggregator{sources: sources, hostFS: hostFS}
}

// ListRoot returns the concatenation of every source's root entries, in
// source declaration order. The root-uniqueness invariant (checked by
// CheckDuplicates at startup) means no deduplication is needed here.
func (a *Aggregator) ListRoot(ctx context.Context) ([]types.DirEntry, error) {
	var all []types.DirEntry
	for _, src := range a.sources {
		entries, err := a.hostFS.ReadDir(src.Path)
		if err != nil {
			return nil, errors.NewError(errors.ErrCodeSourceUnreadable,
				fmt.Sprintf("listing root of source %s: %v", src.Path, err)).
				WithComponent("aggregator").WithOperation("ListRoot").WithCause(err)
		}
		all = append(all, entries...)
	}
	return all, nil
}

// Statfs merges every source's filesystem statistics per the documented
// table: blocks and file-node counts sum; block size, fragment size,
// and flags take the first source's value; max filename length is the
// minimum across sources. The result is optimistic: it reports the sum
// of free space even though no single file can straddle two sources.
func (a *Aggregator) Statfs(ctx context.Context) (types.UsageStats, error) {
	var agg types.UsageStats
	for i, src := range a.sources {
		stats, err := a.hostFS.Statfs(src.Path)
		if err != nil {
			return types.UsageStats{}, errors.NewError(errors.ErrCodeSourceUnreadable,
				fmt.Sprintf("statfs on source %s: %v", src.Path, err)).
				WithComponent("aggregator").WithOperation("Statfs").WithCause(err)
		}

		agg.TotalBlocks += stats.TotalBlocks
		agg.FreeBlocks += stats.FreeBlocks
		agg.AvailBlocks += stats.AvailBlocks
		agg.TotalFiles += stats.TotalFiles
		agg.FreeFiles += stats.FreeFiles
		agg.AvailFiles += stats.AvailFiles

		if i == 0 {
			agg.BlockSize = stats.BlockSize
			agg.FragmentSize = stats.FragmentSize
			agg.Flags = stats.Flags
			agg.MaxNameLen = stats.MaxNameLen
		} else if stats.MaxNameLen < agg.MaxNameLen {
			agg.MaxNameLen = stats.MaxNameLen
		}
	}
	return agg, nil
}

// CheckDuplicates lists each source's root directory and aborts with a
// DuplicatePath error naming the first offending entry if any two
// sources share a top-level name. Run once at startup, before the FUSE
// server is told to start serving.
func (a *Aggregator) CheckDuplicates() error {
	seen := make(map[string]string, 64)
	for _, src := range a.sources {
		entries, err := a.hostFS.ReadDir(src.Path)
		if err != nil {
			return errors.NewError(errors.ErrCodeSourceUnreadable,
				fmt.Sprintf("listing root of source %s: %v", src.Path, err)).
				WithComponent("aggregator").WithOperation("CheckDuplicates").WithCause(err)
		}

		for _, entry := range entries {
			if owner, ok := seen[entry.Name]; ok {
				return errors.NewError(errors.ErrCodeDuplicatePath,
					fmt.Sprintf("entry %q exists on both %s and %s", entry.Name, owner, src.Path)).
					WithComponent("aggregator").WithOperation("CheckDuplicates").
					WithDetail("name", entry.Name).
					WithDetail("first_source", owner).
					WithDetail("second_source", src.Path)
			}
			seen[entry.Name] = src.Path
		}
	}
	return nil
}

// ResolveRootEntryPath returns the concrete path of a top-level name and
// the first source holding it, or ok=false if no source has an entry by
// that name.
func (a *Aggregator) ResolveRootEntryPath(name string) (string, *types.Source, bool) {
	for _, src := range a.sources {
		if _, err := a.hostFS.Lstat(path.Join(src.Path, name)); err == nil {
			return path.Join(src.Path, name), src, true
		}
	}
	return "", nil, false
}
