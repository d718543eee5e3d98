// Package router resolves logical paths under the union mount point to a
// concrete path under exactly one backing source.
package router

import (
	"context"
	"path"
	"strings"

	"github.com/unionfs/unionfs/pkg/types"
)

// Router maps logical paths to concrete paths under one source, in
// declared-source order. Beyond the immutable sources slice and the
// HostFS it queries existence through, its only mutable state is an
// optional write-health predicate set once at startup via
// SetWriteHealthCheck.
type Router struct {
	sources  []*types.Source
	hostFS   types.HostFS
	canWrite func(sourcePath string) bool
}

// New returns a Router over sources, queried through hostFS. sources'
// order is significant: it is the tie-break for ambiguous placements,
// and must not change after construction.
func New(sources []*types.Source, hostFS types.HostFS) *Router {
	return &Router{sources: sources, hostFS: hostFS}
}

// SetWriteHealthCheck installs a predicate consulted by the free-space
// placement rule (rule 4): a source it reports as unable to accept
// writes is skipped in favor of the next-best candidate by free space.
// If every source fails the check, rule 4 falls back to its original
// free-space-only choice, since Resolve is specified never to fail --
// a source degraded past writability is still the best of bad options
// over refusing to place the entry at all. Passing a nil check (the
// default) disables this rule entirely.
func (r *Router) SetWriteHealthCheck(canWrite func(sourcePath string) bool) {
	r.canWrite = canWrite
}

// Resolve maps logicalPath to a concrete path under exactly one
// source, applying the existing-entry, existing-top-level, and
// free-space rules in that order. The router cannot fail: existence
// checks that error against the host are treated as "does not exist"
// and resolution continues to the next rule.
func (r *Router) Resolve(ctx context.Context, logicalPath string) (string, *types.Source, error) {
	rel := strings.TrimPrefix(logicalPath, "/")
	if rel == "" {
		return r.sources[0].Path, r.sources[0], nil
	}

	if concrete, src, ok := r.existingEntry(rel); ok {
		return concrete, src, nil
	}

	if concrete, src, ok := r.existingTopLevel(rel); ok {
		return concrete, src, nil
	}

	src := r.mostFreeSpace()
	return path.Join(src.Path, rel), src, nil
}

// existingEntry implements rule 2: the first source where rel exists
// (Lstat semantics, no following the final component) wins.
func (r *Router) existingEntry(rel string) (string, *types.Source, bool) {
	for _, src := range r.sources {
		concrete := path.Join(src.Path, rel)
		if _, err := r.hostFS.Lstat(concrete); err == nil {
			return concrete, src, true
		}
	}
	return "", nil, false
}

// existingTopLevel implements rule 3: if rel has more than one
// component, the first source where its top-level name exists wins,
// even though the deeper path does not yet exist.
func (r *Router) existingTopLevel(rel string) (string, *types.Source, bool) {
	top, rest, hasRest := strings.Cut(rel, "/")
	if !hasRest {
		return "", nil, false
	}

	for _, src := range r.sources {
		if _, err := r.hostFS.Lstat(path.Join(src.Path, top)); err == nil {
			return path.Join(src.Path, top, rest), src, true
		}
	}
	return "", nil, false
}

// mostFreeSpace implements rule 4: the source with the greatest
// free_blocks among those the write-health check (if any) admits, ties
// broken by declaration order. If the check rejects every source, it
// is ignored for this call so placement still succeeds.
func (r *Router) mostFreeSpace() *types.Source {
	if best, ok := r.mostFreeSpaceAmong(r.writable); ok {
		return best
	}
	best, _ := r.mostFreeSpaceAmong(func(*types.Source) bool { return true })
	return best
}

func (r *Router) writable(src *types.Source) bool {
	return r.canWrite == nil || r.canWrite(src.Path)
}

func (r *Router) mostFreeSpaceAmong(admit func(*types.Source) bool) (*types.Source, bool) {
	var best *types.Source
	var bestFree uint64

	for _, src := range r.sources {
		if !admit(src) {
			continue
		}
		free := r.freeBlocksOf(src)
		if best == nil || free > bestFree {
			best, bestFree = src, free
		}
	}
	return best, best != nil
}

func (r *Router) freeBlocksOf(src *types.Source) uint64 {
	stats, err := r.hostFS.Statfs(src.Path)
	if err != nil {
		return 0
	}
	return stats.FreeBlocks
}
