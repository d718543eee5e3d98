// Package balancer implements the offline top-level entry redistribution
// tool: it inspects current usage across sources and moves whole
// top-level entries from overloaded sources to underloaded ones until
// usage approaches the mean.
package balancer

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/unionfs/unionfs/internal/circuit"
	"github.com/unionfs/unionfs/pkg/errors"
	"github.com/unionfs/unionfs/pkg/retry"
	"github.com/unionfs/unionfs/pkg/types"
)

// Move describes one relocation the balancer performed or, in dry-run
// mode, would have performed.
type Move struct {
	Name string // top-level entry name
	From string // source path moved from
	To   string // source path moved to
	Size int64
}

// usage is a source's snapshotted, mutable-during-the-run usage figures.
type usage struct {
	source    *types.Source
	freeBytes int64
	usedBytes int64
}

// Balancer redistributes top-level entries across sources.
type Balancer struct {
	sources []*types.Source
	hostFS  types.HostFS
	breaker *circuit.Manager
	retryer *retry.Retryer

	// Now is a clock hook, overridable in tests; defaults to time.Now.
	// Run does not read it, and Move carries no timestamp.
	Now func() time.Time
}

// New returns a Balancer over sources, queried and mutated through
// hostFS.
func New(sources []*types.Source, hostFS types.HostFS) *Balancer {
	return &Balancer{
		sources: sources,
		hostFS:  hostFS,
		breaker: circuit.NewManager(circuit.Config{}),
		retryer: retry.New(retry.DefaultConfig()),
		Now:     time.Now,
	}
}

// Run executes one balance pass. When dryRun is true, no filesystem
// mutations are performed and the returned moves are exactly what a
// live run would have performed. onMove, if non-nil, is invoked once
// per qualifying move as it is decided (before the filesystem mutation
// in a live run), so callers can log progress.
func (b *Balancer) Run(ctx context.Context, dryRun bool, onMove func(Move)) ([]Move, error) {
	usages, err := b.snapshot()
	if err != nil {
		return nil, err
	}

	target := meanUsed(usages)
	overloaded, underloaded := partition(usages, target)

	sort.Slice(overloaded, func(i, j int) bool {
		return overloaded[i].usedBytes < overloaded[j].usedBytes
	})
	sort.Slice(underloaded, func(i, j int) bool {
		if underloaded[i].usedBytes != underloaded[j].usedBytes {
			return underloaded[i].usedBytes > underloaded[j].usedBytes
		}
		return underloaded[i].source.Path > underloaded[j].source.Path
	})

	var moves []Move
	moved := make(map[string]bool)

	for _, o := range overloaded {
		entries, err := b.sortedTopLevelEntries(o.source)
		if err != nil {
			return moves, err
		}

		for _, d := range underloaded {
			if b.breaker.IsOpen(d.source.Path) {
				continue
			}
			for _, e := range entries {
				if moved[e.name] {
					continue
				}
				if !qualifies(o, d, e.size, target) {
					continue
				}

				move := Move{Name: e.name, From: o.source.Path, To: d.source.Path, Size: e.size}
				if onMove != nil {
					onMove(move)
				}

				if !dryRun {
					if err := b.relocate(ctx, o.source.Path, d.source.Path, e.name); err != nil {
						return moves, errors.NewError(errors.ErrCodeBalanceAborted,
							fmt.Sprintf("moving %q from %s to %s: %v", e.name, o.source.Path, d.source.Path, err)).
							WithComponent("balancer").WithOperation("Run").WithCause(err)
					}
				}

				o.usedBytes -= e.size
				o.freeBytes += e.size
				d.usedBytes += e.size
				d.freeBytes -= e.size
				moved[e.name] = true
				moves = append(moves, move)
			}
		}
	}

	return moves, nil
}

// qualifies reports whether moving an entry of size bytes from o to d
// satisfies all three boundary conditions from spec.md §4.3 step 5c.
func qualifies(o, d *usage, size int64, target float64) bool {
	if d.freeBytes-size < 0 {
		return false
	}
	if float64(d.usedBytes+size) > target {
		return false
	}
	if float64(o.usedBytes-size) < target {
		return false
	}
	return true
}

func (b *Balancer) snapshot() ([]*usage, error) {
	usages := make([]*usage, len(b.sources))
	for i, src := range b.sources {
		stats, err := b.hostFS.Statfs(src.Path)
		if err != nil {
			return nil, errors.NewError(errors.ErrCodeSourceUnreadable,
				fmt.Sprintf("statfs on source %s: %v", src.Path, err)).
				WithComponent("balancer").WithOperation("Run").WithCause(err)
		}
		usages[i] = &usage{
			source:    src,
			freeBytes: stats.FreeBytes(),
			usedBytes: stats.UsedBytes(),
		}
	}
	return usages, nil
}

func meanUsed(usages []*usage) float64 {
	var sum int64
	for _, u := range usages {
		sum += u.usedBytes
	}
	return float64(sum) / float64(len(usages))
}

func partition(usages []*usage, target float64) (overloaded, underloaded []*usage) {
	for _, u := range usages {
		if float64(u.usedBytes) > target {
			overloaded = append(overloaded, u)
		} else {
			underloaded = append(underloaded, u)
		}
	}
	return overloaded, underloaded
}

type entry struct {
	name string
	size int64
}

// sortedTopLevelEntries lists src's top-level entries with their sizes,
// sorted descending by (size, name) — largest first, later name first
// on ties.
func (b *Balancer) sortedTopLevelEntries(src *types.Source) ([]entry, error) {
	children, err := b.hostFS.ReadDir(src.Path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeSourceUnreadable,
			fmt.Sprintf("listing source %s: %v", src.Path, err)).
			WithComponent("balancer").WithOperation("Run").WithCause(err)
	}

	entries := make([]entry, 0, len(children))
	for _, c := range children {
		size, err := b.hostFS.WalkSize(path.Join(src.Path, c.Name))
		if err != nil {
			return nil, errors.NewError(errors.ErrCodeSourceUnreadable,
				fmt.Sprintf("sizing %s/%s: %v", src.Path, c.Name, err)).
				WithComponent("balancer").WithOperation("Run").WithCause(err)
		}
		entries = append(entries, entry{name: c.Name, size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].size != entries[j].size {
			return entries[i].size > entries[j].size
		}
		return entries[i].name > entries[j].name
	})
	return entries, nil
}

// relocate moves the top-level entry name from the source rooted at
// fromRoot to the source rooted at toRoot. It first attempts a host
// rename; on a cross-device error it falls back to a deep
// copy-then-delete, retried via pkg/retry for transient I/O errors and
// guarded per-destination by a circuit breaker so a destination that
// keeps failing mid-run stops receiving further moves for the rest of
// the run.
func (b *Balancer) relocate(ctx context.Context, fromRoot, toRoot, name string) error {
	from := path.Join(fromRoot, name)
	to := path.Join(toRoot, name)

	breaker := b.breaker.GetBreaker(toRoot)
	return breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		err := b.hostFS.Rename(from, to)
		if err == nil {
			return nil
		}
		if !types.IsCrossDevice(err) {
			return err
		}

		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			if err := b.copyTree(from, to); err != nil {
				return errors.NewError(errors.ErrCodeCrossDevice,
					fmt.Sprintf("copying %s to %s: %v", from, to, err)).
					WithCause(err)
			}
			if err := b.removeTree(from); err != nil {
				return errors.NewError(errors.ErrCodeCrossDevice,
					fmt.Sprintf("removing source %s after copy: %v", from, err)).
					WithCause(err)
			}
			return nil
		})
	})
}

// copyTree deep-copies the file or directory at src to dst, used as
// the cross-device move fallback for top-level entries that may be
// whole directory subtrees rather than single files.
func (b *Balancer) copyTree(src, dst string) error {
	info, err := b.hostFS.Lstat(src)
	if err != nil {
		return err
	}
	if !info.IsDir {
		return b.hostFS.CopyFile(src, dst)
	}

	if err := b.hostFS.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	children, err := b.hostFS.ReadDir(src)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := b.copyTree(path.Join(src, c.Name), path.Join(dst, c.Name)); err != nil {
			return err
		}
	}
	return nil
}

// removeTree recursively removes root, since types.HostFS.Remove only
// handles a single file or empty directory.
func (b *Balancer) removeTree(root string) error {
	info, err := b.hostFS.Lstat(root)
	if err != nil {
		return err
	}
	if info.IsDir {
		children, err := b.hostFS.ReadDir(root)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := b.removeTree(path.Join(root, c.Name)); err != nil {
				return err
			}
		}
	}
	return b.hostFS.Remove(root)
}
