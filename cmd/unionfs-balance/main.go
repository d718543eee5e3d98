// Command unionfs-balance redistributes top-level entries across a set
// of union filesystem source directories, moving whole entries from
// sources running above the mean usage to sources running below it.
//
// Usage:
//
//	unionfs-balance [--dry-run] <sources-comma-separated>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/unionfs/unionfs/internal/balancer"
	"github.com/unionfs/unionfs/internal/hostfs"
	"github.com/unionfs/unionfs/pkg/status"
	"github.com/unionfs/unionfs/pkg/types"
	"github.com/unionfs/unionfs/pkg/utils"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("unionfs-balance", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "print intended moves without performing them")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [--dry-run] <sources-comma-separated>\n", fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	positional := fs.Args()
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "unionfs-balance: a comma-separated source list is required")
		fs.Usage()
		return 2
	}

	sourcePaths := strings.Split(positional[0], ",")
	if len(sourcePaths) < 1 {
		fmt.Fprintln(os.Stderr, "unionfs-balance: at least one source is required")
		fs.Usage()
		return 2
	}

	sources := make([]*types.Source, len(sourcePaths))
	for i, p := range sourcePaths {
		sources[i] = &types.Source{Path: p, Index: i}
	}

	b := balancer.New(sources, hostfs.OS{})

	tracker := status.NewTracker(status.DefaultTrackerConfig())
	op, ctx := tracker.StartOperation(context.Background(), "balance", map[string]interface{}{
		"sources": sourcePaths,
		"dry_run": *dryRun,
	})

	moves, err := b.Run(ctx, *dryRun, func(m balancer.Move) {
		_ = tracker.SetMessage(op.ID, fmt.Sprintf("moving %s (%s)", m.Name, utils.FormatBytes(m.Size)))

		verb := "Moving"
		if *dryRun {
			verb = "Would move"
		}
		fmt.Fprintf(os.Stdout, "%s %s: %s -> %s (%s)\n", verb, m.Name, m.From, m.To, utils.FormatBytes(m.Size))
	})
	if err != nil {
		_ = tracker.FailOperation(op.ID, err)
		fmt.Fprintf(os.Stderr, "unionfs-balance: %v\n", err)
		return 1
	}
	_ = tracker.CompleteOperation(op.ID)

	if len(moves) == 0 {
		fmt.Fprintln(os.Stdout, "no moves needed: sources are already balanced")
	}
	return 0
}
