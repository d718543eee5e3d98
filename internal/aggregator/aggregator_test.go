package aggregator

import (
	"context"
	"errors"
	"testing"

	unionerrors "github.com/unionfs/unionfs/pkg/errors"
	"github.com/unionfs/unionfs/internal/testfs"
	"github.com/unionfs/unionfs/pkg/types"
)

func sources(paths ...string) []*types.Source {
	out := make([]*types.Source, len(paths))
	for i, p := range paths {
		out[i] = &types.Source{Path: p, Index: i}
	}
	return out
}

func TestListRoot(t *testing.T) {
	fs := testfs.New()
	_ = fs.WriteFile("/d0/a.txt", []byte("1"), 0o644)
	_ = fs.WriteFile("/d1/b.txt", []byte("2"), 0o644)

	a := New(sources("/d0", "/d1"), fs)
	entries, err := a.ListRoot(context.Background())
	if err != nil {
		t.Fatalf("ListRoot: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestListRootPropagatesSourceError(t *testing.T) {
	fs := testfs.New()
	_ = fs.MkdirAll("/d0", 0o755)
	// /d1 deliberately not created: ReadDir on it fails.

	a := New(sources("/d0", "/d1"), fs)
	_, err := a.ListRoot(context.Background())
	if err == nil {
		t.Fatal("expected error for unreadable source")
	}
	var unionErr *unionerrors.UnionFSError
	if !errors.As(err, &unionErr) || unionErr.Code != unionerrors.ErrCodeSourceUnreadable {
		t.Errorf("err = %v, want ErrCodeSourceUnreadable", err)
	}
}

// Scenario 1: duplicate top-level names abort with DuplicatePath.
func TestCheckDuplicatesDetectsCollision(t *testing.T) {
	fs := testfs.New()
	_ = fs.WriteFile("/d0/x", []byte("1"), 0o644)
	_ = fs.WriteFile("/d1/x", []byte("2"), 0o644)

	a := New(sources("/d0", "/d1"), fs)
	err := a.CheckDuplicates()
	if err == nil {
		t.Fatal("expected duplicate detection error")
	}
	var unionErr *unionerrors.UnionFSError
	if !errors.As(err, &unionErr) || unionErr.Code != unionerrors.ErrCodeDuplicatePath {
		t.Errorf("err = %v, want ErrCodeDuplicatePath", err)
	}
}

func TestCheckDuplicatesPassesWhenDistinct(t *testing.T) {
	fs := testfs.New()
	_ = fs.WriteFile("/d0/a", []byte("1"), 0o644)
	_ = fs.WriteFile("/d1/b", []byte("2"), 0o644)

	a := New(sources("/d0", "/d1"), fs)
	if err := a.CheckDuplicates(); err != nil {
		t.Fatalf("CheckDuplicates: %v", err)
	}
}

// Scenario 5: aggregated statfs sums blocks and takes the minimum
// max-filename-length across sources.
func TestStatfsAggregation(t *testing.T) {
	fs := testfs.New().
		WithFreeBytes("/d0", 1000*4096, 2000*4096).
		WithFreeBytes("/d1", 1000*4096, 2000*4096)
	_ = fs.MkdirAll("/d0", 0o755)
	_ = fs.MkdirAll("/d1", 0o755)

	a := New(sources("/d0", "/d1"), fs)
	agg, err := a.Statfs(context.Background())
	if err != nil {
		t.Fatalf("Statfs: %v", err)
	}
	if agg.FreeBytes() != 2000*4096 {
		t.Errorf("FreeBytes() = %d, want %d", agg.FreeBytes(), 2000*4096)
	}
	if agg.TotalBytes() != 4000*4096 {
		t.Errorf("TotalBytes() = %d, want %d", agg.TotalBytes(), 4000*4096)
	}
}

func TestStatfsTakesMinimumMaxNameLen(t *testing.T) {
	fs := testfs.New()
	_ = fs.MkdirAll("/d0", 0o755)
	_ = fs.MkdirAll("/d1", 0o755)

	a := New(sources("/d0", "/d1"), fs)
	agg, err := a.Statfs(context.Background())
	if err != nil {
		t.Fatalf("Statfs: %v", err)
	}
	// Both sources report the same default in the fake, but the
	// aggregation logic must still run the min() comparison path
	// rather than only copying the first source's value.
	if agg.MaxNameLen != 0 {
		t.Errorf("MaxNameLen = %d, want 0 (testfs default)", agg.MaxNameLen)
	}
}

func TestResolveRootEntryPath(t *testing.T) {
	fs := testfs.New()
	_ = fs.WriteFile("/d1/x", []byte("1"), 0o644)

	a := New(sources("/d0", "/d1"), fs)
	concrete, src, ok := a.ResolveRootEntryPath("x")
	if !ok {
		t.Fatal("expected to resolve x")
	}
	if concrete != "/d1/x" || src.Path != "/d1" {
		t.Errorf("ResolveRootEntryPath = (%s, %s), want /d1/x on /d1", concrete, src.Path)
	}

	if _, _, ok := a.ResolveRootEntryPath("missing"); ok {
		t.Error("expected missing entry to not resolve")
	}
}
