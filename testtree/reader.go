package testtree

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/colorfulnotion/evmtests/builder"
	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/types"
)

// maxFanOut bounds the goroutines of one directory level.
const maxFanOut = 64

// Test is one materialized variant. Input is nil when the variant was
// recorded as ignored at parse time or when its artifact could not be read.
type Test struct {
	Identity types.TestIdentity
	Name     string
	Ignored  string
	Input    *types.AssembledInput
	Err      error
}

type SubGroup struct {
	Name  string
	Tests []*Test
}

type Group struct {
	Name      string
	SubGroups []*SubGroup
}

// Count is the number of tests in groups.
func Count(groups []*Group) int {
	n := 0
	for _, g := range groups {
		for _, s := range g.SubGroups {
			n += len(s.Tests)
		}
	}
	return n
}

// parallelMap runs fn over the entries of dir concurrently and returns the
// kept results sorted by entry name. The first error cancels the rest.
func parallelMap[T any](ctx context.Context, dir string, fn func(ctx context.Context, e os.DirEntry) (T, bool, error)) ([]T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	results := make([]T, len(entries))
	keep := make([]bool, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFanOut)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, ok, err := fn(gctx, e)
			if err != nil {
				return err
			}
			results[i], keep[i] = v, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for i := range results {
		if keep[i] {
			out = append(out, results[i])
		}
	}
	return out, nil
}

// Read walks root (group/sub-group/test.parsed) and materializes the tests
// that pass f. A directory read error fails the whole read; an unreadable
// artifact yields one Test carrying Err.
func Read(ctx context.Context, root string, f Filter) ([]*Group, error) {
	return parallelMap(ctx, root, func(ctx context.Context, ge os.DirEntry) (*Group, bool, error) {
		if !ge.IsDir() {
			return nil, false, nil
		}
		groupDir := filepath.Join(root, ge.Name())
		log.Info(log.Reader, "reading test group", "dir", groupDir)
		subs, err := parallelMap(ctx, groupDir, func(ctx context.Context, se os.DirEntry) (*SubGroup, bool, error) {
			if !se.IsDir() {
				return nil, false, nil
			}
			sub, err := readSubGroup(ctx, filepath.Join(groupDir, se.Name()), ge.Name(), se.Name(), &f)
			if err != nil {
				return nil, false, err
			}
			return sub, len(sub.Tests) > 0, nil
		})
		if err != nil {
			return nil, false, err
		}
		return &Group{Name: ge.Name(), SubGroups: subs}, len(subs) > 0, nil
	})
}

func readSubGroup(ctx context.Context, dir, group, subGroup string, f *Filter) (*SubGroup, error) {
	log.Debug(log.Reader, "reading test sub-group", "dir", dir)
	files, err := parallelMap(ctx, dir, func(ctx context.Context, e os.DirEntry) ([]*Test, bool, error) {
		if e.IsDir() || filepath.Ext(e.Name()) != evmcommon.ParsedExtension {
			return nil, false, nil
		}
		name := strings.TrimSuffix(e.Name(), evmcommon.ParsedExtension)
		tests := readTestFile(filepath.Join(dir, e.Name()), group, subGroup, name, f)
		return tests, len(tests) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	sub := &SubGroup{Name: subGroup}
	for _, tests := range files {
		sub.Tests = append(sub.Tests, tests...)
	}
	return sub, nil
}

func readTestFile(path, group, subGroup, name string, f *Filter) []*Test {
	fileID := types.FileIdentity(group, subGroup, name)
	if f.excluded(fileID) {
		log.Trace(log.Reader, "file excluded", "id", fileID)
		return nil
	}
	log.Trace(log.Reader, "reading artifact", "path", path)
	art, err := builder.ReadLazyArtifact(path)
	if err != nil {
		if f.Name != "" && !strings.Contains(string(fileID), f.Name) {
			return nil
		}
		log.Warn(log.Reader, "artifact unreadable", "path", path, "err", err)
		return []*Test{{Identity: fileID, Name: name, Err: err}}
	}
	var tests []*Test
	for i := 0; i < art.Len(); i++ {
		id := types.NewTestIdentity(group, subGroup, name, i, art.Len())
		if !f.Variants.Contains(i) || (f.Name != "" && !strings.Contains(string(id), f.Name)) || f.excluded(id) {
			continue
		}
		rec, err := art.Decode(i)
		if err != nil {
			log.Warn(log.Reader, "variant unreadable", "id", id, "err", err)
			tests = append(tests, &Test{Identity: id, Err: err})
			continue
		}
		tests = append(tests, &Test{Identity: id, Name: rec.Name, Ignored: rec.Ignored, Input: rec.Input})
	}
	return tests
}

// ListIdentities returns every identity under root, unfiltered. Artifacts are
// read for their variant count only.
func ListIdentities(ctx context.Context, root string) ([]types.TestIdentity, error) {
	groups, err := parallelMap(ctx, root, func(ctx context.Context, ge os.DirEntry) ([]types.TestIdentity, bool, error) {
		if !ge.IsDir() {
			return nil, false, nil
		}
		groupDir := filepath.Join(root, ge.Name())
		subs, err := parallelMap(ctx, groupDir, func(ctx context.Context, se os.DirEntry) ([]types.TestIdentity, bool, error) {
			if !se.IsDir() {
				return nil, false, nil
			}
			subDir := filepath.Join(groupDir, se.Name())
			files, err := parallelMap(ctx, subDir, func(ctx context.Context, e os.DirEntry) ([]types.TestIdentity, bool, error) {
				if e.IsDir() || filepath.Ext(e.Name()) != evmcommon.ParsedExtension {
					return nil, false, nil
				}
				name := strings.TrimSuffix(e.Name(), evmcommon.ParsedExtension)
				art, err := builder.ReadLazyArtifact(filepath.Join(subDir, e.Name()))
				if err != nil {
					return []types.TestIdentity{types.FileIdentity(ge.Name(), se.Name(), name)}, true, nil
				}
				ids := make([]types.TestIdentity, art.Len())
				for i := range ids {
					ids[i] = types.NewTestIdentity(ge.Name(), se.Name(), name, i, art.Len())
				}
				return ids, true, nil
			})
			return flatten(files), err == nil, err
		})
		return flatten(subs), err == nil, err
	})
	if err != nil {
		return nil, err
	}
	ids := flatten(groups)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func flatten[T any](in [][]T) []T {
	var out []T
	for _, s := range in {
		out = append(out, s...)
	}
	return out
}
