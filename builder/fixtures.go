package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/log"
)

// SubGroupDir is one fixture sub-group and the fixture files it holds.
type SubGroupDir struct {
	Group    string
	SubGroup string
	RelDir   string   // relative to the fixtures tree root
	Files    []string // absolute paths, sorted by base name
}

// ArtifactPath is the artifact location of fixture file under parsedRoot.
func (s *SubGroupDir) ArtifactPath(parsedRoot, file string) string {
	return evmcommon.ArtifactPath(parsedRoot, filepath.Join(s.Group, s.SubGroup, filepath.Base(file)))
}

// EnumerateFixtures lists the sub-groups of the named groups under root
// (every group when groups is empty). Special sub-groups are flattened: json
// files one directory below them join the sub-group itself, and a base name
// seen twice keeps its first occurrence.
func EnumerateFixtures(root string, groups []string) ([]*SubGroupDir, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read fixtures root: %w", err)
	}
	want := make(map[string]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}
	var out []*SubGroupDir
	for _, g := range entries {
		if !g.IsDir() || (len(want) > 0 && !want[g.Name()]) {
			continue
		}
		subs, err := os.ReadDir(filepath.Join(root, g.Name()))
		if err != nil {
			return nil, fmt.Errorf("read group %s: %w", g.Name(), err)
		}
		for _, s := range subs {
			if !s.IsDir() {
				continue
			}
			dir := &SubGroupDir{
				Group:    g.Name(),
				SubGroup: s.Name(),
				RelDir:   filepath.Join(g.Name(), s.Name()),
			}
			abs := filepath.Join(root, dir.RelDir)
			if dir.Files, err = jsonFiles(abs, evmcommon.IsSpecialSubgroup(s.Name())); err != nil {
				return nil, err
			}
			out = append(out, dir)
		}
	}
	return out, nil
}

func jsonFiles(dir string, flatten bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sub-group %s: %w", dir, err)
	}
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		base := filepath.Base(path)
		if seen[base] {
			log.Warn(log.Parser, "duplicate fixture name in flattened sub-group", "path", path)
			return
		}
		seen[base] = true
		files = append(files, path)
	}
	var nested []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		switch {
		case e.IsDir() && flatten:
			nested = append(nested, path)
		case !e.IsDir() && strings.HasSuffix(e.Name(), ".json"):
			add(path)
		}
	}
	for _, n := range nested {
		inner, err := os.ReadDir(n)
		if err != nil {
			return nil, fmt.Errorf("read nested dir %s: %w", n, err)
		}
		for _, e := range inner {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				add(filepath.Join(n, e.Name()))
			}
		}
	}
	sort.Slice(files, func(i, j int) bool { return filepath.Base(files[i]) < filepath.Base(files[j]) })
	return files, nil
}
