package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/fixture"
	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/telemetry"
)

// StaleChecker decides which sub-groups need re-parsing and remembers the
// ones that were parsed.
type StaleChecker interface {
	Stale(dir *SubGroupDir) (bool, error)
	MarkParsed(dir *SubGroupDir, files int) error
}

// Summary counts the outcome of a parse run.
type Summary struct {
	SubGroups        int
	SubGroupsSkipped int
	Files            int
	FilesFailed      int
	ArtifactsPruned  int
	Variants         int
	VariantsIgnored  int
	EntriesSkipped   int
}

func (s *Summary) String() string {
	return fmt.Sprintf("subgroups=%d (up to date %d) files=%d (failed %d) pruned=%d variants=%d (ignored %d) skipped entries=%d",
		s.SubGroups, s.SubGroupsSkipped, s.Files, s.FilesFailed, s.ArtifactsPruned, s.Variants, s.VariantsIgnored, s.EntriesSkipped)
}

// Driver parses a fixture tree into artifacts.
type Driver struct {
	FixturesRoot string
	ParsedRoot   string
	Groups       []string
	ChainID      uint64
	Workers      int
	Assembler    *Assembler
	Stale        StaleChecker // nil parses everything

	mu      sync.Mutex
	summary Summary
}

// Run parses every stale sub-group. A fixture file that fails to parse is
// logged and counted; directory and artifact write errors abort the run.
// Artifacts whose fixture is gone, or no longer parses, are removed so the
// parsed tree mirrors the fixtures.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	dirs, err := EnumerateFixtures(d.FixturesRoot, d.Groups)
	if err != nil {
		return nil, err
	}
	workers := d.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	d.summary = Summary{SubGroups: len(dirs)}
	if err := d.pruneSubGroups(dirs); err != nil {
		return &d.summary, err
	}

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return &d.summary, err
		}
		if d.Stale != nil {
			stale, err := d.Stale.Stale(dir)
			if err != nil {
				return &d.summary, err
			}
			if !stale {
				log.Debug(log.Parser, "sub-group up to date", "dir", dir.RelDir)
				d.summary.SubGroupsSkipped++
				continue
			}
		}
		if err := d.parseSubGroup(ctx, dir, workers); err != nil {
			return &d.summary, err
		}
		if d.Stale != nil {
			if err := d.Stale.MarkParsed(dir, len(dir.Files)); err != nil {
				return &d.summary, err
			}
		}
	}
	return &d.summary, nil
}

func (d *Driver) parseSubGroup(ctx context.Context, dir *SubGroupDir, workers int) (err error) {
	ctx, span := telemetry.Start(ctx, "parse.subgroup", telemetry.AttrSubGroup.String(dir.RelDir))
	defer func() { telemetry.End(span, err) }()

	log.Info(log.Parser, "parsing sub-group", "dir", dir.RelDir, "files", len(dir.Files))
	if err := os.MkdirAll(filepath.Join(d.ParsedRoot, dir.Group, dir.SubGroup), 0o755); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, file := range dir.Files {
		file := file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return d.parseFile(gctx, dir, file)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return d.pruneArtifacts(dir)
}

// pruneArtifacts removes artifacts in dir's output directory that no fixture
// file of dir maps to.
func (d *Driver) pruneArtifacts(dir *SubGroupDir) error {
	want := make(map[string]bool, len(dir.Files))
	for _, file := range dir.Files {
		want[dir.ArtifactPath(d.ParsedRoot, file)] = true
	}
	_, err := d.removeArtifacts(filepath.Join(d.ParsedRoot, dir.Group, dir.SubGroup), want)
	return err
}

// pruneSubGroups drops the artifacts of parsed sub-groups, within the selected
// groups, that no longer exist in the fixtures tree.
func (d *Driver) pruneSubGroups(dirs []*SubGroupDir) error {
	known := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		known[dir.RelDir] = true
	}
	selected := make(map[string]bool, len(d.Groups))
	for _, g := range d.Groups {
		selected[g] = true
	}
	groups, err := os.ReadDir(d.ParsedRoot)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	for _, g := range groups {
		if !g.IsDir() || (len(selected) > 0 && !selected[g.Name()]) {
			continue
		}
		subs, err := os.ReadDir(filepath.Join(d.ParsedRoot, g.Name()))
		if err != nil {
			return err
		}
		for _, s := range subs {
			rel := filepath.Join(g.Name(), s.Name())
			if !s.IsDir() || known[rel] {
				continue
			}
			out := filepath.Join(d.ParsedRoot, rel)
			empty, err := d.removeArtifacts(out, nil)
			if err != nil {
				return err
			}
			if empty {
				os.Remove(out)
			}
			log.Info(log.Parser, "sub-group removed upstream", "dir", rel)
		}
	}
	return nil
}

// removeArtifacts deletes every artifact in out not listed in keep and
// reports whether out is left empty.
func (d *Driver) removeArtifacts(out string, keep map[string]bool) (bool, error) {
	entries, err := os.ReadDir(out)
	if os.IsNotExist(err) {
		return true, nil
	} else if err != nil {
		return false, err
	}
	left := 0
	for _, e := range entries {
		path := filepath.Join(out, e.Name())
		if e.IsDir() || filepath.Ext(e.Name()) != evmcommon.ParsedExtension || keep[path] {
			left++
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return false, err
		}
		log.Debug(log.Parser, "artifact pruned", "path", path)
		d.count(func(s *Summary) { s.ArtifactsPruned++ })
	}
	return left == 0, nil
}

func (d *Driver) parseFile(ctx context.Context, dir *SubGroupDir, file string) error {
	_, span := telemetry.Start(ctx, "parse.file", telemetry.AttrFile.String(file))
	defer span.End()

	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	path := dir.ArtifactPath(d.ParsedRoot, file)
	art, skipped, err := ParseFixtureFile(file, name, d.ChainID, d.Assembler)
	if err != nil {
		log.Warn(log.Parser, "fixture not parsed", "file", file, "err", err)
		span.RecordError(err)
		d.count(func(s *Summary) { s.Files++; s.FilesFailed++ })
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := WriteArtifact(path, art); err != nil {
		return err
	}
	ignored := 0
	for _, v := range art.Variants {
		if v.Ignored != "" {
			ignored++
		}
	}
	span.SetAttributes(telemetry.AttrVariants.Int(len(art.Variants)))
	d.count(func(s *Summary) {
		s.Files++
		s.Variants += len(art.Variants)
		s.VariantsIgnored += ignored
		s.EntriesSkipped += len(skipped)
	})
	return nil
}

func (d *Driver) count(fn func(*Summary)) {
	d.mu.Lock()
	fn(&d.summary)
	d.mu.Unlock()
}

// ParseFixtureFile deserializes and assembles one fixture file. Entries that
// were dropped before indexing are returned alongside the artifact.
func ParseFixtureFile(path, name string, chainID uint64, asm *Assembler) (*Artifact, []fixture.Skip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	res, err := fixture.Deserialize(data, chainID)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range res.Skipped {
		if fixture.IsSkippable(s.Err) {
			log.Debug(log.Parser, "entry skipped", "file", path, "entry", s.Name, "err", s.Err)
		} else {
			log.Warn(log.Parser, "entry not parsed", "file", path, "entry", s.Name, "err", s.Err)
		}
	}
	if len(res.Variants) == 0 {
		return nil, res.Skipped, fmt.Errorf("no runnable variants in %s", path)
	}
	art, err := asm.Assemble(name, res)
	if err != nil {
		return nil, res.Skipped, err
	}
	return art, res.Skipped, nil
}
