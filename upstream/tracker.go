package upstream

import (
	"path"
	"path/filepath"
	"time"

	"github.com/colorfulnotion/evmtests/builder"
	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/storage"
	"github.com/colorfulnotion/evmtests/types"
)

// Tracker decides staleness of fixture sub-groups from the last commit that
// touched each one and the marker written when it was last parsed.
type Tracker struct {
	repo    *Repo
	markers *storage.MarkerStore
	// treePrefix is the fixtures tree root relative to the checkout root.
	treePrefix string
	scheme     types.StateScheme
	chainID    uint64
	force      bool
}

func NewTracker(repo *Repo, markers *storage.MarkerStore, treePrefix string, scheme types.StateScheme, chainID uint64, force bool) *Tracker {
	if scheme == "" {
		scheme = types.SchemeMPT
	}
	return &Tracker{
		repo:       repo,
		markers:    markers,
		treePrefix: filepath.ToSlash(treePrefix),
		scheme:     scheme,
		chainID:    chainID,
		force:      force,
	}
}

var _ builder.StaleChecker = (*Tracker)(nil)

func (t *Tracker) commitOf(dir *builder.SubGroupDir) (string, error) {
	if t.repo == nil {
		return "", nil
	}
	return t.repo.LastCommit(path.Join(t.treePrefix, filepath.ToSlash(dir.RelDir)))
}

// Stale is true when forced, without a checkout, or when the sub-group's
// last commit, scheme or chain id differ from its marker.
func (t *Tracker) Stale(dir *builder.SubGroupDir) (bool, error) {
	if t.force || t.repo == nil {
		return true, nil
	}
	commit, err := t.commitOf(dir)
	if err != nil {
		return true, err
	}
	if commit == "" {
		return true, nil
	}
	return t.markers.IsStale(dir.RelDir, commit, string(t.scheme), t.chainID)
}

// MarkParsed records the sub-group as parsed at its current last commit.
// Nothing is recorded without a checkout.
func (t *Tracker) MarkParsed(dir *builder.SubGroupDir, files int) error {
	commit, err := t.commitOf(dir)
	if err != nil || commit == "" {
		return err
	}
	log.Debug(log.Upstream, "marking sub-group parsed", "dir", dir.RelDir, "commit", commit, "files", files)
	return t.markers.Put(dir.RelDir, &storage.ParseMarker{
		Commit:   commit,
		Scheme:   string(t.scheme),
		ChainID:  t.chainID,
		ParsedAt: time.Now().UTC(),
		Files:    files,
	})
}
