package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/colorfulnotion/evmtests/log"
)

// Options controls how the fixture checkout is obtained.
type Options struct {
	URL string
	// Fetch clones a missing checkout and pulls an existing one.
	Fetch bool
	// Depth limits the clone history; 0 fetches everything. Per-directory
	// commits are only exact when the history reaching them is present.
	Depth    int
	Progress io.Writer
}

// Repo is a fixture checkout. Access to the repository is serialized.
type Repo struct {
	dir  string
	mu   sync.Mutex
	repo *git.Repository
}

// Sync makes dir an up-to-date checkout of opts.URL. It returns a nil Repo
// and no error when dir is not a git checkout and fetching is disabled; the
// caller then treats every sub-group as changed.
func Sync(ctx context.Context, dir string, opts Options) (*Repo, error) {
	repo, err := git.PlainOpen(dir)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		if !opts.Fetch {
			log.Warn(log.Upstream, "fixtures dir is not a git checkout", "dir", dir)
			return nil, nil
		}
		if opts.URL == "" {
			return nil, fmt.Errorf("no upstream url to clone into %s", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		log.Info(log.Upstream, "cloning fixtures", "url", opts.URL, "dir", dir, "depth", opts.Depth)
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:      opts.URL,
			Depth:    opts.Depth,
			Progress: opts.Progress,
		})
		if err != nil {
			return nil, fmt.Errorf("clone %s: %w", opts.URL, err)
		}
	case err != nil:
		return nil, fmt.Errorf("open %s: %w", dir, err)
	case opts.Fetch:
		wt, err := repo.Worktree()
		if err != nil {
			return nil, err
		}
		log.Info(log.Upstream, "pulling fixtures", "dir", dir)
		err = wt.PullContext(ctx, &git.PullOptions{RemoteName: git.DefaultRemoteName, Depth: opts.Depth, Progress: opts.Progress})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("pull %s: %w", dir, err)
		}
	}
	r := &Repo{dir: dir, repo: repo}
	if head, err := r.Head(); err == nil {
		log.Info(log.Upstream, "fixtures checkout ready", "dir", dir, "head", head)
	}
	return r, nil
}

// Open opens an existing checkout without touching the remote.
func Open(dir string) (*Repo, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	return &Repo{dir: dir, repo: repo}, nil
}

func (r *Repo) Dir() string { return r.dir }

func (r *Repo) Head() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, err := r.repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

// LastCommit returns the newest commit reachable from HEAD that touched a
// file below relDir (slash separated, relative to the checkout root), or ""
// when none did.
func (r *Repo) LastCommit(relDir string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, err := r.repo.Head()
	if err != nil {
		return "", err
	}
	prefix := strings.TrimSuffix(path.Clean(relDir), "/") + "/"
	iter, err := r.repo.Log(&git.LogOptions{
		From:       head.Hash(),
		PathFilter: func(p string) bool { return strings.HasPrefix(p, prefix) },
	})
	if err != nil {
		return "", err
	}
	defer iter.Close()
	c, err := iter.Next()
	if err == io.EOF || errors.Is(err, plumbing.ErrObjectNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.Hash.String(), nil
}
