package upstream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/evmtests/builder"
	"github.com/colorfulnotion/evmtests/storage"
	"github.com/colorfulnotion/evmtests/types"
)

type fixtureRepo struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	n    int
}

func newFixtureRepo(t *testing.T) *fixtureRepo {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return &fixtureRepo{t: t, dir: dir, repo: repo}
}

// commit writes rel with content and commits it, returning the commit hash.
func (f *fixtureRepo) commit(rel, content string) string {
	f.t.Helper()
	abs := filepath.Join(f.dir, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(f.t, os.WriteFile(abs, []byte(content), 0o644))
	wt, err := f.repo.Worktree()
	require.NoError(f.t, err)
	_, err = wt.Add(rel)
	require.NoError(f.t, err)
	f.n++
	hash, err := wt.Commit("update "+rel, &git.CommitOptions{
		Author: &object.Signature{Name: "fixtures", Email: "fixtures@example.com", When: time.Unix(int64(1700000000+f.n), 0)},
	})
	require.NoError(f.t, err)
	return hash.String()
}

func TestLastCommitPerDirectory(t *testing.T) {
	f := newFixtureRepo(t)
	c1 := f.commit("BlockchainTests/GeneralStateTests/stA/a.json", "{}")
	c2 := f.commit("BlockchainTests/GeneralStateTests/stB/b.json", "{}")
	c3 := f.commit("BlockchainTests/GeneralStateTests/stA/a2.json", "{}")

	r, err := Open(f.dir)
	require.NoError(t, err)
	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, c3, head)

	got, err := r.LastCommit("BlockchainTests/GeneralStateTests/stA")
	require.NoError(t, err)
	assert.Equal(t, c3, got)
	got, err = r.LastCommit("BlockchainTests/GeneralStateTests/stB/")
	require.NoError(t, err)
	assert.Equal(t, c2, got)
	got, err = r.LastCommit("BlockchainTests/GeneralStateTests/stC")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotEqual(t, c1, c2)
}

func TestSyncWithoutFetch(t *testing.T) {
	r, err := Sync(context.Background(), t.TempDir(), Options{})
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = Sync(context.Background(), t.TempDir(), Options{Fetch: true})
	assert.Error(t, err)

	f := newFixtureRepo(t)
	f.commit("README", "x")
	r, err = Sync(context.Background(), f.dir, Options{})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, f.dir, r.Dir())
}

func TestTrackerStaleness(t *testing.T) {
	f := newFixtureRepo(t)
	f.commit("BlockchainTests/GeneralStateTests/stA/a.json", "{}")
	f.commit("BlockchainTests/GeneralStateTests/stB/b.json", "{}")
	r, err := Open(f.dir)
	require.NoError(t, err)
	markers, err := storage.NewMemoryMarkerStore()
	require.NoError(t, err)
	defer markers.Close()

	stA := &builder.SubGroupDir{Group: "GeneralStateTests", SubGroup: "stA", RelDir: filepath.Join("GeneralStateTests", "stA")}
	stB := &builder.SubGroupDir{Group: "GeneralStateTests", SubGroup: "stB", RelDir: filepath.Join("GeneralStateTests", "stB")}
	tr := NewTracker(r, markers, "BlockchainTests", types.SchemeMPT, 1, false)

	stale, err := tr.Stale(stA)
	require.NoError(t, err)
	assert.True(t, stale)

	require.NoError(t, tr.MarkParsed(stA, 1))
	require.NoError(t, tr.MarkParsed(stB, 1))
	stale, err = tr.Stale(stA)
	require.NoError(t, err)
	assert.False(t, stale)

	f.commit("BlockchainTests/GeneralStateTests/stA/a.json", `{"x":1}`)
	stale, err = tr.Stale(stA)
	require.NoError(t, err)
	assert.True(t, stale)
	stale, err = tr.Stale(stB)
	require.NoError(t, err)
	assert.False(t, stale)

	otherChain := NewTracker(r, markers, "BlockchainTests", types.SchemeMPT, 137, false)
	stale, err = otherChain.Stale(stB)
	require.NoError(t, err)
	assert.True(t, stale)

	forced := NewTracker(r, markers, "BlockchainTests", types.SchemeMPT, 1, true)
	stale, err = forced.Stale(stB)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestTrackerWithoutCheckout(t *testing.T) {
	markers, err := storage.NewMemoryMarkerStore()
	require.NoError(t, err)
	defer markers.Close()
	tr := NewTracker(nil, markers, "BlockchainTests", "", 1, false)
	dir := &builder.SubGroupDir{Group: "g", SubGroup: "s", RelDir: "g/s"}

	stale, err := tr.Stale(dir)
	require.NoError(t, err)
	assert.True(t, stale)
	require.NoError(t, tr.MarkParsed(dir, 3))
	all, err := markers.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}
