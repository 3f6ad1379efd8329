package testtree

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/evmtests/builder"
	"github.com/colorfulnotion/evmtests/testerrors"
	"github.com/colorfulnotion/evmtests/types"
)

func writeArtifact(t *testing.T, root, group, sub, name string, variants int) {
	t.Helper()
	art := &builder.Artifact{Name: name}
	for i := 0; i < variants; i++ {
		art.Variants = append(art.Variants, builder.VariantRecord{
			Name:  name,
			Input: &types.AssembledInput{Name: name, TxBytes: []byte{byte(i)}},
		})
	}
	require.NoError(t, builder.WriteArtifact(filepath.Join(root, group, sub, name+".parsed"), art))
}

func sampleTree(t *testing.T) string {
	root := t.TempDir()
	writeArtifact(t, root, "GeneralStateTests", "stA", "one", 1)
	writeArtifact(t, root, "GeneralStateTests", "stA", "multi", 4)
	writeArtifact(t, root, "GeneralStateTests", "stB", "other", 2)
	writeArtifact(t, root, "ValidBlocks", "bcX", "x", 1)
	require.NoError(t, os.WriteFile(filepath.Join(root, "GeneralStateTests", "stA", "notes.txt"), []byte("x"), 0o644))
	return root
}

func identities(groups []*Group) []string {
	var out []string
	for _, g := range groups {
		for _, s := range g.SubGroups {
			for _, tt := range s.Tests {
				out = append(out, string(tt.Identity))
			}
		}
	}
	sort.Strings(out)
	return out
}

func TestReadAll(t *testing.T) {
	root := sampleTree(t)
	groups, err := Read(context.Background(), root, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 8, Count(groups))
	assert.Equal(t, []string{
		"GeneralStateTests/stA/multi_0",
		"GeneralStateTests/stA/multi_1",
		"GeneralStateTests/stA/multi_2",
		"GeneralStateTests/stA/multi_3",
		"GeneralStateTests/stA/one",
		"GeneralStateTests/stB/other_0",
		"GeneralStateTests/stB/other_1",
		"ValidBlocks/bcX/x",
	}, identities(groups))
}

func TestReadFilters(t *testing.T) {
	root := sampleTree(t)

	groups, err := Read(context.Background(), root, Filter{Name: "stA/multi"})
	require.NoError(t, err)
	assert.Equal(t, 4, Count(groups))

	vr, err := ParseVariantFilter("1..2")
	require.NoError(t, err)
	groups, err = Read(context.Background(), root, Filter{Name: "multi", Variants: vr})
	require.NoError(t, err)
	assert.Equal(t, []string{"GeneralStateTests/stA/multi_1", "GeneralStateTests/stA/multi_2"}, identities(groups))

	exclude := AnyOf{
		NewIdentitySet("GeneralStateTests/stA/multi_0"),
		Blacklist{"GeneralStateTests/stB", "ValidBlocks/bcX/x"},
	}
	groups, err = Read(context.Background(), root, Filter{Exclude: exclude})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"GeneralStateTests/stA/multi_1",
		"GeneralStateTests/stA/multi_2",
		"GeneralStateTests/stA/multi_3",
		"GeneralStateTests/stA/one",
	}, identities(groups))
}

func TestExcludedFileIsNeverOpened(t *testing.T) {
	root := sampleTree(t)
	path := filepath.Join(root, "GeneralStateTests", "stA", "one.parsed")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	groups, err := Read(context.Background(), root, Filter{Exclude: NewIdentitySet("GeneralStateTests/stA/one")})
	require.NoError(t, err)
	for _, g := range groups {
		for _, s := range g.SubGroups {
			for _, tt := range s.Tests {
				assert.NoError(t, tt.Err, tt.Identity)
			}
		}
	}
}

func TestUnreadableArtifactIsPerTest(t *testing.T) {
	root := sampleTree(t)
	path := filepath.Join(root, "GeneralStateTests", "stA", "one.parsed")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	groups, err := Read(context.Background(), root, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 8, Count(groups))
	var bad *Test
	for _, g := range groups {
		for _, s := range g.SubGroups {
			for _, tt := range s.Tests {
				if tt.Identity == "GeneralStateTests/stA/one" {
					bad = tt
				}
			}
		}
	}
	require.NotNil(t, bad)
	assert.ErrorIs(t, bad.Err, testerrors.ErrPArtifactUnreadable)
}

func TestMissingRootFails(t *testing.T) {
	_, err := Read(context.Background(), filepath.Join(t.TempDir(), "missing"), Filter{})
	assert.Error(t, err)
}

func TestListIdentities(t *testing.T) {
	root := sampleTree(t)
	ids, err := ListIdentities(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, ids, 8)
	assert.Equal(t, types.TestIdentity("GeneralStateTests/stA/multi_0"), ids[0])
}

func TestParseVariantFilter(t *testing.T) {
	for in, want := range map[string]*VariantRange{
		"":     nil,
		"3":    {3, 3},
		"2..5": {2, 5},
		"2-5":  {2, 5},
	} {
		got, err := ParseVariantFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"x", "5..2", "-1", "1..x"} {
		_, err := ParseVariantFilter(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadBlacklist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist")
	require.NoError(t, os.WriteFile(path, []byte("# slow\nGeneralStateTests/stQuadraticComplexityTest/\n\nGeneralStateTests/stA/multi\n"), 0o644))
	bl, err := LoadBlacklist(path)
	require.NoError(t, err)
	assert.Len(t, bl, 2)
	assert.True(t, bl.Excluded("GeneralStateTests/stQuadraticComplexityTest/Call50000"))
	assert.True(t, bl.Excluded("GeneralStateTests/stA/multi_3"))
	assert.False(t, bl.Excluded("GeneralStateTests/stA/multiCall"))
	assert.False(t, bl.Excluded("GeneralStateTests/stA/multi_x"))

	empty, err := LoadBlacklist("")
	require.NoError(t, err)
	assert.False(t, empty.Excluded("a/b/c"))
}
