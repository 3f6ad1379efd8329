package builder

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/evmtests/fixture"
	"github.com/colorfulnotion/evmtests/storage"
	"github.com/colorfulnotion/evmtests/testerrors"
	"github.com/colorfulnotion/evmtests/trie"
	"github.com/colorfulnotion/evmtests/types"
)

const (
	sender    = "0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b"
	recipient = "0x095e7baea6a6c7c4c2dfeb977efac326af552d87"
)

func hash(b string) string { return "0x" + strings.Repeat(b, 32) }

func entry(gasUsed, gasLimit string) map[string]any {
	return map[string]any{
		"blocks": []any{map[string]any{
			"blockHeader": map[string]any{
				"bloom": "0x00", "coinbase": "0x2adc25665018aa1fe0e6bc666dac8fc2697ff9ba",
				"difficulty": "0x00", "extraData": "0x", "gasLimit": gasLimit, "gasUsed": gasUsed,
				"hash": hash("11"), "mixHash": hash("22"), "nonce": "0x0000000000000000",
				"number": "0x01", "parentHash": hash("33"), "receiptTrie": hash("44"),
				"stateRoot": hash("55"), "timestamp": "0x03e8", "transactionsTrie": hash("66"),
				"uncleHash": hash("77"), "baseFeePerGas": "0x0a",
			},
			"transactions": []any{map[string]any{
				"data": "0x", "gasLimit": "0x061a80", "gasPrice": "0x0a", "nonce": "0x00",
				"to": recipient, "value": "0x0186a0", "v": "0x1b",
				"r": "0x48b55bfa915ac795c431978d8a6a992b628d557da5ff759b307d495a36649353",
				"s": "0x1fffd310ac743f371de3b9f7f9cb56c0b28ad43601b4ab949f53faa07bd2c804",
			}},
		}},
		"pre": map[string]any{
			sender:    map[string]any{"balance": "0x64", "code": "0x", "nonce": "0x00", "storage": map[string]any{}},
			recipient: map[string]any{"balance": "0x00", "code": "0x600160005500", "nonce": "0x00", "storage": map[string]any{"0x00": "0x01"}},
		},
	}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestAssembleVariant(t *testing.T) {
	pre := types.AccountMap{
		common.HexToAddress(sender): {Balance: uint256.NewInt(100), Storage: map[common.Hash]*uint256.Int{}},
	}
	v := &fixture.Variant{
		Name:     "transfer",
		Pre:      pre,
		TxBytes:  []byte{0xc0},
		Metadata: types.BlockMetadata{GasLimit: 1_000_000},
	}
	asm := NewAssembler(types.SchemeMPT, storage.EIPProfile)
	in, err := asm.AssembleVariant(v)
	require.NoError(t, err)
	assert.False(t, in.GasLimitCapped)
	assert.Empty(t, in.ContractCode)
	assert.NotNil(t, in.Withdrawals)

	want, err := trie.BuildState(pre)
	require.NoError(t, err)
	assert.Equal(t, want.Root, in.State.Root)

	v.Metadata.GasLimit = math.MaxUint64
	in, err = asm.AssembleVariant(v)
	require.NoError(t, err)
	assert.True(t, in.GasLimitCapped)
	assert.Equal(t, uint64(MaxEngineGas), in.Metadata.GasLimit)
}

func TestAssembleIgnoresRangeErrors(t *testing.T) {
	asm := NewAssembler(types.SchemeSMT, storage.EIPProfile)
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 130)
	res := &fixture.Result{Variants: []*fixture.Variant{
		{Name: "ok", Pre: types.AccountMap{common.HexToAddress(sender): {Balance: uint256.NewInt(1)}}},
		{Name: "gas", Err: testerrors.ErrNGasUsedRange},
		{Name: "balance", Pre: types.AccountMap{common.HexToAddress(sender): {Balance: huge}}},
	}}
	art, err := asm.Assemble("file", res)
	require.NoError(t, err)
	require.Len(t, art.Variants, 3)
	assert.NotNil(t, art.Variants[0].Input)
	assert.Empty(t, art.Variants[0].Ignored)
	assert.Nil(t, art.Variants[1].Input)
	assert.Contains(t, art.Variants[1].Ignored, "GasUsedRange")
	assert.Contains(t, art.Variants[2].Ignored, "BalanceRange")
}

func TestArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g", "s", "t.parsed")
	art := &Artifact{Name: "t", Variants: []VariantRecord{
		{Name: "a", Input: &types.AssembledInput{Name: "a", TxBytes: []byte{1, 2}, ContractCode: map[common.Hash]hexutil.Bytes{}}},
		{Name: "b", Ignored: "N1|GasUsedRange"},
	}}
	require.NoError(t, WriteArtifact(path, art))

	lazy, err := ReadLazyArtifact(path)
	require.NoError(t, err)
	require.Equal(t, 2, lazy.Len())
	rec, err := lazy.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, []byte(rec.Input.TxBytes))
	rec, err = lazy.Decode(1)
	require.NoError(t, err)
	assert.Nil(t, rec.Input)
	assert.Equal(t, "N1|GasUsedRange", rec.Ignored)
	_, err = lazy.Decode(2)
	assert.Error(t, err)

	full, err := ReadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, "t", full.Name)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = ReadLazyArtifact(path)
	assert.ErrorIs(t, err, testerrors.ErrPArtifactUnreadable)
}

func TestDriverParsesTree(t *testing.T) {
	root := t.TempDir()
	parsed := t.TempDir()
	group := filepath.Join(root, "GeneralStateTests")
	writeJSON(t, filepath.Join(group, "stExample", "add.json"), map[string]any{
		"add_d0g0v0": entry("0x5208", "0x0f4240"),
		"add_d1g0v0": entry("0x01ffffffff", "0x0f4240"),
	})
	writeJSON(t, filepath.Join(group, "stExample", "single.json"), map[string]any{"only": entry("0x5208", "0x0f4240")})
	writeJSON(t, filepath.Join(group, "Cancun", "stEIP1153", "nested.json"), map[string]any{"n": entry("0x5208", "0x0f4240")})
	require.NoError(t, os.WriteFile(filepath.Join(group, "stExample", "broken.json"), []byte("{"), 0o644))
	writeJSON(t, filepath.Join(root, "InvalidBlocks", "bcX", "ignored.json"), map[string]any{"x": entry("0x5208", "0x0f4240")})

	d := &Driver{
		FixturesRoot: root,
		ParsedRoot:   parsed,
		Groups:       []string{"GeneralStateTests"},
		ChainID:      1,
		Workers:      2,
		Assembler:    NewAssembler(types.SchemeMPT, storage.EIPProfile),
	}
	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.SubGroups)
	assert.Equal(t, 4, sum.Files)
	assert.Equal(t, 1, sum.FilesFailed)
	assert.Equal(t, 4, sum.Variants)
	assert.Equal(t, 1, sum.VariantsIgnored)

	art, err := ReadArtifact(filepath.Join(parsed, "GeneralStateTests", "stExample", "add.parsed"))
	require.NoError(t, err)
	require.Len(t, art.Variants, 2)
	assert.Equal(t, "add_d0g0v0", art.Variants[0].Name)
	assert.NotNil(t, art.Variants[0].Input)
	assert.NotEmpty(t, art.Variants[1].Ignored)

	_, err = os.Stat(filepath.Join(parsed, "GeneralStateTests", "Cancun", "nested.parsed"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(parsed, "InvalidBlocks"))
	assert.True(t, os.IsNotExist(err))
}

type fakeStale struct {
	fresh  map[string]bool
	marked []string
}

func (f *fakeStale) Stale(dir *SubGroupDir) (bool, error) { return !f.fresh[dir.RelDir], nil }

func (f *fakeStale) MarkParsed(dir *SubGroupDir, files int) error {
	f.marked = append(f.marked, dir.RelDir)
	return nil
}

func TestDriverSkipsFreshSubGroups(t *testing.T) {
	root := t.TempDir()
	parsed := t.TempDir()
	writeJSON(t, filepath.Join(root, "GeneralStateTests", "stA", "a.json"), map[string]any{"a": entry("0x5208", "0x0f4240")})
	writeJSON(t, filepath.Join(root, "GeneralStateTests", "stB", "b.json"), map[string]any{"b": entry("0x5208", "0x0f4240")})

	stale := &fakeStale{fresh: map[string]bool{filepath.Join("GeneralStateTests", "stA"): true}}
	d := &Driver{FixturesRoot: root, ParsedRoot: parsed, ChainID: 1, Assembler: NewAssembler("", storage.EIPProfile), Stale: stale}
	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SubGroupsSkipped)
	assert.Equal(t, []string{filepath.Join("GeneralStateTests", "stB")}, stale.marked)
	_, err = os.Stat(filepath.Join(parsed, "GeneralStateTests", "stA", "a.parsed"))
	assert.True(t, os.IsNotExist(err))
}

func parsedNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDriverPrunesRemovedFixtures(t *testing.T) {
	root := t.TempDir()
	parsed := t.TempDir()
	stA := filepath.Join(root, "GeneralStateTests", "stA")
	stB := filepath.Join(root, "GeneralStateTests", "stB")
	for _, name := range []string{"gone", "stays", "breaks"} {
		writeJSON(t, filepath.Join(stA, name+".json"), map[string]any{name: entry("0x5208", "0x0f4240")})
	}
	writeJSON(t, filepath.Join(stB, "b.json"), map[string]any{"b": entry("0x5208", "0x0f4240")})
	writeJSON(t, filepath.Join(root, "Pyspecs", "cancun", "p.json"), map[string]any{"p": entry("0x5208", "0x0f4240")})

	run := func(groups ...string) *Summary {
		d := &Driver{FixturesRoot: root, ParsedRoot: parsed, Groups: groups, ChainID: 1, Assembler: NewAssembler(types.SchemeMPT, storage.EIPProfile)}
		sum, err := d.Run(context.Background())
		require.NoError(t, err)
		return sum
	}
	run()
	outA := filepath.Join(parsed, "GeneralStateTests", "stA")
	require.Equal(t, []string{"breaks.parsed", "gone.parsed", "stays.parsed"}, parsedNames(t, outA))

	require.NoError(t, os.Remove(filepath.Join(stA, "gone.json")))
	require.NoError(t, os.WriteFile(filepath.Join(stA, "breaks.json"), []byte("{"), 0o644))
	require.NoError(t, os.RemoveAll(stB))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "Pyspecs")))

	sum := run("GeneralStateTests")
	assert.Equal(t, 1, sum.FilesFailed)
	assert.Equal(t, []string{"stays.parsed"}, parsedNames(t, outA))
	_, err := os.Stat(filepath.Join(parsed, "GeneralStateTests", "stB"))
	assert.True(t, os.IsNotExist(err))
	// groups outside the selection are left alone
	_, err = os.Stat(filepath.Join(parsed, "Pyspecs", "cancun", "p.parsed"))
	assert.NoError(t, err)
}
