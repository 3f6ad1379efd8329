package harness

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/evmtests/builder"
	"github.com/colorfulnotion/evmtests/engine"
	"github.com/colorfulnotion/evmtests/runstate"
	"github.com/colorfulnotion/evmtests/storage"
	"github.com/colorfulnotion/evmtests/testtree"
	"github.com/colorfulnotion/evmtests/trie"
	"github.com/colorfulnotion/evmtests/types"
)

const transferFixture = `{
  "transfer_d0g0v0": {
    "blocks": [{
      "blockHeader": {
        "bloom": "0x00", "coinbase": "0x2adc25665018aa1fe0e6bc666dac8fc2697ff9ba",
        "difficulty": "0x00", "extraData": "0x", "gasLimit": "0x0f4240", "gasUsed": "0x5208",
        "hash": "0x1111111111111111111111111111111111111111111111111111111111111111",
        "mixHash": "0x2222222222222222222222222222222222222222222222222222222222222222",
        "nonce": "0x0000000000000000", "number": "0x01",
        "parentHash": "0x3333333333333333333333333333333333333333333333333333333333333333",
        "receiptTrie": "0x4444444444444444444444444444444444444444444444444444444444444444",
        "stateRoot": "0x5555555555555555555555555555555555555555555555555555555555555555",
        "timestamp": "0x03e8",
        "transactionsTrie": "0x6666666666666666666666666666666666666666666666666666666666666666",
        "uncleHash": "0x7777777777777777777777777777777777777777777777777777777777777777",
        "baseFeePerGas": "0x0a"
      },
      "transactions": [{
        "data": "0x", "gasLimit": "0x061a80", "gasPrice": "0x0a", "nonce": "0x00",
        "to": "0x095e7baea6a6c7c4c2dfeb977efac326af552d87", "value": "0x0186a0", "v": "0x1b",
        "r": "0x48b55bfa915ac795c431978d8a6a992b628d557da5ff759b307d495a36649353",
        "s": "0x1fffd310ac743f371de3b9f7f9cb56c0b28ad43601b4ab949f53faa07bd2c804"
      }]
    }],
    "pre": {
      "0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b": {"balance": "0x0de0b6b3a7640000", "code": "0x", "nonce": "0x00", "storage": {}}
    }
  }
}`

// rootEngine answers every execution with the given roots.
type rootEngine struct {
	root common.Hash
	seen *types.AssembledInput
}

func (e *rootEngine) Execute(ctx context.Context, in *types.AssembledInput, mode engine.Mode) (*engine.Output, error) {
	e.seen = in
	return &engine.Output{
		StateRoot:        e.root,
		ReceiptsRoot:     in.Expected.ReceiptsRoot,
		TransactionsRoot: in.Expected.TransactionsRoot,
		Proof:            []byte{1},
	}, nil
}

func (e *rootEngine) Verify(ctx context.Context, proof []byte) error { return nil }

func TestParsedFixturePassesProof(t *testing.T) {
	fixtures := t.TempDir()
	parsed := t.TempDir()
	file := filepath.Join(fixtures, "GeneralStateTests", "stExample", "transfer.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte(transferFixture), 0o644))
	require.True(t, json.Valid([]byte(transferFixture)))

	art, skipped, err := builder.ParseFixtureFile(file, "transfer", 1, builder.NewAssembler(types.SchemeMPT, storage.EIPProfile))
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, art.Variants, 1)
	in := art.Variants[0].Input
	require.NotNil(t, in)
	assert.NotEmpty(t, in.TxBytes)

	pre, err := trie.BuildState(types.AccountMap{
		common.HexToAddress("0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b"): {
			Balance: uint256.NewInt(1_000_000_000_000_000_000),
			Storage: map[common.Hash]*uint256.Int{},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, pre.Root, in.State.Root)

	r := common.HexToHash("0x5555555555555555555555555555555555555555555555555555555555555555")
	require.Equal(t, r, in.Expected.StateRoot)

	require.NoError(t, builder.WriteArtifact(filepath.Join(parsed, "GeneralStateTests", "stExample", "transfer.parsed"), art))
	groups, err := testtree.Read(context.Background(), parsed, testtree.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, testtree.Count(groups))

	eng := &rootEngine{root: r}
	store := runstate.NewMemory()
	h := newHarness(t, eng, store, Config{Workers: 1})
	sum, err := h.Run(context.Background(), groups)
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, types.StatusPassedProof, sum.Results[0].Status.Kind)
	assert.Equal(t, types.PassedProof, stateOf(t, store, string(sum.Results[0].Identity)))
	require.NotNil(t, eng.seen)
	assert.Equal(t, in.State.Root, eng.seen.State.Root)
}
