package statedb

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/evmtests/storage"
	"github.com/colorfulnotion/evmtests/types"
)

var (
	sender   = common.HexToAddress("0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b")
	contract = common.HexToAddress("0x095e7baea6a6c7c4c2dfeb977efac326af552d87")
)

func accounts() types.AccountMap {
	return types.AccountMap{
		sender: {Balance: uint256.NewInt(1000), Nonce: 1, Storage: map[common.Hash]*uint256.Int{}},
		contract: {
			Balance: uint256.NewInt(0),
			Code:    []byte{0x60, 0x01, 0x60, 0x00, 0x55},
			Storage: map[common.Hash]*uint256.Int{common.HexToHash("0x00"): uint256.NewInt(1)},
		},
	}
}

func TestCanonicalizeSchemes(t *testing.T) {
	mpt, err := Canonicalize(accounts(), types.SchemeMPT, storage.EIPProfile)
	require.NoError(t, err)
	assert.Equal(t, types.SchemeMPT, mpt.Scheme)
	assert.Len(t, mpt.Storage, 1)

	smt, err := Canonicalize(accounts(), types.SchemeSMT, storage.EIPProfile)
	require.NoError(t, err)
	assert.Equal(t, types.SchemeSMT, smt.Scheme)
	assert.NotEqual(t, mpt.Root, smt.Root)

	_, err = Canonicalize(accounts(), "verkle", storage.EIPProfile)
	assert.Error(t, err)

	root, err := StateRoot(types.AccountMap{}, types.SchemeMPT, storage.EIPProfile)
	require.NoError(t, err)
	assert.Equal(t, gethtypes.EmptyRootHash, root)
}

func TestContractCode(t *testing.T) {
	code := ContractCode(accounts())
	require.Len(t, code, 1)
	for hash, c := range code {
		assert.Equal(t, []byte{0x60, 0x01, 0x60, 0x00, 0x55}, []byte(c))
		assert.NotEqual(t, gethtypes.EmptyCodeHash, hash)
	}
}

func TestDiffStatesIdentical(t *testing.T) {
	diff, err := DiffStates(accounts(), accounts())
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.Equal(t, "", diff.String())
}

func TestDiffStatesIgnoresZeroStorage(t *testing.T) {
	actual := accounts()
	actual[contract].Storage[common.HexToHash("0x05")] = uint256.NewInt(0)
	diff, err := DiffStates(accounts(), actual)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestDiffStatesReportsChanges(t *testing.T) {
	actual := accounts()
	actual[sender].Balance = uint256.NewInt(999)
	extra := common.HexToAddress("0x2adc25665018aa1fe0e6bc666dac8fc2697ff9ba")
	actual[extra] = &types.Account{Balance: uint256.NewInt(1), Storage: map[common.Hash]*uint256.Int{}}

	diff, err := DiffStates(accounts(), actual)
	require.NoError(t, err)
	require.Len(t, diff.Accounts, 2)
	got := map[common.Address]bool{}
	for _, a := range diff.Accounts {
		got[a.Address] = true
		assert.NotEqual(t, "FullMatch", a.Match)
	}
	assert.True(t, got[sender])
	assert.True(t, got[extra])
	assert.NotEmpty(t, diff.Text)
	assert.Contains(t, diff.String(), "2 account(s) differ")
}
