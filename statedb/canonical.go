package statedb

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/evmtests/storage"
	"github.com/colorfulnotion/evmtests/trie"
	"github.com/colorfulnotion/evmtests/types"
)

// Canonicalize builds the hashable state of accounts under scheme. profile
// only affects the SMT scheme.
func Canonicalize(accounts types.AccountMap, scheme types.StateScheme, profile storage.Profile) (*types.CanonicalState, error) {
	switch scheme {
	case types.SchemeMPT, "":
		return trie.BuildState(accounts)
	case types.SchemeSMT:
		return storage.BuildSMTState(accounts, profile)
	}
	return nil, fmt.Errorf("unknown state scheme %q", scheme)
}

// ContractCode maps every non-empty code of accounts by its keccak hash.
func ContractCode(accounts types.AccountMap) map[common.Hash]hexutil.Bytes {
	out := make(map[common.Hash]hexutil.Bytes)
	for _, acct := range accounts {
		if len(acct.Code) == 0 {
			continue
		}
		out[trie.CodeHash(acct.Code)] = common.CopyBytes(acct.Code)
	}
	return out
}

// StateRoot is the root of accounts under scheme.
func StateRoot(accounts types.AccountMap, scheme types.StateScheme, profile storage.Profile) (common.Hash, error) {
	st, err := Canonicalize(accounts, scheme, profile)
	if err != nil {
		return common.Hash{}, err
	}
	return st.Root, nil
}
