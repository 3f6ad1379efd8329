package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/testerrors"
	"github.com/colorfulnotion/evmtests/types"
)

// CheckAccount reports whether acct can be committed to a basic data leaf.
func CheckAccount(addr common.Address, acct *types.Account) error {
	if acct.Balance != nil && acct.Balance.BitLen() > 128 {
		return fmt.Errorf("%w: account %s balance %s", testerrors.ErrNBalanceRange, addr.Hex(), acct.Balance.Dec())
	}
	if len(acct.Code) > MaxCodeSize {
		return fmt.Errorf("%w: account %s code size %d", testerrors.ErrNCodeSizeRange, addr.Hex(), len(acct.Code))
	}
	return nil
}

// InsertAccount writes every leaf of one account: basic data, code hash,
// non-zero storage slots and code chunks.
func (t *SparseTree) InsertAccount(addr common.Address, acct *types.Account) error {
	if err := CheckAccount(addr, acct); err != nil {
		return err
	}
	basic := NewBasicDataLeaf(acct.Nonce, acct.Balance, uint32(len(acct.Code)))
	t.Insert(BasicDataKey(t.profile, addr), basic.Encode())

	codeHash := gethtypes.EmptyCodeHash
	if len(acct.Code) > 0 {
		codeHash = crypto.Keccak256Hash(acct.Code)
	}
	t.Insert(CodeHashKey(t.profile, addr), codeHash)

	for slot, value := range acct.Storage {
		if value == nil || value.IsZero() {
			continue
		}
		t.Insert(StorageSlotKey(t.profile, addr, slot), value.Bytes32())
	}
	for i, chunk := range ChunkifyCode(acct.Code) {
		t.Insert(CodeChunkKey(t.profile, addr, uint64(i)), chunk)
	}
	return nil
}

// BuildSMTState commits accounts into a single sparse tree. Storage lives in
// the same tree, so the returned state has no per-account storage tries.
func BuildSMTState(accounts types.AccountMap, profile Profile) (*types.CanonicalState, error) {
	tree := NewSparseTree(Config{Profile: profile})
	for addr, acct := range accounts {
		if err := tree.InsertAccount(addr, acct); err != nil {
			return nil, err
		}
		log.Trace(log.SMT, "account leaves", "addr", addr, "slots", len(acct.Storage), "code", len(acct.Code))
	}
	root := common.Hash(tree.RootHash())
	entries := tree.Iter()
	leaves := make([]types.Leaf, 0, len(entries))
	for _, kv := range entries {
		k := kv.Key.ToBytes()
		v := kv.Value
		leaves = append(leaves, types.Leaf{Key: common.CopyBytes(k[:]), Value: common.CopyBytes(v[:])})
	}
	log.Debug(log.SMT, "state root", "root", root, "profile", profile, "leaves", len(leaves))
	return &types.CanonicalState{
		Scheme: types.SchemeSMT,
		Root:   root,
		Leaves: leaves,
	}, nil
}
