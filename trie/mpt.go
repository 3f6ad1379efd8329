package trie

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/types"
)

// MerkleTree is a Merkle-Patricia trie held as its sorted leaf set. The
// structure is canonical: the root depends only on the set of (key, value)
// pairs, never on insertion order.
type MerkleTree struct {
	leaves map[common.Hash][]byte
}

func NewMerkleTree() *MerkleTree {
	return &MerkleTree{leaves: make(map[common.Hash][]byte)}
}

// Insert sets key to value. An empty value removes the key.
func (t *MerkleTree) Insert(key common.Hash, value []byte) {
	if len(value) == 0 {
		t.Delete(key)
		return
	}
	t.leaves[key] = common.CopyBytes(value)
}

func (t *MerkleTree) Delete(key common.Hash) {
	delete(t.leaves, key)
}

func (t *MerkleTree) Len() int {
	return len(t.leaves)
}

func (t *MerkleTree) sortedKeys() []common.Hash {
	keys := make([]common.Hash, 0, len(t.leaves))
	for k := range t.leaves {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}

// GetRootHash feeds the leaves in key order into a stack trie.
func (t *MerkleTree) GetRootHash() common.Hash {
	st := gethtrie.NewStackTrie(nil)
	for _, k := range t.sortedKeys() {
		if err := st.Update(k[:], t.leaves[k]); err != nil {
			// keys are fixed-length and sorted; a failure here is a bug
			panic(fmt.Sprintf("stack trie update %x: %v", k, err))
		}
	}
	return st.Hash()
}

// Leaves returns the leaf set sorted by key.
func (t *MerkleTree) Leaves() []types.Leaf {
	keys := t.sortedKeys()
	out := make([]types.Leaf, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Leaf{Key: common.CopyBytes(k[:]), Value: common.CopyBytes(t.leaves[k])})
	}
	return out
}

// StorageKey is the trie key of a storage slot, keccak256 of its 32-byte form.
func StorageKey(slot common.Hash) common.Hash {
	return crypto.Keccak256Hash(slot[:])
}

// AccountKey is the trie key of an account, keccak256 of its address.
func AccountKey(addr common.Address) common.Hash {
	return crypto.Keccak256Hash(addr[:])
}

// NewStorageTrie builds an account's storage trie. Zero values are never inserted.
func NewStorageTrie(storage map[common.Hash]*uint256.Int) (*MerkleTree, error) {
	t := NewMerkleTree()
	for slot, value := range storage {
		if value == nil || value.IsZero() {
			continue
		}
		enc, err := rlp.EncodeToBytes(value)
		if err != nil {
			return nil, fmt.Errorf("storage %s: %w", slot.Hex(), err)
		}
		t.Insert(StorageKey(slot), enc)
	}
	return t, nil
}

// EncodeAccount is the RLP leaf value [nonce, balance, storageRoot, codeHash].
func EncodeAccount(rec *types.AccountRecord) ([]byte, error) {
	balance := rec.Balance
	if balance == nil {
		balance = new(uint256.Int)
	}
	return rlp.EncodeToBytes(&gethtypes.StateAccount{
		Nonce:    rec.Nonce,
		Balance:  balance,
		Root:     rec.StorageRoot,
		CodeHash: rec.CodeHash[:],
	})
}

// CodeHash is keccak256 of code; empty code hashes to the empty code hash.
func CodeHash(code []byte) common.Hash {
	if len(code) == 0 {
		return gethtypes.EmptyCodeHash
	}
	return crypto.Keccak256Hash(code)
}

// BuildState canonicalizes accounts into an MPT state and returns its root,
// sorted account leaves and per-account storage tries keyed by hashed address.
func BuildState(accounts types.AccountMap) (*types.CanonicalState, error) {
	state := NewMerkleTree()
	storage := make(map[common.Hash]types.StorageTrie, len(accounts))
	for addr, acct := range accounts {
		st, err := NewStorageTrie(acct.Storage)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", addr.Hex(), err)
		}
		storageRoot := st.GetRootHash()
		rec := &types.AccountRecord{
			Nonce:       acct.Nonce,
			Balance:     acct.Balance,
			StorageRoot: storageRoot,
			CodeHash:    CodeHash(acct.Code),
		}
		leaf, err := EncodeAccount(rec)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", addr.Hex(), err)
		}
		key := AccountKey(addr)
		state.Insert(key, leaf)
		if st.Len() > 0 {
			storage[key] = types.StorageTrie{Root: storageRoot, Leaves: st.Leaves()}
		}
		log.Trace(log.Trie, "account leaf", "addr", addr, "storageRoot", storageRoot, "slots", st.Len())
	}
	root := state.GetRootHash()
	log.Debug(log.Trie, "state root", "root", root, "accounts", state.Len())
	return &types.CanonicalState{
		Scheme:  types.SchemeMPT,
		Root:    root,
		Leaves:  state.Leaves(),
		Storage: storage,
	}, nil
}
