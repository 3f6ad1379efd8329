package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Account is a typed pre- or post-state account as read from a fixture.
// Storage entries with a zero value are semantically absent.
type Account struct {
	Balance *uint256.Int                 `json:"balance"`
	Nonce   uint64                       `json:"nonce"`
	Code    hexutil.Bytes                `json:"code"`
	Storage map[common.Hash]*uint256.Int `json:"storage"`
}

// AccountMap is a full state keyed by address.
type AccountMap map[common.Address]*Account

// StateScheme selects the top-level state structure.
type StateScheme string

const (
	SchemeMPT StateScheme = "mpt"
	SchemeSMT StateScheme = "smt"
)

// AccountRecord is the canonical leaf value of an account.
// CodeSize is only committed by the SMT scheme.
type AccountRecord struct {
	Nonce       uint64
	Balance     *uint256.Int
	StorageRoot common.Hash
	CodeHash    common.Hash
	CodeSize    uint32
}

// Leaf is one (key, value) pair of a canonical structure.
type Leaf struct {
	Key   hexutil.Bytes `json:"key"`
	Value hexutil.Bytes `json:"value"`
}

// StorageTrie is the canonical storage structure of one account (MPT only).
type StorageTrie struct {
	Root   common.Hash `json:"root"`
	Leaves []Leaf      `json:"leaves"`
}

// CanonicalState is the hashable state handed to the engine. Leaves are sorted by key.
type CanonicalState struct {
	Scheme  StateScheme                 `json:"scheme"`
	Root    common.Hash                 `json:"root"`
	Leaves  []Leaf                      `json:"leaves"`
	Storage map[common.Hash]StorageTrie `json:"storage,omitempty"`
}

// BlockMetadata carries the header fields the engine consumes.
type BlockMetadata struct {
	Beneficiary           common.Address `json:"beneficiary"`
	Timestamp             uint64         `json:"timestamp"`
	Number                uint64         `json:"number"`
	Difficulty            *uint256.Int   `json:"difficulty"`
	Random                common.Hash    `json:"random"`
	GasLimit              uint64         `json:"gas_limit"`
	GasUsed               uint64         `json:"gas_used"`
	BaseFee               *uint256.Int   `json:"base_fee,omitempty"`
	ChainID               uint64         `json:"chain_id"`
	Bloom                 hexutil.Bytes  `json:"bloom"`
	BlobGasUsed           *uint64        `json:"blob_gas_used,omitempty"`
	ExcessBlobGas         *uint64        `json:"excess_blob_gas,omitempty"`
	ParentBeaconBlockRoot *common.Hash   `json:"parent_beacon_block_root,omitempty"`
}

// Withdrawal is a post-Shanghai validator withdrawal; Amount is in Gwei.
type Withdrawal struct {
	Index     uint64         `json:"index"`
	Validator uint64         `json:"validator"`
	Address   common.Address `json:"address"`
	Amount    uint64         `json:"amount"`
}

// ExpectedRoots are the header roots the engine must reproduce.
type ExpectedRoots struct {
	StateRoot        common.Hash `json:"state_root"`
	TransactionsRoot common.Hash `json:"transactions_root"`
	ReceiptsRoot     common.Hash `json:"receipts_root"`
}

// AssembledInput is the engine-ready input of one transaction variant.
type AssembledInput struct {
	Name           string                        `json:"name"`
	TxBytes        hexutil.Bytes                 `json:"tx_bytes"`
	State          CanonicalState                `json:"state"`
	ContractCode   map[common.Hash]hexutil.Bytes `json:"contract_code"`
	Metadata       BlockMetadata                 `json:"metadata"`
	Withdrawals    []Withdrawal                  `json:"withdrawals"`
	Expected       ExpectedRoots                 `json:"expected"`
	GasLimitCapped bool                          `json:"gas_limit_capped,omitempty"`
	// PostState is the fixture's expected post-state, used only for diagnostics.
	PostState AccountMap `json:"post_state,omitempty"`
}
