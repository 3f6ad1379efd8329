package codec

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TxType is the EIP-2718 envelope type; legacy transactions have no envelope.
type TxType byte

const (
	LegacyTxType     TxType = 0x00
	AccessListTxType TxType = 0x01
	FeeMarketTxType  TxType = 0x02
	BlobTxType       TxType = 0x03
)

func (t TxType) String() string {
	switch t {
	case LegacyTxType:
		return "legacy"
	case AccessListTxType:
		return "access-list"
	case FeeMarketTxType:
		return "fee-market"
	case BlobTxType:
		return "blob"
	}
	return "unknown"
}

// TypedTransaction is implemented only by LegacyTx, AccessListTx, FeeMarketTx and BlobTx.
type TypedTransaction interface {
	Type() TxType
	sealed()
}

// AccessTuple is one warmed address and its storage keys.
type AccessTuple struct {
	Address     common.Address `json:"address"`
	StorageKeys []common.Hash  `json:"storageKeys"`
}

type AccessList []AccessTuple

// StorageKeyCount is the number of storage keys across all tuples.
func (al AccessList) StorageKeyCount() int {
	n := 0
	for _, t := range al {
		n += len(t.StorageKeys)
	}
	return n
}

// LegacyTx is a pre-EIP-2718 transaction. A nil To means contract creation.
type LegacyTx struct {
	Nonce    uint64
	GasPrice *uint256.Int
	Gas      uint64
	To       *common.Address `rlp:"nil"`
	Value    *uint256.Int
	Data     []byte
	V, R, S  *uint256.Int
}

// AccessListTx is an EIP-2930 transaction.
type AccessListTx struct {
	ChainID    *uint256.Int
	Nonce      uint64
	GasPrice   *uint256.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *uint256.Int
	Data       []byte
	AccessList AccessList
	V, R, S    *uint256.Int
}

// FeeMarketTx is an EIP-1559 transaction.
type FeeMarketTx struct {
	ChainID    *uint256.Int
	Nonce      uint64
	GasTipCap  *uint256.Int
	GasFeeCap  *uint256.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *uint256.Int
	Data       []byte
	AccessList AccessList
	V, R, S    *uint256.Int
}

// BlobTx is an EIP-4844 transaction. Blob transactions cannot create contracts.
type BlobTx struct {
	ChainID    *uint256.Int
	Nonce      uint64
	GasTipCap  *uint256.Int
	GasFeeCap  *uint256.Int
	Gas        uint64
	To         common.Address
	Value      *uint256.Int
	Data       []byte
	AccessList AccessList
	BlobFeeCap *uint256.Int
	BlobHashes []common.Hash
	V, R, S    *uint256.Int
}

func (*LegacyTx) Type() TxType     { return LegacyTxType }
func (*AccessListTx) Type() TxType { return AccessListTxType }
func (*FeeMarketTx) Type() TxType  { return FeeMarketTxType }
func (*BlobTx) Type() TxType       { return BlobTxType }

func (*LegacyTx) sealed()     {}
func (*AccessListTx) sealed() {}
func (*FeeMarketTx) sealed()  {}
func (*BlobTx) sealed()       {}

// GasLimit returns the gas field of any variant.
func GasLimit(tx TypedTransaction) uint64 {
	switch t := tx.(type) {
	case *LegacyTx:
		return t.Gas
	case *AccessListTx:
		return t.Gas
	case *FeeMarketTx:
		return t.Gas
	case *BlobTx:
		return t.Gas
	}
	return 0
}
