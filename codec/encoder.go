package codec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Encode returns the bytes a full node puts in its transaction trie: the RLP
// list for legacy transactions, type byte || RLP list for the others.
func Encode(tx TypedTransaction) ([]byte, error) {
	switch t := tx.(type) {
	case *LegacyTx:
		return rlp.EncodeToBytes(t)
	case *AccessListTx:
		return encodeEnveloped(t.Type(), t)
	case *FeeMarketTx:
		return encodeEnveloped(t.Type(), t)
	case *BlobTx:
		return encodeEnveloped(t.Type(), t)
	case nil:
		return nil, fmt.Errorf("encode: nil transaction")
	}
	return nil, fmt.Errorf("encode: unsupported transaction %T", tx)
}

func encodeEnveloped(typ TxType, payload interface{}) ([]byte, error) {
	body, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(typ))
	return append(out, body...), nil
}

// Hash is the transaction hash, keccak256 of the canonical encoding.
func Hash(tx TypedTransaction) (common.Hash, error) {
	enc, err := Encode(tx)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}
