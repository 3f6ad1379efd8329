package codec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/colorfulnotion/evmtests/testerrors"
)

// Decode parses canonical transaction bytes. Input that is itself an RLP
// string (typed transactions as stored in a block body, or fixtures that
// double-encode) is unwrapped once and decoded again.
func Decode(b []byte) (TypedTransaction, error) {
	return decode(b, true)
}

func decode(b []byte, unwrap bool) (TypedTransaction, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty input: %w", testerrors.ErrPBadRLP)
	}
	switch {
	case b[0] >= 0xc0:
		var tx LegacyTx
		if err := rlp.DecodeBytes(b, &tx); err != nil {
			return nil, fmt.Errorf("legacy: %v: %w", err, testerrors.ErrPBadRLP)
		}
		return &tx, nil
	case b[0] <= 0x7f:
		return decodeTyped(TxType(b[0]), b[1:])
	default:
		if !unwrap {
			return nil, fmt.Errorf("nested string encoding: %w", testerrors.ErrPBadRLP)
		}
		var inner []byte
		if err := rlp.DecodeBytes(b, &inner); err != nil {
			return nil, fmt.Errorf("outer string: %v: %w", err, testerrors.ErrPBadRLP)
		}
		return decode(inner, false)
	}
}

func decodeTyped(typ TxType, payload []byte) (TypedTransaction, error) {
	var tx TypedTransaction
	switch typ {
	case AccessListTxType:
		tx = new(AccessListTx)
	case FeeMarketTxType:
		tx = new(FeeMarketTx)
	case BlobTxType:
		tx = new(BlobTx)
	default:
		return nil, fmt.Errorf("type 0x%02x: %w", byte(typ), testerrors.ErrPUnsupportedTxType)
	}
	if err := rlp.DecodeBytes(payload, tx); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", typ, err, testerrors.ErrPBadRLP)
	}
	return tx, nil
}

// BlockTransactions returns the raw transaction elements of an RLP-encoded
// block, in body order. Typed transactions keep their string wrapping.
func BlockTransactions(block []byte) ([][]byte, error) {
	content, _, err := rlp.SplitList(block)
	if err != nil {
		return nil, fmt.Errorf("block: %v: %w", err, testerrors.ErrPBadRLP)
	}
	// skip the header
	_, _, rest, err := rlp.Split(content)
	if err != nil {
		return nil, fmt.Errorf("block header: %v: %w", err, testerrors.ErrPBadRLP)
	}
	txs, _, err := rlp.SplitList(rest)
	if err != nil {
		return nil, fmt.Errorf("block body: %v: %w", err, testerrors.ErrPBadRLP)
	}
	var out [][]byte
	for len(txs) > 0 {
		_, _, next, err := rlp.Split(txs)
		if err != nil {
			return nil, fmt.Errorf("block transaction %d: %v: %w", len(out), err, testerrors.ErrPBadRLP)
		}
		out = append(out, txs[:len(txs)-len(next)])
		txs = next
	}
	return out, nil
}
