package fixture

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/colorfulnotion/evmtests/codec"
	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/testerrors"
	"github.com/colorfulnotion/evmtests/types"
)

// Variant is one runnable transaction variant of a fixture file.
// Err is set when the variant is known to be outside the engine's numeric
// range; such variants are kept so that the runner can mark them Ignored.
type Variant struct {
	Name        string
	Index       int
	Pre         types.AccountMap
	Post        types.AccountMap
	Metadata    types.BlockMetadata
	Tx          codec.TypedTransaction
	TxBytes     []byte
	Withdrawals []types.Withdrawal
	Expected    types.ExpectedRoots
	Err         error
}

// Skip records a test entry that was dropped before indexing.
type Skip struct {
	Name string
	Err  error
}

// Result is the outcome of deserializing one fixture file.
type Result struct {
	Variants []*Variant
	Skipped  []Skip
}

// Deserialize parses a fixture file. Only whole-file failures are returned
// as errors; per-entry failures are reported in Result.Skipped.
func Deserialize(data []byte, chainID uint64) (*Result, error) {
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", testerrors.ErrPMalformedJSON, err)
	}
	if len(file) == 0 {
		return nil, testerrors.ErrPEmptyFixture
	}
	names := make([]string, 0, len(file))
	for name := range file {
		names = append(names, name)
	}
	sort.Strings(names)

	res := &Result{}
	for _, name := range names {
		v, err := parseTest(name, file[name], chainID)
		if err != nil {
			res.Skipped = append(res.Skipped, Skip{Name: name, Err: err})
			continue
		}
		v.Index = len(res.Variants)
		res.Variants = append(res.Variants, v)
	}
	return res, nil
}

func parseTest(name string, bt *BlockchainTest, chainID uint64) (*Variant, error) {
	if bt == nil {
		return nil, fmt.Errorf("null test: %w", testerrors.ErrPMissingField)
	}
	switch {
	case len(bt.Blocks) == 0:
		return nil, fmt.Errorf("blocks: %w", testerrors.ErrPMissingField)
	case len(bt.Blocks) > 1:
		return nil, fmt.Errorf("%d blocks: %w", len(bt.Blocks), testerrors.ErrPMultipleBlocks)
	}
	block := &bt.Blocks[0]
	if invalidByDesign(block) {
		return nil, testerrors.ErrPInvalidByDesign
	}
	if block.BlockHeader == nil {
		return nil, fmt.Errorf("blockHeader: %w", testerrors.ErrPMissingField)
	}
	if bt.Pre == nil {
		return nil, fmt.Errorf("pre: %w", testerrors.ErrPMissingField)
	}

	v := &Variant{Name: name}
	var err error
	if v.Pre, err = convertAccounts(bt.Pre); err != nil {
		return nil, fmt.Errorf("pre: %w", err)
	}
	if bt.PostState != nil {
		if v.Post, err = convertAccounts(bt.PostState); err != nil {
			return nil, fmt.Errorf("postState: %w", err)
		}
	}
	if v.Tx, err = blockTransaction(block, chainID); err != nil {
		return nil, err
	}
	if v.TxBytes, err = codec.Encode(v.Tx); err != nil {
		return nil, err
	}
	for _, w := range block.Withdrawals {
		v.Withdrawals = append(v.Withdrawals, types.Withdrawal{
			Index:     uint64(w.Index),
			Validator: uint64(w.ValidatorIndex),
			Address:   w.Address,
			Amount:    uint64(w.Amount),
		})
	}
	h := block.BlockHeader
	v.Expected = types.ExpectedRoots{
		StateRoot:        h.StateRoot,
		TransactionsRoot: h.TransactionsTrie,
		ReceiptsRoot:     h.ReceiptTrie,
	}
	v.Metadata, v.Err = convertHeader(h, chainID)
	return v, nil
}

func invalidByDesign(b *Block) bool {
	if b.ExpectException != "" {
		return true
	}
	for _, entry := range b.TransactionSequence {
		if entry.Valid.IsFalse() || entry.Exception != "" {
			return true
		}
	}
	return false
}

// blockTransaction picks the block's single transaction. The block RLP is
// authoritative when present; JSON fields are the fallback and the cross-check.
func blockTransaction(b *Block, chainID uint64) (codec.TypedTransaction, error) {
	var fromJSON codec.TypedTransaction
	if len(b.Transactions) > 1 {
		return nil, fmt.Errorf("%d transactions: %w", len(b.Transactions), testerrors.ErrPTransactionCount)
	}
	if len(b.Transactions) == 1 {
		tx, err := b.Transactions[0].Typed(chainID)
		if err != nil {
			return nil, err
		}
		fromJSON = tx
	}
	if len(b.Rlp) > 0 {
		raw, err := codec.BlockTransactions(b.Rlp)
		if err == nil {
			if len(raw) != 1 {
				return nil, fmt.Errorf("%d transactions in block rlp: %w", len(raw), testerrors.ErrPTransactionCount)
			}
			tx, err := codec.Decode(raw[0])
			if err != nil {
				return nil, err
			}
			if fromJSON != nil && fromJSON.Type() != tx.Type() {
				return nil, fmt.Errorf("json %s vs rlp %s: %w", fromJSON.Type(), tx.Type(), testerrors.ErrPTxTypeMismatch)
			}
			return tx, nil
		}
		if fromJSON == nil {
			return nil, err
		}
	}
	if fromJSON == nil {
		return nil, fmt.Errorf("no transaction: %w", testerrors.ErrPTransactionCount)
	}
	return fromJSON, nil
}

func convertHeader(h *Header, chainID uint64) (types.BlockMetadata, error) {
	md := types.BlockMetadata{
		Beneficiary: h.Coinbase,
		Random:      h.MixHash,
		ChainID:     chainID,
		Bloom:       []byte(h.Bloom),
	}
	var rangeErr error
	var err error
	if md.Timestamp, err = uint64Of(&h.Timestamp); err != nil {
		return md, err
	}
	if md.Number, err = uint64Of(&h.Number); err != nil {
		return md, err
	}
	if md.Difficulty, err = u256Of(&h.Difficulty); err != nil {
		return md, err
	}
	if h.BaseFeePerGas != nil {
		if md.BaseFee, err = u256Of(h.BaseFeePerGas); err != nil {
			return md, err
		}
	}
	if h.BlobGasUsed != nil {
		v, err := uint64Of(h.BlobGasUsed)
		if err != nil {
			return md, err
		}
		md.BlobGasUsed = &v
	}
	if h.ExcessBlobGas != nil {
		v, err := uint64Of(h.ExcessBlobGas)
		if err != nil {
			return md, err
		}
		md.ExcessBlobGas = &v
	}
	md.ParentBeaconBlockRoot = h.ParentBeaconBlockRoot

	gasUsed := h.GasUsed.ToInt()
	if !gasUsed.IsUint64() || !evmcommon.FitsUint32(gasUsed.Uint64()) {
		rangeErr = fmt.Errorf("gasUsed %s: %w", gasUsed, testerrors.ErrNGasUsedRange)
	} else {
		md.GasUsed = gasUsed.Uint64()
	}
	gasLimit := h.GasLimit.ToInt()
	if !gasLimit.IsUint64() {
		// capped later like any other out-of-range limit
		md.GasLimit = ^uint64(0)
	} else {
		md.GasLimit = gasLimit.Uint64()
	}
	return md, rangeErr
}

func uint64Of(b *evmcommon.Big) (uint64, error) {
	v := b.ToInt()
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s: %w", v, testerrors.ErrNValueRange)
	}
	return v.Uint64(), nil
}

func u256Of(b *evmcommon.Big) (*uint256.Int, error) {
	v, overflow := uint256.FromBig(b.ToInt())
	if overflow {
		return nil, fmt.Errorf("%s: %w", b.ToInt(), testerrors.ErrNValueRange)
	}
	return v, nil
}

func convertAccounts(in map[common.Address]AccountJSON) (types.AccountMap, error) {
	out := make(types.AccountMap, len(in))
	for addr, acct := range in {
		a, err := convertAccount(&acct)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", addr.Hex(), err)
		}
		out[addr] = a
	}
	return out, nil
}

func convertAccount(in *AccountJSON) (*types.Account, error) {
	balance, err := u256Of(&in.Balance)
	if err != nil {
		return nil, err
	}
	nonce, err := uint64Of(&in.Nonce)
	if err != nil {
		return nil, err
	}
	acct := &types.Account{
		Balance: balance,
		Nonce:   nonce,
		Code:    []byte(in.Code),
		Storage: make(map[common.Hash]*uint256.Int, len(in.Storage)),
	}
	for k, val := range in.Storage {
		slot, err := evmcommon.ParseU256(k)
		if err != nil {
			return nil, fmt.Errorf("storage key %s: %w", k, err)
		}
		value, err := evmcommon.ParseU256(val)
		if err != nil {
			return nil, fmt.Errorf("storage value %s: %w", k, err)
		}
		acct.Storage[common.Hash(slot.Bytes32())] = value
	}
	return acct, nil
}

// Typed converts the JSON transaction into its tagged variant.
func (t *TxJSON) Typed(chainID uint64) (codec.TypedTransaction, error) {
	typ, err := t.txType()
	if err != nil {
		return nil, err
	}
	f := &fieldReader{}
	nonce := f.uint64(&t.Nonce, "nonce")
	gas := f.uint64(&t.GasLimit, "gasLimit")
	value := f.u256(&t.Value, "value")
	v, r, s := f.u256(&t.V, "v"), f.u256(&t.R, "r"), f.u256(&t.S, "s")
	to, err := parseTo(t.To)
	if err != nil {
		return nil, err
	}
	cid := uint256.NewInt(chainID)
	if t.ChainID != nil {
		cid = f.u256(t.ChainID, "chainId")
	}
	accessList, err := t.AccessList.toCodec()
	if err != nil {
		return nil, err
	}

	var tx codec.TypedTransaction
	switch typ {
	case codec.LegacyTxType:
		tx = &codec.LegacyTx{Nonce: nonce, GasPrice: f.u256(t.GasPrice, "gasPrice"), Gas: gas, To: to, Value: value, Data: t.Data, V: v, R: r, S: s}
	case codec.AccessListTxType:
		tx = &codec.AccessListTx{ChainID: cid, Nonce: nonce, GasPrice: f.u256(t.GasPrice, "gasPrice"), Gas: gas, To: to, Value: value, Data: t.Data, AccessList: accessList, V: v, R: r, S: s}
	case codec.FeeMarketTxType:
		tx = &codec.FeeMarketTx{ChainID: cid, Nonce: nonce, GasTipCap: f.u256(t.MaxPriorityFeePerGas, "maxPriorityFeePerGas"), GasFeeCap: f.u256(t.MaxFeePerGas, "maxFeePerGas"), Gas: gas, To: to, Value: value, Data: t.Data, AccessList: accessList, V: v, R: r, S: s}
	case codec.BlobTxType:
		if to == nil {
			return nil, fmt.Errorf("blob transaction without recipient: %w", testerrors.ErrPTxTypeMismatch)
		}
		hashes := make([]common.Hash, len(t.BlobVersionedHashes))
		for i, h := range t.BlobVersionedHashes {
			hashes[i] = common.HexToHash(h)
		}
		tx = &codec.BlobTx{ChainID: cid, Nonce: nonce, GasTipCap: f.u256(t.MaxPriorityFeePerGas, "maxPriorityFeePerGas"), GasFeeCap: f.u256(t.MaxFeePerGas, "maxFeePerGas"), Gas: gas, To: *to, Value: value, Data: t.Data, AccessList: accessList, BlobFeeCap: f.u256(t.MaxFeePerBlobGas, "maxFeePerBlobGas"), BlobHashes: hashes, V: v, R: r, S: s}
	}
	if f.err != nil {
		return nil, f.err
	}
	return tx, nil
}

// txType uses the declared type, inferring it from the fee fields when absent.
func (t *TxJSON) txType() (codec.TxType, error) {
	inferred := codec.LegacyTxType
	switch {
	case t.MaxFeePerBlobGas != nil || len(t.BlobVersionedHashes) > 0:
		inferred = codec.BlobTxType
	case t.MaxFeePerGas != nil:
		inferred = codec.FeeMarketTxType
	case t.AccessList != nil:
		inferred = codec.AccessListTxType
	}
	if t.Type == nil {
		return inferred, nil
	}
	declared := t.Type.ToInt()
	if declared.Cmp(big.NewInt(int64(codec.BlobTxType))) > 0 {
		return 0, fmt.Errorf("type %s: %w", declared, testerrors.ErrPUnsupportedTxType)
	}
	typ := codec.TxType(declared.Uint64())
	needsFeeMarket := typ == codec.FeeMarketTxType || typ == codec.BlobTxType
	if needsFeeMarket && t.MaxFeePerGas == nil {
		return 0, fmt.Errorf("type %s without maxFeePerGas: %w", typ, testerrors.ErrPTxTypeMismatch)
	}
	if !needsFeeMarket && t.GasPrice == nil {
		return 0, fmt.Errorf("type %s without gasPrice: %w", typ, testerrors.ErrPTxTypeMismatch)
	}
	return typ, nil
}

func parseTo(s string) (*common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return nil, nil
	}
	b, err := evmcommon.ParseHexBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) != common.AddressLength {
		return nil, fmt.Errorf("to %q: %w", s, testerrors.ErrPBadHex)
	}
	addr := common.BytesToAddress(b)
	return &addr, nil
}

func (l *AccessListJSON) toCodec() (codec.AccessList, error) {
	if l == nil {
		return codec.AccessList{}, nil
	}
	out := make(codec.AccessList, 0, len(*l))
	for _, tuple := range *l {
		keys := make([]common.Hash, 0, len(tuple.StorageKeys))
		for _, k := range tuple.StorageKeys {
			b, err := evmcommon.ParseHexBytes(k)
			if err != nil || len(b) > common.HashLength {
				return nil, fmt.Errorf("storage key %q: %w", k, testerrors.ErrPMalformedAccessList)
			}
			keys = append(keys, common.BytesToHash(b))
		}
		out = append(out, codec.AccessTuple{Address: tuple.Address, StorageKeys: keys})
	}
	return out, nil
}

// fieldReader collects the first conversion error so field lists stay flat.
type fieldReader struct {
	err error
}

func (f *fieldReader) uint64(b *evmcommon.Big, field string) uint64 {
	v, err := uint64Of(b)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("%s: %w", field, err)
	}
	return v
}

func (f *fieldReader) u256(b *evmcommon.Big, field string) *uint256.Int {
	if b == nil {
		if f.err == nil {
			f.err = fmt.Errorf("%s: %w", field, testerrors.ErrPMissingField)
		}
		return new(uint256.Int)
	}
	v, err := u256Of(b)
	if err != nil {
		if f.err == nil {
			f.err = fmt.Errorf("%s: %w", field, err)
		}
		return new(uint256.Int)
	}
	return v
}

// IsSkippable reports errors that are expected for some fixtures and only
// warrant a debug log line.
func IsSkippable(err error) bool {
	return errors.Is(err, testerrors.ErrPInvalidByDesign) || errors.Is(err, testerrors.ErrPMultipleBlocks)
}
