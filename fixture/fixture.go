package fixture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/testerrors"
)

// File is one fixture file: test name -> blockchain test. Unknown fields are ignored.
type File map[string]*BlockchainTest

// BlockchainTest is one entry of a BlockchainTests fixture file.
type BlockchainTest struct {
	Blocks             []Block                        `json:"blocks"`
	GenesisBlockHeader *Header                        `json:"genesisBlockHeader"`
	Pre                map[common.Address]AccountJSON `json:"pre"`
	PostState          map[common.Address]AccountJSON `json:"postState"`
	LastBlockHash      common.Hash                    `json:"lastblockhash"`
	Network            string                         `json:"network"`
	SealEngine         string                         `json:"sealEngine"`
}

// Block is one block of a test. Invalid blocks only carry rlp and expectException.
type Block struct {
	BlockHeader         *Header           `json:"blockHeader"`
	Rlp                 evmcommon.Bytes   `json:"rlp"`
	Transactions        TxList            `json:"transactions"`
	Withdrawals         []WithdrawalJSON  `json:"withdrawals"`
	ExpectException     string            `json:"expectException"`
	TransactionSequence []TxSequenceEntry `json:"transactionSequence"`
	UncleHeaders        []json.RawMessage `json:"uncleHeaders"`
}

// TxSequenceEntry marks transactions a fixture deliberately rejects.
type TxSequenceEntry struct {
	Exception string          `json:"exception"`
	RawBytes  evmcommon.Bytes `json:"rawBytes"`
	Valid     flexBool        `json:"valid"`
}

// Header mirrors the blockHeader object. Numbers stay big so that width
// checks happen after parsing rather than inside the JSON decoder.
type Header struct {
	Bloom                 evmcommon.Bytes `json:"bloom"`
	Coinbase              common.Address  `json:"coinbase"`
	Difficulty            evmcommon.Big   `json:"difficulty"`
	ExtraData             evmcommon.Bytes `json:"extraData"`
	GasLimit              evmcommon.Big   `json:"gasLimit"`
	GasUsed               evmcommon.Big   `json:"gasUsed"`
	Hash                  common.Hash     `json:"hash"`
	MixHash               common.Hash     `json:"mixHash"`
	Nonce                 evmcommon.Bytes `json:"nonce"`
	Number                evmcommon.Big   `json:"number"`
	ParentHash            common.Hash     `json:"parentHash"`
	ReceiptTrie           common.Hash     `json:"receiptTrie"`
	StateRoot             common.Hash     `json:"stateRoot"`
	Timestamp             evmcommon.Big   `json:"timestamp"`
	TransactionsTrie      common.Hash     `json:"transactionsTrie"`
	UncleHash             common.Hash     `json:"uncleHash"`
	BaseFeePerGas         *evmcommon.Big  `json:"baseFeePerGas"`
	WithdrawalsRoot       *common.Hash    `json:"withdrawalsRoot"`
	BlobGasUsed           *evmcommon.Big  `json:"blobGasUsed"`
	ExcessBlobGas         *evmcommon.Big  `json:"excessBlobGas"`
	ParentBeaconBlockRoot *common.Hash    `json:"parentBeaconBlockRoot"`
}

// AccountJSON is a pre/post state account. Storage keys and values are numbers.
type AccountJSON struct {
	Balance evmcommon.Big     `json:"balance"`
	Nonce   evmcommon.Big     `json:"nonce"`
	Code    evmcommon.Bytes   `json:"code"`
	Storage map[string]string `json:"storage"`
}

// WithdrawalJSON is one withdrawal entry; amount is in Gwei.
type WithdrawalJSON struct {
	Index          evmcommon.Uint64 `json:"index"`
	ValidatorIndex evmcommon.Uint64 `json:"validatorIndex"`
	Address        common.Address   `json:"address"`
	Amount         evmcommon.Uint64 `json:"amount"`
}

// TxJSON is a transaction object as written in blocks[].transactions.
type TxJSON struct {
	Type                 *evmcommon.Big  `json:"type"`
	ChainID              *evmcommon.Big  `json:"chainId"`
	Nonce                evmcommon.Big   `json:"nonce"`
	GasPrice             *evmcommon.Big  `json:"gasPrice"`
	MaxPriorityFeePerGas *evmcommon.Big  `json:"maxPriorityFeePerGas"`
	MaxFeePerGas         *evmcommon.Big  `json:"maxFeePerGas"`
	GasLimit             evmcommon.Big   `json:"gasLimit"`
	To                   string          `json:"to"`
	Value                evmcommon.Big   `json:"value"`
	Data                 evmcommon.Bytes `json:"data"`
	AccessList           *AccessListJSON `json:"accessList"`
	MaxFeePerBlobGas     *evmcommon.Big  `json:"maxFeePerBlobGas"`
	BlobVersionedHashes  []string        `json:"blobVersionedHashes"`
	V                    evmcommon.Big   `json:"v"`
	R                    evmcommon.Big   `json:"r"`
	S                    evmcommon.Big   `json:"s"`
	Sender               string          `json:"sender"`
}

// TxList accepts a single transaction object or a list of them.
type TxList []TxJSON

func (l *TxList) UnmarshalJSON(input []byte) error {
	input = bytes.TrimSpace(input)
	switch {
	case len(input) == 0 || bytes.Equal(input, []byte("null")):
		*l = nil
		return nil
	case input[0] == '{':
		var tx TxJSON
		if err := json.Unmarshal(input, &tx); err != nil {
			return err
		}
		*l = TxList{tx}
		return nil
	}
	var txs []TxJSON
	if err := json.Unmarshal(input, &txs); err != nil {
		return err
	}
	*l = txs
	return nil
}

// AccessTupleJSON keeps storage keys as strings so that short keys are left-padded.
type AccessTupleJSON struct {
	Address     common.Address `json:"address"`
	StorageKeys []string       `json:"storageKeys"`
}

// AccessListJSON accepts a flat list of tuples or a single wrapped tuple.
type AccessListJSON []AccessTupleJSON

func (l *AccessListJSON) UnmarshalJSON(input []byte) error {
	input = bytes.TrimSpace(input)
	switch {
	case len(input) == 0 || bytes.Equal(input, []byte("null")):
		*l = nil
		return nil
	case input[0] == '{':
		var tuple AccessTupleJSON
		if err := json.Unmarshal(input, &tuple); err != nil {
			return fmt.Errorf("%w: %v", testerrors.ErrPMalformedAccessList, err)
		}
		*l = AccessListJSON{tuple}
		return nil
	case input[0] == '[':
		var tuples []AccessTupleJSON
		if err := json.Unmarshal(input, &tuples); err != nil {
			return fmt.Errorf("%w: %v", testerrors.ErrPMalformedAccessList, err)
		}
		*l = tuples
		return nil
	}
	return testerrors.ErrPMalformedAccessList
}

// flexBool reads true/false written as a JSON bool or a string.
type flexBool struct {
	set   bool
	value bool
}

func (b *flexBool) UnmarshalJSON(input []byte) error {
	s := strings.Trim(strings.TrimSpace(string(input)), `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		*b = flexBool{set: true, value: true}
	case "false", "0":
		*b = flexBool{set: true, value: false}
	case "", "null":
		*b = flexBool{}
	default:
		return fmt.Errorf("valid flag %q", s)
	}
	return nil
}

// IsFalse reports an explicit false marker.
func (b flexBool) IsFalse() bool {
	return b.set && !b.value
}
