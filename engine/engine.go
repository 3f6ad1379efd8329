package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/evmtests/types"
)

// Mode selects how far the engine goes with an input.
type Mode int

const (
	// ModeProve executes and proves; the proof is verified separately.
	ModeProve Mode = iota
	// ModeWitness executes and generates the witness without proving.
	ModeWitness
)

func (m Mode) String() string {
	if m == ModeWitness {
		return "witness"
	}
	return "prove"
}

// Output is what a successful execution reports.
type Output struct {
	StateRoot        common.Hash      `json:"state_root"`
	ReceiptsRoot     common.Hash      `json:"receipts_root"`
	TransactionsRoot common.Hash      `json:"transactions_root"`
	Proof            hexutil.Bytes    `json:"proof,omitempty"`
	PostState        types.AccountMap `json:"post_state,omitempty"`
}

// Engine executes or proves one assembled input.
type Engine interface {
	Execute(ctx context.Context, in *types.AssembledInput, mode Mode) (*Output, error)
	Verify(ctx context.Context, proof []byte) error
}
