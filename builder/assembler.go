package builder

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/evmtests/fixture"
	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/statedb"
	"github.com/colorfulnotion/evmtests/storage"
	"github.com/colorfulnotion/evmtests/testerrors"
	"github.com/colorfulnotion/evmtests/types"
)

// MaxEngineGas is the widest gas value the engine accepts.
const MaxEngineGas = math.MaxUint32

// Assembler turns deserialized variants into engine inputs.
type Assembler struct {
	Scheme  types.StateScheme
	Profile storage.Profile
}

func NewAssembler(scheme types.StateScheme, profile storage.Profile) *Assembler {
	if scheme == "" {
		scheme = types.SchemeMPT
	}
	return &Assembler{Scheme: scheme, Profile: profile}
}

// AssembleVariant builds the input of one variant. The block gas limit is
// capped to MaxEngineGas and flagged so that a failure under the cap is ignored.
func (a *Assembler) AssembleVariant(v *fixture.Variant) (*types.AssembledInput, error) {
	if v.Err != nil {
		return nil, v.Err
	}
	state, err := statedb.Canonicalize(v.Pre, a.Scheme, a.Profile)
	if err != nil {
		return nil, err
	}
	in := &types.AssembledInput{
		Name:         v.Name,
		TxBytes:      v.TxBytes,
		State:        *state,
		ContractCode: statedb.ContractCode(v.Pre),
		Metadata:     v.Metadata,
		Withdrawals:  v.Withdrawals,
		Expected:     v.Expected,
		PostState:    v.Post,
	}
	if in.Withdrawals == nil {
		in.Withdrawals = []types.Withdrawal{}
	}
	if in.Metadata.GasLimit > MaxEngineGas {
		log.Debug(log.Assembler, "gas limit capped", "variant", v.Name, "gasLimit", in.Metadata.GasLimit)
		in.Metadata.GasLimit = MaxEngineGas
		in.GasLimitCapped = true
	}
	return in, nil
}

// Assemble builds the artifact of one fixture file. Variants outside the
// engine's numeric range become Ignored records; any other failure fails
// the whole file.
func (a *Assembler) Assemble(name string, res *fixture.Result) (*Artifact, error) {
	art := &Artifact{Name: name, Variants: make([]VariantRecord, 0, len(res.Variants))}
	for _, v := range res.Variants {
		in, err := a.AssembleVariant(v)
		switch {
		case err == nil:
			art.Variants = append(art.Variants, VariantRecord{Name: v.Name, Input: in})
		case testerrors.IsIgnorable(err):
			log.Debug(log.Assembler, "variant ignored", "variant", v.Name, "err", err)
			art.Variants = append(art.Variants, VariantRecord{Name: v.Name, Ignored: err.Error()})
		default:
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
	}
	return art, nil
}
