package types

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestIdentity(t *testing.T) {
	single := NewTestIdentity("GeneralStateTests", "stExample", "add", 0, 1)
	assert.Equal(t, TestIdentity("GeneralStateTests/stExample/add"), single)

	multi := NewTestIdentity("GeneralStateTests", "stExample", "add", 2, 3)
	assert.Equal(t, "GeneralStateTests/stExample/add_2", multi.String())
	assert.Equal(t, "GeneralStateTests", multi.Group())
	assert.Equal(t, "stExample", multi.SubGroup())
	assert.Equal(t, "add_2", multi.Test())
}

func TestStatusPassState(t *testing.T) {
	cases := []struct {
		kind StatusKind
		want PassState
		ok   bool
	}{
		{StatusPassedWitness, PassedWitness, true},
		{StatusPassedProof, PassedProof, true},
		{StatusIgnored, Ignored, true},
		{StatusEvmErr, Failed, true},
		{StatusIncorrectRoots, Failed, true},
		{StatusTimedOut, Failed, true},
		{StatusCancelled, "", false},
	}
	for _, c := range cases {
		got, ok := TestStatus{Kind: c.kind}.PassState()
		assert.Equal(t, c.want, got, c.kind.String())
		assert.Equal(t, c.ok, ok, c.kind.String())
	}
}

func TestRootsDiffString(t *testing.T) {
	a := common.HexToHash("0x01")
	b := common.HexToHash("0x02")
	d := RootsDiff{
		State:        CompareRoot(a, b),
		Receipts:     CompareRoot(a, a),
		Transactions: CompareRoot(b, b),
	}
	assert.False(t, d.AllCorrect())
	s := TestStatus{Kind: StatusIncorrectRoots, Roots: &d}.String()
	assert.Contains(t, s, "state: Difference(")
	assert.Contains(t, s, "receipts: Correct")
}

func TestParsePassState(t *testing.T) {
	p, err := ParsePassState("PassedProof")
	require.NoError(t, err)
	assert.Equal(t, PassedProof, p)
	_, err = ParsePassState("Passed")
	assert.Error(t, err)
}

func TestAssembledInputJSON(t *testing.T) {
	in := AssembledInput{
		Name:    "add_d0g0v0_Cancun",
		TxBytes: []byte{0xf8, 0x01},
		State: CanonicalState{
			Scheme: SchemeMPT,
			Root:   common.HexToHash("0xaa"),
			Leaves: []Leaf{{Key: []byte{1}, Value: []byte{2}}},
		},
		ContractCode: map[common.Hash]hexutil.Bytes{},
		Metadata: BlockMetadata{
			Beneficiary: common.HexToAddress("0x2adc25665018aa1fe0e6bc666dac8fc2697ff9ba"),
			Difficulty:  uint256.NewInt(0),
			BaseFee:     uint256.NewInt(7),
			GasLimit:    0x0f4240,
			ChainID:     1,
		},
		PostState: AccountMap{
			common.HexToAddress("0x01"): {Balance: uint256.NewInt(100), Storage: map[common.Hash]*uint256.Int{}},
		},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out AssembledInput
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.State.Root, out.State.Root)
	assert.Equal(t, uint64(7), out.Metadata.BaseFee.Uint64())
	assert.Equal(t, uint64(100), out.PostState[common.HexToAddress("0x01")].Balance.Uint64())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name_filter":"stExample","timeout":5000000000}`), 0o644))

	cfg := RunnerConfig{Workers: 4}
	require.NoError(t, LoadConfigFile(path, &cfg))
	assert.Equal(t, "stExample", cfg.NameFilter)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.Workers)
	assert.Contains(t, cfg.String(), `"name_filter": "stExample"`)

	require.NoError(t, LoadConfigFile("", &cfg))
}

func TestApplyConfigFileFlagsWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name_filter":"fromFile","workers":9}`), 0o644))

	var cfg RunnerConfig
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().StringVar(&cfg.NameFilter, "filter", "", "")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 1, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--workers", "3"}))

	require.NoError(t, ApplyConfigFile(cmd, path, &cfg))
	assert.Equal(t, "fromFile", cfg.NameFilter)
	assert.Equal(t, 3, cfg.Workers)
}
