package common

import (
	"encoding/json"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/evmtests/testerrors"
)

func TestParseBig(t *testing.T) {
	cases := map[string]int64{
		"0x0a":            10,
		"0x":              0,
		"":                0,
		"42":              42,
		"0x:bigint 0x100": 256,
		"  0x00ff ":       255,
	}
	for in, want := range cases {
		got, err := ParseBig(in)
		require.NoError(t, err, in)
		assert.Equal(t, 0, got.Cmp(big.NewInt(want)), in)
	}

	_, err := ParseBig("0xzz")
	assert.ErrorIs(t, err, testerrors.ErrPBadNumber)
	_, err = ParseBig("-1")
	assert.ErrorIs(t, err, testerrors.ErrPBadNumber)
	_, err = ParseBig("0x1" + strings.Repeat("0", 64))
	assert.ErrorIs(t, err, testerrors.ErrNValueRange)
	_, err = ParseBig("1" + strings.Repeat("0", 80))
	assert.ErrorIs(t, err, testerrors.ErrNValueRange)
}

func TestParseHexBytes(t *testing.T) {
	for in, want := range map[string][]byte{
		"0x0102": {1, 2},
		"0102":   {1, 2},
		"0xabc":  {0x0a, 0xbc},
		"0x":     {},
	} {
		got, err := ParseHexBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseHexBytes("0xgg")
	assert.ErrorIs(t, err, testerrors.ErrPBadHex)
}

func TestParseU256Overflow(t *testing.T) {
	_, err := ParseU256("0x1" + "0000000000000000000000000000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, testerrors.ErrNValueRange)

	v, err := ParseU256("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, 256, v.BitLen())
}

func TestJSONNumbersAndBytes(t *testing.T) {
	var payload struct {
		A Big    `json:"a"`
		B Uint64 `json:"b"`
		C Bytes  `json:"c"`
		D Bytes  `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"0x:bigint 0x10","b":7,"c":"0xabc","d":""}`), &payload))
	assert.Equal(t, int64(16), payload.A.ToInt().Int64())
	assert.Equal(t, Uint64(7), payload.B)
	assert.Equal(t, []byte{0x0a, 0xbc}, []byte(payload.C))
	assert.Empty(t, payload.D)

	out, err := json.Marshal(payload.A)
	require.NoError(t, err)
	assert.Equal(t, `"0x10"`, string(out))
}

func TestFitsUint32(t *testing.T) {
	assert.True(t, FitsUint32(0xffffffff))
	assert.False(t, FitsUint32(0x100000000))
}

func TestArtifactPath(t *testing.T) {
	got := ArtifactPath("/out", filepath.Join("GeneralStateTests", "stExample", "add.json"))
	assert.Equal(t, filepath.Join("/out", "GeneralStateTests", "stExample", "add.parsed"), got)
	assert.True(t, IsSpecialSubgroup("Cancun"))
	assert.False(t, IsSpecialSubgroup("stExample"))
}
