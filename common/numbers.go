package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"

	"github.com/colorfulnotion/evmtests/testerrors"
)

// BigIntPrefix marks numbers that some fixture revisions wrote in an explicit big-int form.
const BigIntPrefix = "0x:bigint "

// ParseBig parses a fixture number: "0x"-prefixed hex, plain decimal, or BigIntPrefix form.
// An empty string and a bare "0x" both mean zero. Numerals wider than 256 bits
// fail with ErrNValueRange.
func ParseBig(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), BigIntPrefix)
	if s == "0x" || s == "0X" {
		return new(big.Int), nil
	}
	n, ok := gethmath.ParseBig256(s)
	switch {
	case !ok && isNumeral(s):
		return nil, fmt.Errorf("%q: %w", s, testerrors.ErrNValueRange)
	case !ok || n.Sign() < 0:
		return nil, fmt.Errorf("%q: %w", s, testerrors.ErrPBadNumber)
	}
	return n, nil
}

func isNumeral(s string) bool {
	digits := "0123456789"
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s, digits = s[2:], "0123456789abcdefABCDEF"
	}
	return s != "" && strings.Trim(s, digits) == ""
}

// ParseU256 parses a fixture number that must fit in 256 bits.
func ParseU256(s string) (*uint256.Int, error) {
	b, err := ParseBig(s)
	if err != nil {
		return nil, err
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%q: %w", s, testerrors.ErrNValueRange)
	}
	return v, nil
}

// ParseUint64 parses a fixture number that must fit in 64 bits.
func ParseUint64(s string) (uint64, error) {
	b, err := ParseBig(s)
	if err != nil {
		return 0, err
	}
	if !b.IsUint64() {
		return 0, fmt.Errorf("%q: %w", s, testerrors.ErrNValueRange)
	}
	return b.Uint64(), nil
}

// FitsUint32 reports whether v is representable in the engine's 32-bit registers.
func FitsUint32(v uint64) bool {
	return v <= math.MaxUint32
}

// ParseHexBytes decodes hex with or without "0x"; odd-length input is left-padded with a zero nibble.
func ParseHexBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	out, err := hexutil.Decode("0x" + s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", testerrors.ErrPBadHex, err)
	}
	return out, nil
}

func unquoteNumber(input []byte) (string, error) {
	input = bytes.TrimSpace(input)
	if len(input) > 0 && input[0] == '"' {
		var s string
		if err := json.Unmarshal(input, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	// bare JSON number
	return string(input), nil
}

// Big is a JSON number accepting every fixture encoding ParseBig accepts.
type Big big.Int

func (b *Big) UnmarshalJSON(input []byte) error {
	s, err := unquoteNumber(input)
	if err != nil {
		return fmt.Errorf("%w: %v", testerrors.ErrPBadNumber, err)
	}
	v, err := ParseBig(s)
	if err != nil {
		return err
	}
	*b = Big(*v)
	return nil
}

func (b Big) MarshalJSON() ([]byte, error) {
	v := big.Int(b)
	return json.Marshal(hexutil.EncodeBig(&v))
}

// ToInt returns a copy as *big.Int.
func (b *Big) ToInt() *big.Int {
	if b == nil {
		return new(big.Int)
	}
	v := big.Int(*b)
	return new(big.Int).Set(&v)
}

// Uint64 is a JSON number that must fit in 64 bits.
type Uint64 uint64

func (u *Uint64) UnmarshalJSON(input []byte) error {
	s, err := unquoteNumber(input)
	if err != nil {
		return fmt.Errorf("%w: %v", testerrors.ErrPBadNumber, err)
	}
	v, err := ParseUint64(s)
	if err != nil {
		return err
	}
	*u = Uint64(v)
	return nil
}

func (u Uint64) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.EncodeUint64(uint64(u)))
}

// Bytes is hex-encoded bytes tolerant of a missing prefix and odd length.
type Bytes []byte

func (b *Bytes) UnmarshalJSON(input []byte) error {
	var s string
	if err := json.Unmarshal(input, &s); err != nil {
		return fmt.Errorf("%w: %v", testerrors.ErrPBadHex, err)
	}
	out, err := ParseHexBytes(s)
	if err != nil {
		return err
	}
	*b = out
	return nil
}

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.Encode(b))
}
