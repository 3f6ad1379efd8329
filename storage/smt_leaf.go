package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	BASIC_DATA_CODE_SIZE_OFFSET = 5
	BASIC_DATA_NONCE_OFFSET     = 8
	BASIC_DATA_BALANCE_OFFSET   = 16

	// MaxCodeSize is the largest code length the 3-byte code size field holds.
	MaxCodeSize = 1<<24 - 1
)

// BasicDataLeaf packs version, code size, nonce and balance into one 32-byte value.
type BasicDataLeaf struct {
	Version  uint8
	CodeSize uint32
	Nonce    uint64
	Balance  [16]byte
}

// NewBasicDataLeaf panics if balance needs more than 128 bits or codeSize more
// than 24 bits; callers must range-check fixture values first.
func NewBasicDataLeaf(nonce uint64, balance *uint256.Int, codeSize uint32) BasicDataLeaf {
	if balance != nil && balance.BitLen() > 128 {
		panic(fmt.Sprintf("basic data leaf: balance %s exceeds 128 bits", balance.Dec()))
	}
	if codeSize > MaxCodeSize {
		panic(fmt.Sprintf("basic data leaf: code size %d exceeds 24 bits", codeSize))
	}
	leaf := BasicDataLeaf{CodeSize: codeSize, Nonce: nonce}
	if balance != nil {
		b := balance.Bytes32()
		copy(leaf.Balance[:], b[16:])
	}
	return leaf
}

func (b BasicDataLeaf) Encode() [32]byte {
	var out [32]byte
	out[0] = b.Version
	var codeSizeBytes [4]byte
	binary.BigEndian.PutUint32(codeSizeBytes[:], b.CodeSize)
	copy(out[BASIC_DATA_CODE_SIZE_OFFSET:BASIC_DATA_NONCE_OFFSET], codeSizeBytes[1:4])
	binary.BigEndian.PutUint64(out[BASIC_DATA_NONCE_OFFSET:BASIC_DATA_BALANCE_OFFSET], b.Nonce)
	copy(out[BASIC_DATA_BALANCE_OFFSET:], b.Balance[:])
	return out
}

func DecodeBasicDataLeaf(value [32]byte) BasicDataLeaf {
	var codeSizeBytes [4]byte
	copy(codeSizeBytes[1:4], value[BASIC_DATA_CODE_SIZE_OFFSET:BASIC_DATA_NONCE_OFFSET])

	var balance [16]byte
	copy(balance[:], value[BASIC_DATA_BALANCE_OFFSET:])

	return BasicDataLeaf{
		Version:  value[0],
		CodeSize: binary.BigEndian.Uint32(codeSizeBytes[:]),
		Nonce:    binary.BigEndian.Uint64(value[BASIC_DATA_NONCE_OFFSET:BASIC_DATA_BALANCE_OFFSET]),
		Balance:  balance,
	}
}

const (
	push1  = byte(0x60)
	push32 = byte(0x7f)
)

// ChunkifyCode splits bytecode into 32-byte chunks: one byte counting the
// leading PUSH-data bytes carried over from the previous chunk, then 31 code bytes.
func ChunkifyCode(code []byte) [][32]byte {
	chunkCount := (len(code) + 30) / 31
	chunks := make([][32]byte, chunkCount)
	pushData := 0 // PUSH argument bytes still to skip
	for i := 0; i < chunkCount; i++ {
		start := 31 * i
		end := start + 31
		if end > len(code) {
			end = len(code)
		}
		copy(chunks[i][1:], code[start:end])
		lead := pushData
		if lead > 31 {
			lead = 31
		}
		chunks[i][0] = byte(lead)

		pc := start + lead
		pushData -= lead
		for pc < end {
			if pushData > 0 {
				break
			}
			op := code[pc]
			pc++
			if op >= push1 && op <= push32 {
				n := int(op-push1) + 1
				if pc+n > end {
					pushData = pc + n - end
					pc = end
				} else {
					pc += n
				}
			}
		}
	}
	return chunks
}
