package storage

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/blake3"
)

const (
	BASIC_DATA_LEAF_KEY = uint8(0)
	CODE_HASH_LEAF_KEY  = uint8(1)

	HEADER_STORAGE_OFFSET = uint8(64)
	CODE_OFFSET           = uint8(128)

	STEM_SUBTREE_WIDTH = uint64(256)
)

// Stem is the 31-byte prefix of a TreeKey. All fields of one account that
// share a stem live in the same 256-leaf subtree.
type Stem [31]byte

func (s Stem) Bit(i int) uint8 {
	// 0 <= i < 248
	return (s[i/8] >> (7 - i%8)) & 1
}

func stemLess(a, b Stem) bool {
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// TreeKey is a 32-byte key split into stem + subindex.
type TreeKey struct {
	Stem     Stem
	Subindex uint8
}

func (k TreeKey) ToBytes() [32]byte {
	var out [32]byte
	copy(out[:31], k.Stem[:])
	out[31] = k.Subindex
	return out
}

func TreeKeyFromBytes(b [32]byte) TreeKey {
	var stem Stem
	copy(stem[:], b[:31])
	return TreeKey{Stem: stem, Subindex: b[31]}
}

var zeroPrefix = [12]byte{}

// DeriveTreeKey hashes zeroPrefix || address || inputKey[:31] with the profile's
// hash function; the last input byte becomes the subindex.
func DeriveTreeKey(profile Profile, address common.Address, inputKey [32]byte) TreeKey {
	var payload [12 + 20 + 31]byte
	copy(payload[:12], zeroPrefix[:])
	copy(payload[12:32], address[:])
	copy(payload[32:], inputKey[:31])

	var hash [32]byte
	if profile == JAMProfile {
		hash = blake3.Sum256(payload[:])
	} else {
		hash = sha256.Sum256(payload[:])
	}
	var stem Stem
	copy(stem[:], hash[:31])
	return TreeKey{Stem: stem, Subindex: inputKey[31]}
}

// BasicDataKey is the key of the packed version/code size/nonce/balance leaf.
func BasicDataKey(profile Profile, address common.Address) TreeKey {
	var k [32]byte
	k[31] = BASIC_DATA_LEAF_KEY
	return DeriveTreeKey(profile, address, k)
}

// CodeHashKey is the key of the code hash leaf.
func CodeHashKey(profile Profile, address common.Address) TreeKey {
	var k [32]byte
	k[31] = CODE_HASH_LEAF_KEY
	return DeriveTreeKey(profile, address, k)
}

// StorageSlotKey maps slots below 64 into the account header stem and the
// rest into the main storage range.
func StorageSlotKey(profile Profile, address common.Address, slot common.Hash) TreeKey {
	var k [32]byte
	isHeaderSlot := true
	for i := 0; i < 31; i++ {
		if slot[i] != 0 {
			isHeaderSlot = false
			break
		}
	}
	if isHeaderSlot && slot[31] < HEADER_STORAGE_OFFSET {
		k[31] = HEADER_STORAGE_OFFSET + slot[31]
		return DeriveTreeKey(profile, address, k)
	}
	copy(k[1:31], slot[1:31])
	k[0] = slot[0] + 1
	k[31] = slot[31]
	return DeriveTreeKey(profile, address, k)
}

// CodeChunkKey is the key of the chunkNumber-th 32-byte code chunk.
func CodeChunkKey(profile Profile, address common.Address, chunkNumber uint64) TreeKey {
	pos := uint64(CODE_OFFSET) + chunkNumber
	var k [32]byte
	if pos < STEM_SUBTREE_WIDTH {
		k[31] = uint8(pos)
		return DeriveTreeKey(profile, address, k)
	}
	binary.BigEndian.PutUint64(k[23:31], pos/STEM_SUBTREE_WIDTH)
	k[31] = uint8(pos % STEM_SUBTREE_WIDTH)
	return DeriveTreeKey(profile, address, k)
}
