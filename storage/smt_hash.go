package storage

import "github.com/zeebo/blake3"

// Hasher provides the node hashing of the sparse tree.
type Hasher interface {
	// Hash32 hashes a 32-byte leaf value.
	Hash32(value *[32]byte) [32]byte
	// Hash64 hashes two child hashes. MUST return zero if both children are zero.
	Hash64(left, right *[32]byte) [32]byte
	// HashStemNode commits a stem together with the root of its 256-leaf subtree.
	HashStemNode(stem *Stem, subtreeRoot *[32]byte) [32]byte
}

// Profile selects key derivation and domain separation.
type Profile int

const (
	// EIPProfile derives keys with sha256 and hashes nodes without domain tags.
	EIPProfile Profile = iota
	// JAMProfile derives keys with blake3 and tags leaf, internal and stem hashes.
	JAMProfile
)

func (p Profile) String() string {
	if p == JAMProfile {
		return "jam"
	}
	return "eip"
}

// ParseProfile accepts "eip" or "jam"; anything else is EIPProfile.
func ParseProfile(s string) Profile {
	if s == "jam" {
		return JAMProfile
	}
	return EIPProfile
}

// Blake3Hasher implements Hasher with Blake3.
type Blake3Hasher struct {
	profile Profile
}

func NewBlake3Hasher(profile Profile) *Blake3Hasher {
	return &Blake3Hasher{profile: profile}
}

func (h *Blake3Hasher) Hash32(value *[32]byte) [32]byte {
	if h.profile == JAMProfile {
		var buf [33]byte
		copy(buf[1:], value[:])
		return blake3.Sum256(buf[:])
	}
	return blake3.Sum256(value[:])
}

func (h *Blake3Hasher) Hash64(left, right *[32]byte) [32]byte {
	var zero [32]byte
	if *left == zero && *right == zero {
		return zero
	}
	if h.profile == JAMProfile {
		var buf [65]byte
		buf[0] = 0x01
		copy(buf[1:33], left[:])
		copy(buf[33:], right[:])
		return blake3.Sum256(buf[:])
	}
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return blake3.Sum256(buf[:])
}

func (h *Blake3Hasher) HashStemNode(stem *Stem, subtreeRoot *[32]byte) [32]byte {
	if h.profile == JAMProfile {
		var buf [65]byte
		buf[0] = 0x02
		copy(buf[1:32], stem[:])
		copy(buf[33:], subtreeRoot[:])
		return blake3.Sum256(buf[:])
	}
	var buf [64]byte
	copy(buf[:31], stem[:])
	copy(buf[32:], subtreeRoot[:])
	return blake3.Sum256(buf[:])
}
