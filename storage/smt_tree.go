package storage

import (
	"sort"
	"sync"
)

const defaultParallelThreshold = 128

// StemNode roots a 256-value subtree. Values never holds a zero value.
type StemNode struct {
	Stem   Stem
	Values map[uint8][32]byte
}

func NewStemNode(stem Stem) *StemNode {
	return &StemNode{Stem: stem, Values: make(map[uint8][32]byte)}
}

// Hash commits the stem and the 8-level binary subtree over its 256 leaves.
func (s *StemNode) Hash(h Hasher) [32]byte {
	var level [256][32]byte
	for idx, val := range s.Values {
		v := val
		level[idx] = h.Hash32(&v)
	}
	width := 256
	for width > 1 {
		for i := 0; i < width/2; i++ {
			level[i] = h.Hash64(&level[2*i], &level[2*i+1])
		}
		width /= 2
	}
	return h.HashStemNode(&s.Stem, &level[0])
}

// Config controls tree construction.
type Config struct {
	Profile           Profile
	Hasher            Hasher
	ParallelThreshold int
}

// KeyValue is a typed batch entry.
type KeyValue struct {
	Key   TreeKey
	Value [32]byte
}

// SparseTree is an in-memory binary sparse Merkle tree keyed by 32-byte TreeKeys.
// Inserting a zero value deletes, so a zero leaf is never part of the commitment.
type SparseTree struct {
	profile           Profile
	hasher            Hasher
	stems             map[Stem]*StemNode
	parallelThreshold int
}

func NewSparseTree(cfg Config) *SparseTree {
	if cfg.Hasher == nil {
		cfg.Hasher = NewBlake3Hasher(cfg.Profile)
	}
	t := &SparseTree{
		profile:           cfg.Profile,
		hasher:            cfg.Hasher,
		stems:             make(map[Stem]*StemNode),
		parallelThreshold: defaultParallelThreshold,
	}
	if cfg.ParallelThreshold > 0 {
		t.parallelThreshold = cfg.ParallelThreshold
	}
	return t
}

func (t *SparseTree) Profile() Profile {
	return t.profile
}

func (t *SparseTree) Insert(key TreeKey, value [32]byte) {
	if value == ([32]byte{}) {
		t.Delete(key)
		return
	}
	node, ok := t.stems[key.Stem]
	if !ok {
		node = NewStemNode(key.Stem)
		t.stems[key.Stem] = node
	}
	node.Values[key.Subindex] = value
}

func (t *SparseTree) Get(key TreeKey) ([32]byte, bool) {
	node, ok := t.stems[key.Stem]
	if !ok {
		return [32]byte{}, false
	}
	v, ok := node.Values[key.Subindex]
	return v, ok
}

func (t *SparseTree) Delete(key TreeKey) {
	node, ok := t.stems[key.Stem]
	if !ok {
		return
	}
	delete(node.Values, key.Subindex)
	if len(node.Values) == 0 {
		delete(t.stems, key.Stem)
	}
}

func (t *SparseTree) Len() int {
	total := 0
	for _, node := range t.stems {
		total += len(node.Values)
	}
	return total
}

// Iter returns all entries sorted by key.
func (t *SparseTree) Iter() []KeyValue {
	stems := t.sortedStems()
	entries := make([]KeyValue, 0, t.Len())
	for _, stem := range stems {
		node := t.stems[stem]
		indices := make([]int, 0, len(node.Values))
		for idx := range node.Values {
			indices = append(indices, int(idx))
		}
		sort.Ints(indices)
		for _, idx := range indices {
			entries = append(entries, KeyValue{Key: TreeKey{Stem: stem, Subindex: uint8(idx)}, Value: node.Values[uint8(idx)]})
		}
	}
	return entries
}

// RootHash is zero for an empty tree.
func (t *SparseTree) RootHash() [32]byte {
	if len(t.stems) == 0 {
		return [32]byte{}
	}
	stems := t.sortedStems()
	hashes := t.stemHashes(stems)
	return t.hashStemTrie(stems, hashes, 0)
}

func (t *SparseTree) sortedStems() []Stem {
	stems := make([]Stem, 0, len(t.stems))
	for stem := range t.stems {
		stems = append(stems, stem)
	}
	sort.Slice(stems, func(i, j int) bool { return stemLess(stems[i], stems[j]) })
	return stems
}

func (t *SparseTree) stemHashes(stems []Stem) map[Stem][32]byte {
	out := make(map[Stem][32]byte, len(stems))
	if len(stems) < t.parallelThreshold {
		for _, stem := range stems {
			out[stem] = t.stems[stem].Hash(t.hasher)
		}
		return out
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, stem := range stems {
		stem := stem
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := t.stems[stem].Hash(t.hasher)
			mu.Lock()
			out[stem] = h
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// hashStemTrie splits the sorted stems on bit depthBits. A subtree with one
// stem collapses to that stem's hash.
func (t *SparseTree) hashStemTrie(stems []Stem, hashes map[Stem][32]byte, depthBits int) [32]byte {
	switch {
	case len(stems) == 0:
		return [32]byte{}
	case len(stems) == 1 || depthBits >= 248:
		return hashes[stems[0]]
	}
	split := sort.Search(len(stems), func(i int) bool { return stems[i].Bit(depthBits) == 1 })
	left := t.hashStemTrie(stems[:split], hashes, depthBits+1)
	right := t.hashStemTrie(stems[split:], hashes, depthBits+1)
	return combineTrieHashes(t.hasher, left, right)
}

func combineTrieHashes(hasher Hasher, left, right [32]byte) [32]byte {
	if left == ([32]byte{}) {
		return right
	}
	if right == ([32]byte{}) {
		return left
	}
	return hasher.Hash64(&left, &right)
}
