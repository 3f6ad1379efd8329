package testtree

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/colorfulnotion/evmtests/types"
)

// VariantRange is an inclusive range of variant indices.
type VariantRange struct {
	From, To int
}

func (r *VariantRange) Contains(i int) bool {
	return r == nil || (i >= r.From && i <= r.To)
}

// ParseVariantFilter accepts "3", "2..5" or "2-5". An empty string matches every variant.
func ParseVariantFilter(s string) (*VariantRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	lo, hi, isRange := strings.Cut(s, "..")
	if !isRange {
		lo, hi, isRange = strings.Cut(s, "-")
	}
	from, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil || from < 0 {
		return nil, fmt.Errorf("bad variant filter %q", s)
	}
	if !isRange {
		return &VariantRange{From: from, To: from}, nil
	}
	to, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil || to < from {
		return nil, fmt.Errorf("bad variant filter %q", s)
	}
	return &VariantRange{From: from, To: to}, nil
}

// Excluder reports identities that must not be materialized.
type Excluder interface {
	Excluded(id types.TestIdentity) bool
}

// IdentitySet excludes exact identities.
type IdentitySet map[types.TestIdentity]struct{}

func NewIdentitySet(ids ...types.TestIdentity) IdentitySet {
	s := make(IdentitySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IdentitySet) Excluded(id types.TestIdentity) bool {
	_, ok := s[id]
	return ok
}

// Blacklist excludes identities equal to, or nested under, one of its entries.
type Blacklist []string

// LoadBlacklist reads one identity or identity prefix per line. Blank lines
// and lines starting with # are ignored. An empty path is an empty list.
func LoadBlacklist(path string) (Blacklist, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blacklist: %w", err)
	}
	defer f.Close()
	var out Blacklist
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.TrimSuffix(line, "/"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read blacklist: %w", err)
	}
	return out, nil
}

func (b Blacklist) Excluded(id types.TestIdentity) bool {
	s := string(id)
	for _, entry := range b {
		if s == entry || strings.HasPrefix(s, entry+"/") || isVariantOf(s, entry) {
			return true
		}
	}
	return false
}

// isVariantOf reports whether id is entry followed by a "_<index>" suffix.
func isVariantOf(id, entry string) bool {
	rest, ok := strings.CutPrefix(id, entry+"_")
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// AnyOf excludes an identity if any of its members does.
type AnyOf []Excluder

func (a AnyOf) Excluded(id types.TestIdentity) bool {
	for _, e := range a {
		if e != nil && e.Excluded(id) {
			return true
		}
	}
	return false
}

// Filter selects which tests Read materializes.
type Filter struct {
	Name     string // substring of the identity
	Variants *VariantRange
	Exclude  Excluder
}

func (f *Filter) excluded(id types.TestIdentity) bool {
	return f.Exclude != nil && f.Exclude.Excluded(id)
}
