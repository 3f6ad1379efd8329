package types

import (
	"fmt"
	"strings"
)

// TestIdentity is "group/subgroup/test" or "group/subgroup/test_variant".
// It is the key of the run-state store and is stable across runs.
type TestIdentity string

// NewTestIdentity builds the identity of one variant. Single-variant tests carry no suffix.
func NewTestIdentity(group, subGroup, test string, variant, variants int) TestIdentity {
	if variants > 1 {
		return TestIdentity(fmt.Sprintf("%s/%s/%s_%d", group, subGroup, test, variant))
	}
	return FileIdentity(group, subGroup, test)
}

// FileIdentity identifies a whole test file regardless of variant count.
func FileIdentity(group, subGroup, test string) TestIdentity {
	return TestIdentity(group + "/" + subGroup + "/" + test)
}

func (id TestIdentity) String() string { return string(id) }

func (id TestIdentity) parts() []string {
	return strings.SplitN(string(id), "/", 3)
}

func (id TestIdentity) Group() string {
	return id.parts()[0]
}

func (id TestIdentity) SubGroup() string {
	p := id.parts()
	if len(p) < 2 {
		return ""
	}
	return p[1]
}

func (id TestIdentity) Test() string {
	p := id.parts()
	if len(p) < 3 {
		return ""
	}
	return p[2]
}
