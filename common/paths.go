package common

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EthereumChainID = 1
	MaticChainID    = 137

	FixturesRepoURL     = "https://github.com/ethereum/tests.git"
	DefaultFixturesDir  = "generation_inputs"
	DefaultParsedDir    = "parsed_tests"
	DefaultPassStateCSV = "test_pass_state.state"
	DefaultMarkerDB     = "parse_markers"

	// MainTestDir is the fixture group tree relative to the repository root.
	MainTestDir = "BlockchainTests"

	ParsedExtension = ".parsed"
)

// DefaultTestGroups are the fixture groups parsed when none are named.
var DefaultTestGroups = []string{"GeneralStateTests"}

// SpecialSubgroups hold nested fork directories that are flattened into one sub-group.
var SpecialSubgroups = []string{"Cancun", "Shanghai", "VMTests"}

func IsSpecialSubgroup(name string) bool {
	for _, s := range SpecialSubgroups {
		if s == name {
			return true
		}
	}
	return false
}

// GetFixturesPath returns the fixtures checkout dir, honouring EVMTESTS_FIXTURES_PATH.
func GetFixturesPath() string {
	return envPath("EVMTESTS_FIXTURES_PATH", DefaultFixturesDir)
}

// GetParsedPath returns the parsed artifacts root, honouring EVMTESTS_PARSED_PATH.
func GetParsedPath() string {
	return envPath("EVMTESTS_PARSED_PATH", DefaultParsedDir)
}

func envPath(key, def string) string {
	p := os.Getenv(key)
	if p == "" {
		p = def
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return absPath
}

// ArtifactPath maps a fixture path under fixturesRoot to its artifact path under parsedRoot.
func ArtifactPath(parsedRoot, relFixture string) string {
	rel := strings.TrimSuffix(relFixture, filepath.Ext(relFixture)) + ParsedExtension
	return filepath.Join(parsedRoot, rel)
}
