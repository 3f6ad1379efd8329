package types

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ParserConfig drives cmd/eth-test-parser.
type ParserConfig struct {
	FixturesDir string      `json:"fixtures_dir"`
	ParsedDir   string      `json:"parsed_dir"`
	MarkerDB    string      `json:"marker_db"`
	RepoURL     string      `json:"repo_url"`
	NoFetch     bool        `json:"no_fetch"`
	Force       bool        `json:"force"`
	Depth       int         `json:"depth"`
	Groups      []string    `json:"groups"`
	Scheme      StateScheme `json:"scheme"`
	SMTProfile  string      `json:"smt_profile"`
	ChainID     uint64      `json:"chain_id"`
	Workers     int         `json:"workers"`
	OTLP        string      `json:"otlp_endpoint"`
}

// RunnerConfig drives cmd/evm-test-runner.
type RunnerConfig struct {
	ParsedDir       string        `json:"parsed_dir"`
	PassStatePath   string        `json:"pass_state_path"`
	NameFilter      string        `json:"name_filter"`
	VariantFilter   string        `json:"variant_filter"`
	SkipPassed      bool          `json:"skip_passed"`
	WitnessOnly     bool          `json:"witness_only"`
	Timeout         time.Duration `json:"timeout"`
	BlacklistPath   string        `json:"blacklist_path"`
	UpdateUpstream  bool          `json:"update_upstream"`
	Workers         int           `json:"workers"`
	EngineCmd       []string      `json:"engine_cmd"`
	ReportPath      string        `json:"report_path"`
	ChartPath       string        `json:"chart_path"`
	DiffOnMismatch  bool          `json:"diff_on_mismatch"`
	OTLP            string        `json:"otlp_endpoint"`
	PersistEachTest bool          `json:"persist_each_test"`
	PersistInterval time.Duration `json:"persist_interval"`
}

// String method returns the config as a formatted JSON string
func (c *ParserConfig) String() string {
	return configString(c)
}

// String method returns the config as a formatted JSON string
func (c *RunnerConfig) String() string {
	return configString(c)
}

func configString(c any) string {
	jsonData, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling JSON: %v", err)
	}
	return string(jsonData)
}

// LoadConfigFile overlays the JSON file at path onto cfg. An empty path is a no-op.
func LoadConfigFile(path string, cfg any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// ApplyConfigFile overlays the JSON file at path onto cfg, then re-applies
// every flag set on the command line so explicit flags win over the file.
func ApplyConfigFile(cmd *cobra.Command, path string, cfg any) error {
	if path == "" {
		return nil
	}
	changed := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := LoadConfigFile(path, cfg); err != nil {
		return err
	}
	for name, value := range changed {
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("re-apply flag --%s: %w", name, err)
		}
	}
	return nil
}
