// eth-test-parser fetches the ethereum/tests fixtures and turns every
// BlockchainTests fixture into a parsed artifact for evm-test-runner.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/evmtests/builder"
	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/storage"
	"github.com/colorfulnotion/evmtests/telemetry"
	"github.com/colorfulnotion/evmtests/types"
	"github.com/colorfulnotion/evmtests/upstream"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	cfg := types.ParserConfig{
		FixturesDir: evmcommon.GetFixturesPath(),
		ParsedDir:   evmcommon.GetParsedPath(),
		MarkerDB:    evmcommon.DefaultMarkerDB,
		RepoURL:     evmcommon.FixturesRepoURL,
		Scheme:      types.SchemeMPT,
		SMTProfile:  storage.EIPProfile.String(),
		ChainID:     evmcommon.EthereumChainID,
		Workers:     runtime.NumCPU(),
	}
	var (
		configPath string
		groups     string
		scheme     string
		debug      string
		logLevel   string
		logJSON    bool
		sampleRate float64
	)

	var rootCmd = &cobra.Command{
		Use:     "eth-test-parser",
		Short:   "Parse ethereum/tests BlockchainTests fixtures into engine inputs",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := types.ApplyConfigFile(cmd, configPath, &cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("groups") || len(cfg.Groups) == 0 {
				cfg.Groups = splitList(groups)
			}
			if cmd.Flags().Changed("scheme") {
				cfg.Scheme = types.StateScheme(scheme)
			}
			if err := log.InitLoggerTo(os.Stderr, logLevel, logJSON); err != nil {
				return err
			}
			log.EnableModules(debug)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, &cfg, sampleRate)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceUsage = true

	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "JSON config file; flags override its values")
	f.StringVar(&cfg.FixturesDir, "fixtures", cfg.FixturesDir, "ethereum/tests checkout (env EVMTESTS_FIXTURES_PATH)")
	f.StringVar(&cfg.ParsedDir, "parsed", cfg.ParsedDir, "output dir for parsed artifacts (env EVMTESTS_PARSED_PATH)")
	f.StringVar(&cfg.MarkerDB, "markers", cfg.MarkerDB, "LevelDB dir of parse markers; empty keeps them in memory")
	f.StringVar(&cfg.RepoURL, "repo-url", cfg.RepoURL, "fixtures repository")
	f.BoolVar(&cfg.NoFetch, "no-fetch", false, "do not clone or pull the fixtures repository")
	f.IntVar(&cfg.Depth, "depth", 0, "clone depth, 0 for full history")
	f.BoolVar(&cfg.Force, "force", false, "re-parse sub-groups that are up to date")
	f.StringVar(&groups, "groups", strings.Join(evmcommon.DefaultTestGroups, ","), "comma separated fixture groups, empty for all")
	f.StringVar(&scheme, "scheme", string(cfg.Scheme), "state scheme: mpt or smt")
	f.StringVar(&cfg.SMTProfile, "smt-profile", cfg.SMTProfile, "SMT key profile: eip or jam")
	f.Uint64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "chain id for transaction signing (1 Ethereum, 137 Polygon)")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "fixture files parsed concurrently")
	f.StringVar(&cfg.OTLP, "otlp", "", "OTLP/HTTP tracing endpoint, e.g. http://localhost:4318")
	f.Float64Var(&sampleRate, "trace-ratio", 1, "trace sampling ratio")
	f.StringVar(&debug, "debug", "", "comma separated modules with debug logging, or all")
	f.StringVar(&logLevel, "log-level", "info", "log level")
	f.BoolVar(&logJSON, "log-json", false, "log as JSON")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *types.ParserConfig, sampleRate float64) error {
	log.Info(log.Parser, "eth-test-parser starting", "config", cfg.String())
	if cfg.Scheme != types.SchemeMPT && cfg.Scheme != types.SchemeSMT {
		return fmt.Errorf("unknown state scheme %q", cfg.Scheme)
	}
	if cfg.ChainID != evmcommon.EthereumChainID && cfg.ChainID != evmcommon.MaticChainID {
		log.Warn(log.Parser, "unusual chain id", "chainID", cfg.ChainID)
	}

	shutdown, err := telemetry.Setup(ctx, "eth-test-parser", cfg.OTLP, sampleRate)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	repo, err := upstream.Sync(ctx, cfg.FixturesDir, upstream.Options{
		URL:      cfg.RepoURL,
		Fetch:    !cfg.NoFetch,
		Depth:    cfg.Depth,
		Progress: os.Stderr,
	})
	if err != nil {
		return err
	}

	markers, err := storage.NewMarkerStore(cfg.MarkerDB)
	if err != nil {
		return fmt.Errorf("open parse markers: %w", err)
	}
	defer markers.Close()

	driver := &builder.Driver{
		FixturesRoot: filepath.Join(cfg.FixturesDir, evmcommon.MainTestDir),
		ParsedRoot:   cfg.ParsedDir,
		Groups:       cfg.Groups,
		ChainID:      cfg.ChainID,
		Workers:      cfg.Workers,
		Assembler:    builder.NewAssembler(cfg.Scheme, storage.ParseProfile(cfg.SMTProfile)),
		Stale:        upstream.NewTracker(repo, markers, evmcommon.MainTestDir, cfg.Scheme, cfg.ChainID, cfg.Force),
	}
	sum, err := driver.Run(ctx)
	if sum != nil {
		fmt.Printf("parsed: %s\n", sum)
	}
	if err != nil && ctx.Err() != nil {
		log.Warn(log.Parser, "parse interrupted", "err", err)
		return nil
	}
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
