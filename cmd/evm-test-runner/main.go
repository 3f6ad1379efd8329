// evm-test-runner feeds parsed artifacts to an external execution engine and
// keeps the pass state of every test across runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/engine"
	"github.com/colorfulnotion/evmtests/harness"
	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/report"
	"github.com/colorfulnotion/evmtests/runstate"
	"github.com/colorfulnotion/evmtests/telemetry"
	"github.com/colorfulnotion/evmtests/testtree"
	"github.com/colorfulnotion/evmtests/types"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	cfg := types.RunnerConfig{
		ParsedDir:       evmcommon.GetParsedPath(),
		PassStatePath:   evmcommon.DefaultPassStateCSV,
		Timeout:         harness.DefaultTimeout,
		Workers:         harness.DefaultWorkers,
		PersistInterval: harness.DefaultPersistInterval,
	}
	var (
		configPath string
		engineCmd  string
		debug      string
		logLevel   string
		logJSON    bool
		sampleRate float64
		printTree  bool
	)

	var rootCmd = &cobra.Command{
		Use:     "evm-test-runner",
		Short:   "Run parsed EVM tests against an execution engine",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := types.ApplyConfigFile(cmd, configPath, &cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("engine") || len(cfg.EngineCmd) == 0 {
				cfg.EngineCmd = strings.Fields(engineCmd)
			}
			if err := log.InitLoggerTo(os.Stderr, logLevel, logJSON); err != nil {
				return err
			}
			log.EnableModules(debug)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, &cfg, sampleRate, printTree)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceUsage = true

	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "JSON config file; flags override its values")
	f.StringVar(&cfg.ParsedDir, "parsed", cfg.ParsedDir, "parsed artifacts root (env EVMTESTS_PARSED_PATH)")
	f.StringVar(&cfg.PassStatePath, "state", cfg.PassStatePath, "run state CSV file")
	f.StringVarP(&cfg.NameFilter, "filter", "f", "", "only run tests whose identity contains this string")
	f.StringVar(&cfg.VariantFilter, "variants", "", "variant index or range, e.g. 3 or 2..5")
	f.BoolVar(&cfg.SkipPassed, "skip-passed", false, "skip tests recorded as passed")
	f.BoolVar(&cfg.WitnessOnly, "witness-only", false, "execute and generate the witness without proving")
	f.DurationVarP(&cfg.Timeout, "timeout", "t", cfg.Timeout, "per-test timeout")
	f.StringVar(&cfg.BlacklistPath, "blacklist", "", "file of identities or identity prefixes to skip")
	f.BoolVar(&cfg.UpdateUpstream, "update-upstream", false, "reconcile the run state with the parsed artifacts before running")
	f.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "tests run concurrently")
	f.StringVar(&engineCmd, "engine", "", "engine command line, e.g. \"prover --backend cpu\"")
	f.StringVar(&cfg.ReportPath, "report", "", "write a markdown report to this file")
	f.StringVar(&cfg.ChartPath, "chart", "", "write an HTML chart of results to this file")
	f.BoolVar(&cfg.DiffOnMismatch, "diff", false, "diff the post-state of tests with wrong roots")
	f.BoolVar(&cfg.PersistEachTest, "persist-each", true, "save the run state while tests finish, not only at exit")
	f.DurationVar(&cfg.PersistInterval, "persist-interval", cfg.PersistInterval, "minimum time between run state saves with --persist-each; 0 saves after every test")
	f.BoolVar(&printTree, "tree", true, "print the result tree")
	f.StringVar(&cfg.OTLP, "otlp", "", "OTLP/HTTP tracing endpoint, e.g. http://localhost:4318")
	f.Float64Var(&sampleRate, "trace-ratio", 1, "trace sampling ratio")
	f.StringVar(&debug, "debug", "", "comma separated modules with debug logging, or all")
	f.StringVar(&logLevel, "log-level", "info", "log level")
	f.BoolVar(&logJSON, "log-json", false, "log as JSON")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *types.RunnerConfig, sampleRate float64, printTree bool) error {
	log.Info(log.Harness, "evm-test-runner starting", "config", cfg.String())
	eng, err := engine.NewProcess(cfg.EngineCmd)
	if err != nil {
		return err
	}
	variants, err := testtree.ParseVariantFilter(cfg.VariantFilter)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Setup(ctx, "evm-test-runner", cfg.OTLP, sampleRate)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	store, err := runstate.Open(cfg.PassStatePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.UpdateUpstream {
		ids, err := testtree.ListIdentities(ctx, cfg.ParsedDir)
		if err != nil {
			return fmt.Errorf("list parsed tests: %w", err)
		}
		store.Reconcile(ids)
		if err := store.Save(); err != nil {
			return err
		}
	}

	exclude := testtree.AnyOf{}
	if cfg.BlacklistPath != "" {
		bl, err := testtree.LoadBlacklist(cfg.BlacklistPath)
		if err != nil {
			return err
		}
		exclude = append(exclude, bl)
	}
	if cfg.SkipPassed {
		exclude = append(exclude, testtree.NewIdentitySet(store.PassedFilter(cfg.WitnessOnly)...))
	}
	groups, err := testtree.Read(ctx, cfg.ParsedDir, testtree.Filter{
		Name:     cfg.NameFilter,
		Variants: variants,
		Exclude:  exclude,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn(log.Harness, "interrupted while reading tests")
			return nil
		}
		return fmt.Errorf("read parsed tests: %w", err)
	}
	log.Info(log.Harness, "tests selected", "count", testtree.Count(groups))

	h, err := harness.New(eng, store, harness.Config{
		Timeout:         cfg.Timeout,
		Workers:         cfg.Workers,
		WitnessOnly:     cfg.WitnessOnly,
		SkipPassed:      cfg.SkipPassed,
		DiffOnMismatch:  cfg.DiffOnMismatch,
		PersistEachTest: cfg.PersistEachTest,
		PersistInterval: cfg.PersistInterval,
	})
	if err != nil {
		return err
	}
	defer h.Close()

	sum, err := h.Run(ctx, groups)
	if err != nil {
		return err
	}

	rep := report.New(sum, evmcommon.GetCommitHash())
	if printTree {
		fmt.Println(rep.Tree(isTerminal(os.Stdout)).String())
	}
	fmt.Println(sum.String())
	if cfg.ReportPath != "" {
		if err := rep.WriteMarkdownFile(cfg.ReportPath); err != nil {
			log.Error(log.Report, "markdown report not written", "path", cfg.ReportPath, "err", err)
		}
	}
	if cfg.ChartPath != "" {
		if err := rep.WriteChartFile(cfg.ChartPath); err != nil {
			log.Error(log.Report, "chart not written", "path", cfg.ChartPath, "err", err)
		}
	}
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
