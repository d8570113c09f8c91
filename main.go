package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cedarc/pkg/checker"
	"cedarc/pkg/codegen"
	"cedarc/pkg/config"
	"cedarc/pkg/eval"
	"cedarc/pkg/ir"
	"cedarc/pkg/ir/build"
	"cedarc/pkg/parser"
	"cedarc/pkg/report"
	"cedarc/pkg/runtime/alloc"
	"cedarc/pkg/runtime/borrowdbg"
	"cedarc/pkg/runtime/value"
)

var (
	cfgPath   string
	debugMode bool
	format    string
	logLevel  string
)

func main() {
	root := &cobra.Command{
		Use:           "cedarc",
		Short:         "Cedar compiler: ownership checking, C emission, and a reference interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&debugMode, "debug-borrow", false, "enable the dynamic borrow checker")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	check := &cobra.Command{
		Use:   "check <file>",
		Short: "Parse, lower, and run the static ownership checker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := loadAndCheck(args[0])
			if err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	emit := &cobra.Command{
		Use:   "emit <file>",
		Short: "Check the program and emit C99 to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, prog, err := loadAndCheck(args[0])
			if err != nil {
				return err
			}
			return codegen.NewGenerator(os.Stdout).Generate(prog)
		},
	}

	emitABI := &cobra.Command{
		Use:   "emit-abi",
		Short: "Emit the C ABI header to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			codegen.NewAbiGenerator(os.Stdout).GenerateHeader()
			return nil
		},
	}

	emitRuntime := &cobra.Command{
		Use:   "emit-runtime",
		Short: "Emit the C runtime implementing the ABI to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			codegen.NewRuntimeGenerator(os.Stdout).GenerateRuntime()
			return nil
		},
	}

	run := &cobra.Command{
		Use:   "run <file>",
		Short: "Check the program and execute it in the reference interpreter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, prog, err := loadAndCheck(args[0])
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			al := alloc.New(alloc.WithCap(cfg.MaxMemoryBytes), alloc.WithLogger(log))
			var dbg *borrowdbg.Table
			if debugMode || cfg.DebugBorrowChecks {
				dbg = borrowdbg.NewTable()
			}
			rt := value.NewRuntime(al, dbg)
			rt.Growth = cfg.VecGrowthFactor

			res := eval.Run(prog, rt, eval.Options{
				MaxOutputBytes: cfg.MaxOutputBytes,
				Logger:         log,
			})
			rep := report.New(res, dbg != nil)

			var out []byte
			if format == "yaml" {
				out, err = rep.YAML()
			} else {
				out, err = rep.JSON()
			}
			if err != nil {
				return err
			}
			os.Stdout.Write(out)
			if !res.OK {
				return fmt.Errorf("invocation trapped: %s", res.Trap)
			}
			return nil
		},
	}
	run.Flags().StringVar(&format, "format", "json", "report format: json or yaml")

	root.AddCommand(check, emit, emitABI, emitRuntime, run)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cedarc:", err)
		os.Exit(1)
	}
}

func loadAndCheck(path string) (config.Config, *ir.Program, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return cfg, nil, err
	}
	forms, err := parser.ParseAllString(string(src))
	if err != nil {
		return cfg, nil, fmt.Errorf("%s: %w", path, err)
	}
	prog, err := build.Program(forms)
	if err != nil {
		return cfg, nil, fmt.Errorf("%s: %w", path, err)
	}
	if diags := checker.Check(prog); diags != nil {
		var sb strings.Builder
		for _, d := range diags {
			fmt.Fprintf(&sb, "%s\n", d.Error())
		}
		return cfg, nil, fmt.Errorf("ownership check failed:\n%s", sb.String())
	}
	return cfg, prog, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
