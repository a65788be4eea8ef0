// Package main implements the CLI driver for the devirt analyzer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/devirt/internal/graphdb"
	"github.com/715d/devirt/pkg/devirt"
)

// Config holds all command-line configuration options for the devirt analyzer.
type Config struct {
	Paths         []string // model files, C++ sources or directories to analyze
	Verbose       bool     // enables detailed output and statistics
	JSON          bool     // enables JSON output format
	Profile       bool     // enables CPU and memory profiling
	DumpHierarchy bool     // prints the class hierarchy before the results
	IncludeKeeps  bool     // reports call sites that stay virtual
	Workers       int      // parallelism of parsing and call graph construction

	Neo4j Neo4jConfig
}

// Neo4jConfig holds the options of the neo4j subcommand.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Clean    bool
}

const exitError = 2

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devirt [paths...]",
		Short: "Find virtual call sites that can be turned into direct calls",
		Long: `devirt is a whole-program static devirtualizer.

It reads program facts (YAML or JSON models) or C++ sources and reports the
virtual call sites whose target is the same on every receiver:
- slots that no subclass overrides
- calls on this whose enclosing method is overridden alongside the slot`,
		Example: `  devirt .                          # Analyze every model and source under .
  devirt facts.yaml                 # Analyze a program model
  devirt -v --include-keeps src/    # Report kept sites with their reason
  devirt --json src/ > report.json  # JSON output to file
  devirt neo4j --clean src/         # Export the analysis to Neo4j`,
		Args:               cobra.ArbitraryArgs,
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("devirt version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	rootCmd.PersistentFlags().IntVar(&cfg.Workers, "workers", 0, "Parallelism of parsing and call graph construction (0 means one per CPU)")
	rootCmd.Flags().BoolVar(&cfg.DumpHierarchy, "dump-hierarchy", false, "Print the class hierarchy before the results")
	rootCmd.Flags().BoolVar(&cfg.IncludeKeeps, "include-keeps", false, "Also report call sites that stay virtual")

	neo4jCmd := &cobra.Command{
		Use:   "neo4j [paths...]",
		Short: "Export the class hierarchy, call graph and rewrites to Neo4j",
		Args:  cobra.ArbitraryArgs,
		RunE:  runNeo4j,
	}
	neo4jCmd.Flags().StringVar(&cfg.Neo4j.URI, "uri", "bolt://localhost:7687", "Neo4j connection URI")
	neo4jCmd.Flags().StringVar(&cfg.Neo4j.User, "user", "neo4j", "Neo4j user")
	neo4jCmd.Flags().StringVar(&cfg.Neo4j.Password, "password", "", "Neo4j password (defaults to $NEO4J_PASSWORD)")
	neo4jCmd.Flags().BoolVar(&cfg.Neo4j.Clean, "clean", false, "Remove previously exported nodes first")
	rootCmd.AddCommand(neo4jCmd)

	return rootCmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg.Paths = pathsOrDefault(args)
	slog.Info("starting devirtualization", "paths", cfg.Paths)

	result, err := runAnalysis(cmd.Context(), &cfg)
	if err != nil {
		return errWithCode(fmt.Errorf("analyze: %w", err), exitError)
	}

	if cfg.DumpHierarchy {
		if err := result.DumpHierarchy(cmd.OutOrStdout()); err != nil {
			return errWithCode(fmt.Errorf("dump hierarchy: %w", err), exitError)
		}
	}

	if err := writeResults(cmd.OutOrStdout(), result, &cfg); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}
	return nil
}

func runNeo4j(cmd *cobra.Command, args []string) error {
	cfg.Paths = pathsOrDefault(args)
	password := cfg.Neo4j.Password
	if password == "" {
		password = os.Getenv("NEO4J_PASSWORD")
	}

	result, err := runAnalysis(cmd.Context(), &cfg)
	if err != nil {
		return errWithCode(fmt.Errorf("analyze: %w", err), exitError)
	}

	ctx := cmd.Context()
	exporter, err := graphdb.Connect(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, password)
	if err != nil {
		return errWithCode(err, exitError)
	}
	defer closeExporter(ctx, exporter)

	if err := exporter.CreateIndexes(ctx); err != nil {
		return errWithCode(err, exitError)
	}
	if cfg.Neo4j.Clean {
		if err := exporter.Clean(ctx); err != nil {
			return errWithCode(err, exitError)
		}
	}
	if err := exporter.Export(ctx, result.Snapshot()); err != nil {
		return errWithCode(err, exitError)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d classes, %d methods and %d rewrites to %s\n",
		result.Stats.Classes, result.Stats.Methods, result.Stats.Rewrites, cfg.Neo4j.URI)
	return nil
}

// closeExporter releases the driver. A failed close does not fail the export.
func closeExporter(ctx context.Context, c interface{ Close(context.Context) error }) {
	if err := c.Close(ctx); err != nil {
		slog.Warn("closing neo4j driver", "error", err)
	}
}

func pathsOrDefault(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return []string{"."}
}

func runAnalysis(ctx context.Context, cfg *Config) (*devirt.Result, error) {
	start := time.Now()

	slog.Info("loading program", "paths", cfg.Paths)
	prog, err := devirt.LoadProgram(ctx, devirt.LoaderOptions{
		Paths:   cfg.Paths,
		Workers: cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("loading program: %w", err)
	}
	slog.Info("loaded program", "classes", len(prog.Classes), "functions", len(prog.Functions))

	slog.Info("running analysis")
	result, err := devirt.NewAnalyzer(devirt.AnalyzerOptions{Workers: cfg.Workers}).Analyze(ctx, prog)
	if err != nil {
		return nil, fmt.Errorf("analyze program: %w", err)
	}
	slog.Info("analysis completed", "dur", time.Since(start))
	return result, nil
}

func writeResults(w io.Writer, result *devirt.Result, cfg *Config) error {
	var output string
	var err error

	if cfg.JSON {
		output, err = formatJSONOutput(result, cfg)
	} else {
		output = formatTextOutput(result, cfg)
	}

	if err != nil {
		return err
	}

	_, err = io.WriteString(w, output)
	return err
}

func formatJSONOutput(result *devirt.Result, cfg *Config) (string, error) {
	out := jOutput{
		Directives: result.Directives,
		Stats:      result.Stats,
		Version:    version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if out.Directives == nil {
		out.Directives = []devirt.Directive{}
	}
	if cfg.IncludeKeeps {
		for _, d := range result.Decisions {
			if d.Outcome == "keep" {
				out.Kept = append(out.Kept, d)
			}
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling json output: %w", err)
	}
	return string(data) + "\n", nil
}

func formatTextOutput(result *devirt.Result, cfg *Config) string {
	var output strings.Builder

	if cfg.Verbose {
		slog.Info("",
			"classes", result.Stats.Classes,
			"methods", result.Stats.Methods,
			"sites", result.Stats.Sites,
			"rewrites", result.Stats.Rewrites,
			"suppressed", result.Stats.Suppressed,
			"analysis_duration", result.Stats.Duration.String())
	}

	if len(result.Directives) == 0 && !cfg.IncludeKeeps {
		slog.Info("no devirtualizable call sites found")
		return output.String()
	}

	for _, d := range result.Decisions {
		// Format: position function: slot -> outcome (rule or reason)
		switch {
		case d.Outcome == "rewrite":
			fmt.Fprintf(&output, "%s%s: %s -> direct (%s)\n", positionPrefix(d.Position), d.Function, d.Slot, d.Rule)
		case cfg.IncludeKeeps:
			fmt.Fprintf(&output, "%s%s: %s -> virtual (%s)\n", positionPrefix(d.Position), d.Function, d.Slot, d.Reason)
		}
	}

	return output.String()
}

func positionPrefix(pos string) string {
	if pos == "" {
		return ""
	}
	return pos + " "
}

type jOutput struct {
	Directives []devirt.Directive `json:"directives"`
	Kept       []devirt.Decision  `json:"kept,omitempty"`
	Stats      devirt.Stats       `json:"stats"`
	Version    string             `json:"version"`
	Timestamp  string             `json:"timestamp"`
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error { return e.err }
