// Package harness provides testing utilities for the devirtualization analyzer.
package harness

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/devirt/pkg/devirt"
)

// Configuration represents a single way of loading a test case.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// Paths are the model or source files to load, relative to the case directory.
	Paths []string `yaml:"paths"`

	// Workers bounds the parallelism of parsing and call graph construction.
	Workers int `yaml:"workers,omitempty"`

	// Expected overrides the decisions expected by the test case.
	Expected []ExpectedDecision `yaml:"expected,omitempty"`

	// ExpectedErrors lists any expected error messages for this configuration.
	ExpectedErrors []string `yaml:"expected_errors"`
}

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing the test program.
	Dir string `yaml:"-"`

	// Description says what the case exercises.
	Description string `yaml:"description,omitempty"`

	// Expected lists the decision of every virtual call site.
	Expected []ExpectedDecision `yaml:"expected"`

	// Configurations defines the ways the case is loaded.
	Configurations []Configuration `yaml:"configurations"`
}

// ExpectedDecision is the expected outcome of one virtual call site.
// Sites are identified by enclosing function and called slot; a function
// calling the same slot twice lists it twice.
type ExpectedDecision struct {
	Function string `yaml:"function"`
	Slot     string `yaml:"slot"`
	Outcome  string `yaml:"outcome"`

	// Rule is the rule expected to license a rewrite.
	Rule string `yaml:"rule,omitempty"`

	// Target is the expected direct callee of a rewrite.
	Target string `yaml:"target,omitempty"`

	// Reason is a substring of the expected reason.
	Reason string `yaml:"reason,omitempty"`
}

func (e ExpectedDecision) key() string {
	return fmt.Sprintf("%s -> %s: %s", e.Function, e.Slot, e.Outcome)
}

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// Run executes a test case with all its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	var results []ConfigurationResult
	var allSuccess = true

	for _, cfg := range tc.Configurations {
		cfgResult := h.runConfiguration(t, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Configurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// runConfiguration executes analysis for a single configuration
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg Configuration) *ConfigurationResult {
	t.Helper()
	expected := tc.Expected
	if cfg.Expected != nil {
		expected = cfg.Expected
	}
	if err := validateConfiguration(cfg, expected); err != nil {
		return &ConfigurationResult{
			Configuration: cfg,
			Message:       fmt.Sprintf("Invalid expected.yaml: %v", err),
			Details:       []string{err.Error()},
		}
	}

	prog, err := LoadProgram(t, &LoaderConfig{
		Dir:     filepath.Join(h.root, tc.Dir),
		Paths:   cfg.Paths,
		Workers: cfg.Workers,
	})
	var result *devirt.Result
	if err == nil {
		result, err = devirt.NewAnalyzer(devirt.AnalyzerOptions{Workers: cfg.Workers}).Analyze(t.Context(), prog)
	}
	if err != nil {
		// Check if this error was expected.
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	if len(cfg.ExpectedErrors) > 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Result:        result,
			Message:       "Expected an error, got none",
			Details:       cfg.ExpectedErrors,
		}
	}

	cfgResult := &ConfigurationResult{Configuration: cfg, Result: result}
	validateResults(cfgResult, expected, result)
	return cfgResult
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Result is the raw result from the analyzer.
	Result *devirt.Result

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Skipped indicates if the test was skipped.
	Skipped bool

	// Message provides a summary of the result.
	Message string
}

// validateConfiguration checks that a configuration and its expectations
// have the required fields.
func validateConfiguration(cfg Configuration, expected []ExpectedDecision) error {
	if len(cfg.Paths) == 0 {
		return fmt.Errorf("configuration %q has no paths", cfg.Name)
	}
	for i, exp := range expected {
		if strings.TrimSpace(exp.Function) == "" || strings.TrimSpace(exp.Slot) == "" {
			return fmt.Errorf("expected decision at index %d has empty 'function' or 'slot' field", i)
		}
		switch exp.Outcome {
		case "keep", "rewrite":
		default:
			return fmt.Errorf("expected decision at index %d has invalid outcome %q", i, exp.Outcome)
		}
	}
	return nil
}

func validateResults(cfgResult *ConfigurationResult, expected []ExpectedDecision, result *devirt.Result) {
	// Sites are compared as multisets of function, slot and outcome.
	expectedCount := make(map[string]int)
	for _, e := range expected {
		expectedCount[e.key()]++
	}

	actualCount := make(map[string]int)
	actualByKey := make(map[string][]devirt.Decision)
	for _, d := range result.Decisions {
		k := ExpectedDecision{Function: d.Function, Slot: d.Slot, Outcome: d.Outcome}.key()
		actualCount[k]++
		actualByKey[k] = append(actualByKey[k], d)
	}
	targets := make(map[string]string)
	for _, d := range result.Directives {
		targets[d.Site] = d.Target
	}

	var details []string
	success := true

	var missing []string
	for key, n := range expectedCount {
		for range n - actualCount[key] {
			missing = append(missing, key)
			success = false
		}
	}

	var unexpected []string
	for key, n := range actualCount {
		for range n - expectedCount[key] {
			unexpected = append(unexpected, key)
			success = false
		}
	}

	sort.Strings(missing)
	sort.Strings(unexpected)

	for _, m := range missing {
		details = append(details, "Missing decision: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Unexpected decision: "+u)
	}

	for _, exp := range expected {
		for _, act := range actualByKey[exp.key()] {
			if exp.Rule != "" && act.Rule != exp.Rule {
				details = append(details, fmt.Sprintf(
					"Rule mismatch for %s: expected %q, got %q", exp.key(), exp.Rule, act.Rule))
				success = false
			}
			if exp.Target != "" && targets[act.Site] != exp.Target {
				details = append(details, fmt.Sprintf(
					"Target mismatch for %s: expected %q, got %q", exp.key(), exp.Target, targets[act.Site]))
				success = false
			}
			if exp.Reason != "" && !strings.Contains(act.Reason, exp.Reason) {
				details = append(details, fmt.Sprintf(
					"Reason mismatch for %s: expected %q in %q", exp.key(), exp.Reason, act.Reason))
				success = false
			}
		}
	}

	var message string
	if success {
		message = fmt.Sprintf("All %d expected decisions found", len(expected))
	} else {
		message = fmt.Sprintf("Test failed: %d missing, %d unexpected", len(missing), len(unexpected))
	}

	cfgResult.Success = success
	cfgResult.Message = message
	cfgResult.Details = details
}
