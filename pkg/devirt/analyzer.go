package devirt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/715d/devirt/internal/analysis"
	"github.com/715d/devirt/internal/callgraph"
	"github.com/715d/devirt/internal/decider"
	"github.com/715d/devirt/internal/hierarchy"
	"github.com/715d/devirt/internal/model"
)

// AnalyzerOptions holds configuration options for the analyzer.
type AnalyzerOptions struct {
	// Workers bounds the parallelism of call graph construction.
	// Zero means runtime.NumCPU().
	Workers int
}

// Analyzer orchestrates the devirtualization analysis.
type Analyzer struct {
	sigs *analysis.SignatureCache
	opts AnalyzerOptions
}

// NewAnalyzer creates a new analyzer with the given options.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	return &Analyzer{
		sigs: analysis.NewSignatureCache(),
		opts: opts,
	}
}

// Result holds the outcome of one analysis.
type Result struct {
	// Directives lists the call sites to rewrite. Sites not listed are left
	// untouched.
	Directives []Directive

	// Decisions holds the outcome of every virtual call site.
	Decisions []Decision

	Stats Stats

	state *state
}

// state is the analysis context, populated phase by phase.
type state struct {
	reg       *analysis.Registry
	h         *hierarchy.Hierarchy
	index     *analysis.EquivalenceIndex
	overrides *analysis.Overrides
	graph     *callgraph.Graph
	decisions []decider.Decision
}

// Analyze runs every phase over prog. Each phase completes before the next
// starts.
func (a *Analyzer) Analyze(ctx context.Context, prog *model.Program) (*Result, error) {
	if prog == nil {
		return nil, fmt.Errorf("no program provided")
	}
	start := time.Now()
	st := &state{reg: analysis.NewRegistry()}

	// Step 1: Observe every declaration.
	for _, fact := range prog.Methods {
		st.reg.Observe(fact)
	}
	methods := st.reg.Methods()

	// Step 2: Build the hierarchy of every referenced class.
	b := hierarchy.NewBuilder(prog)
	for _, c := range prog.Classes {
		b.Resolve(c.Key)
	}

	// Step 3: Attach methods to their owners.
	for _, m := range methods {
		if m.Owner == "" {
			continue
		}
		m.Class = b.Resolve(m.Owner)
		b.Attach(m.Class, m.Linkage)
	}
	st.h = b.Hierarchy()
	slog.Debug("hierarchy built", "classes", st.h.Len(), "methods", len(methods))

	// Step 4: Group virtual methods by slot.
	st.index = analysis.NewEquivalenceIndex(a.sigs)
	virtuals := 0
	for _, m := range methods {
		if st.index.Insert(m) != nil {
			virtuals++
		}
	}

	// Step 5: Compute override sets.
	st.overrides = analysis.NewOverrides(st.h, st.index)
	st.overrides.Compute(methods)
	slog.Debug("override sets computed",
		"slots", len(st.index.Classes()), "virtual", virtuals, "sets", st.overrides.Len())

	// Step 6: Build the call graph.
	graph, err := callgraph.Build(ctx, st.reg, prog.Functions, callgraph.Options{Workers: a.opts.Workers})
	if err != nil {
		return nil, err
	}
	st.graph = graph

	// Step 7: Decide every virtual call site.
	st.decisions = decider.New(st.h, st.reg, st.overrides, st.graph).DecideAll(graph.Sites())

	result := &Result{
		state: st,
		Stats: Stats{
			Classes:            st.h.Len(),
			Methods:            len(methods),
			VirtualMethods:     virtuals,
			EquivalenceClasses: len(st.index.Classes()),
			Functions:          graph.Functions(),
			Sites:              len(graph.Sites()),
			ByRule:             make(map[string]int),
		},
	}
	for _, d := range st.decisions {
		result.Decisions = append(result.Decisions, decisionOf(d))
		if d.Site.Suppressed {
			result.Stats.Suppressed++
		}
		if d.Outcome != decider.Rewrite {
			continue
		}
		result.Directives = append(result.Directives, Directive{
			Site:     d.Site.ID,
			Function: d.Site.Function.Linkage,
			Slot:     d.Site.Slot.Linkage,
			Target:   d.Target.Function,
			Rule:     string(d.Rule),
			Position: d.Site.Position,
		})
		result.Stats.ByRule[string(d.Rule)]++
	}
	result.Stats.Rewrites = len(result.Directives)
	result.Stats.Duration = time.Since(start)

	slog.Info("devirtualization complete",
		"sites", result.Stats.Sites,
		"rewrites", result.Stats.Rewrites,
		"duration", result.Stats.Duration)
	return result, nil
}

func decisionOf(d decider.Decision) Decision {
	return Decision{
		Site:     d.Site.ID,
		Function: d.Site.Function.Linkage,
		Slot:     d.Site.Slot.Linkage,
		Outcome:  d.Outcome.String(),
		Rule:     string(d.Rule),
		Reason:   d.Reason,
		Position: d.Site.Position,
	}
}

// DumpHierarchy writes the analyzed class hierarchy to w.
func (r *Result) DumpHierarchy(w io.Writer) error {
	if r.state == nil {
		return nil
	}
	return r.state.h.Dump(w)
}
