// Package decider decides, per virtual call site, whether the call can be
// rewritten into a direct call.
package decider

import (
	"fmt"
	"log/slog"

	"github.com/715d/devirt/internal/analysis"
	"github.com/715d/devirt/internal/callgraph"
	"github.com/715d/devirt/internal/hierarchy"
)

// Outcome is the decision for one call site.
type Outcome int

const (
	// Keep leaves the call site dispatching dynamically.
	Keep Outcome = iota
	// Rewrite turns the call site into a direct call to the decision target.
	Rewrite
)

func (o Outcome) String() string {
	if o == Rewrite {
		return "rewrite"
	}
	return "keep"
}

// Rule names the rule that licensed a rewrite.
type Rule string

const (
	RuleNone             Rule = ""
	RuleNoOverriders     Rule = "no-overriders"
	RulePairwiseOverride Rule = "pairwise-override"
)

// Reasons recorded on Keep decisions.
const (
	ReasonSuppressed     = "suppressed"
	ReasonNotVirtual     = "slot is not virtual"
	ReasonUnknownOwner   = "slot owner unknown"
	ReasonNotThis        = "receiver is not this"
	ReasonUnrelated      = "caller and slot classes unrelated"
	ReasonUnresolved     = "unresolved target"
	ReasonNoAlternate    = "no alternate for caller in overrider subtree"
	ReasonNotOverridden  = "caller not overridden in overrider subtree"
	ReasonAlternateReach = "alternate caller reaches target"
)

// Decision is the outcome for one call site.
type Decision struct {
	Site    *callgraph.Site
	Outcome Outcome

	// Target is the direct callee of a Rewrite.
	Target *analysis.Method

	Rule   Rule
	Reason string
}

// Decider applies the devirtualization rules. All inputs must be complete.
type Decider struct {
	h         *hierarchy.Hierarchy
	reg       *analysis.Registry
	overrides callgraph.OverrideSets
	graph     *callgraph.Graph
}

// New creates a Decider over a fully built analysis context.
func New(h *hierarchy.Hierarchy, reg *analysis.Registry, overrides callgraph.OverrideSets, graph *callgraph.Graph) *Decider {
	return &Decider{h: h, reg: reg, overrides: overrides, graph: graph}
}

// DecideAll decides every site in order.
func (d *Decider) DecideAll(sites []*callgraph.Site) []Decision {
	out := make([]Decision, 0, len(sites))
	for _, s := range sites {
		out = append(out, d.Decide(s))
	}
	return out
}

// Decide returns the outcome for site.
func (d *Decider) Decide(site *callgraph.Site) Decision {
	m := site.Slot
	switch {
	case site.Suppressed:
		return keep(site, ReasonSuppressed)
	case m == nil || !m.Virtual:
		return keep(site, ReasonNotVirtual)
	case m.Class == nil:
		return keep(site, ReasonUnknownOwner)
	}

	overriders, known := d.overrides.Of(m)
	if known && len(overriders) == 0 {
		return d.rewrite(site, RuleNoOverriders)
	}
	if !known {
		return keep(site, ReasonUnknownOwner)
	}
	if !site.ReceiverIsThis {
		return keep(site, ReasonNotThis)
	}

	f := site.Function
	if f == nil || f.Class == nil || !d.h.Related(f.Class, m.Class) {
		return keep(site, ReasonUnrelated)
	}
	for _, o := range overriders {
		if reason := d.checkOverrider(f, m, o); reason != "" {
			slog.Debug("pairwise check failed",
				"site", site.ID, "overrider", o.Linkage, "reason", reason)
			return keep(site, reason)
		}
	}
	return d.rewrite(site, RulePairwiseOverride)
}

// checkOverrider verifies that no receiver in the subtree of o's owner can run
// an alternate of f that leads back to m, f or o. It returns the reason for
// keeping the site, or "" if o is harmless.
func (d *Decider) checkOverrider(f, m, o *analysis.Method) string {
	for _, x := range d.h.Descendants(o.Class) {
		g := d.reg.ResolveIn(d.h, x, f)
		switch {
		case g == nil:
			return ReasonNoAlternate
		case g == f:
			return ReasonNotOverridden
		case d.graph.CanReach(g, m, d.overrides),
			d.graph.CanReach(g, f, d.overrides),
			g != o && d.graph.CanReach(g, o, d.overrides):
			return ReasonAlternateReach
		}
	}
	return ""
}

func (d *Decider) rewrite(site *callgraph.Site, rule Rule) Decision {
	if !site.Slot.Resolved() {
		return keep(site, ReasonUnresolved)
	}
	slog.Debug("devirtualized",
		"site", site.ID, "function", site.Function.Linkage, "target", site.Slot.Linkage, "rule", string(rule))
	return Decision{
		Site:    site,
		Outcome: Rewrite,
		Target:  site.Slot,
		Rule:    rule,
		Reason:  fmt.Sprintf("%s licenses direct call", rule),
	}
}

func keep(site *callgraph.Site, reason string) Decision {
	return Decision{Site: site, Outcome: Keep, Reason: reason}
}
