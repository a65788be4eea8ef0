// Package devirt provides static devirtualization of virtual call sites.
package devirt

import "time"

// Directive asks the call rewriter to turn a virtual call site into a direct
// call to Target.
type Directive struct {
	Site     string `json:"site"`
	Function string `json:"function"`
	Slot     string `json:"slot"`
	Target   string `json:"target"`
	Rule     string `json:"rule"`
	Position string `json:"position,omitempty"`
}

// Decision is the outcome for one virtual call site.
type Decision struct {
	Site     string `json:"site"`
	Function string `json:"function"`
	Slot     string `json:"slot"`
	Outcome  string `json:"outcome"`
	Rule     string `json:"rule,omitempty"`
	Reason   string `json:"reason"`
	Position string `json:"position,omitempty"`
}

// Stats summarizes one analysis.
type Stats struct {
	Classes            int            `json:"classes"`
	Methods            int            `json:"methods"`
	VirtualMethods     int            `json:"virtual_methods"`
	EquivalenceClasses int            `json:"equivalence_classes"`
	Functions          int            `json:"functions"`
	Sites              int            `json:"sites"`
	Rewrites           int            `json:"rewrites"`
	Suppressed         int            `json:"suppressed"`
	ByRule             map[string]int `json:"by_rule"`
	Duration           time.Duration  `json:"duration"`
}
