// Package suppress implements comment-based suppression of call site rewrites.
package suppress

import (
	"maps"
	"regexp"
	"strings"
)

// Checker handles nolint and lint:ignore comment suppression.
type Checker struct {
	// suppressions maps file and line to the directive found there.
	suppressions map[Position]*Suppression
}

// Position is a 1-based source line in a file.
type Position struct {
	File string
	Line int
}

// Suppression represents a parsed suppression directive.
type Suppression struct {
	Position Position
	Reason   string
	Type     SuppressionType
}

// SuppressionType represents different types of suppression comments.
type SuppressionType int

const (
	// SuppressionNolint represents //nolint:devirt comments.
	SuppressionNolint SuppressionType = iota

	// SuppressionLintIgnore represents //lint:ignore devirt comments.
	SuppressionLintIgnore
)

// Suppression patterns for different comment styles.
var (
	// nolintPattern matches //nolint:devirt comments
	nolintPattern = regexp.MustCompile(`//\s*nolint:devirt(?:\s+//\s*(.+))?$`)

	// lintIgnorePattern matches //lint:ignore devirt comments
	lintIgnorePattern = regexp.MustCompile(`//\s*lint:ignore\s+devirt(?:\s+(.+))?`)

	// genericNolintPattern matches //nolint comments without specific linter
	genericNolintPattern = regexp.MustCompile(`//\s*nolint(?:\s|$)`)

	// nolintWithMultipleRules matches nolint with multiple comma-separated rules
	nolintWithMultipleRules = regexp.MustCompile(`//\s*nolint:([^/]+)`)
)

// NewChecker creates a new suppression checker.
func NewChecker() *Checker {
	return &Checker{
		suppressions: make(map[Position]*Suppression),
	}
}

// Add records the comment text found at line of file. It reports whether the
// comment is a suppression directive.
func (sc *Checker) Add(file string, line int, text string) bool {
	pos := Position{File: file, Line: line}
	suppression := parseComment(pos, text)
	if suppression == nil {
		return false
	}
	sc.suppressions[pos] = suppression
	return true
}

// parseComment parses a comment to check if it's a suppression directive.
func parseComment(pos Position, text string) *Suppression {
	text = strings.TrimSpace(text)

	if matches := nolintPattern.FindStringSubmatch(text); matches != nil {
		return &Suppression{
			Position: pos,
			Reason:   strings.TrimSpace(matches[1]),
			Type:     SuppressionNolint,
		}
	}

	if matches := lintIgnorePattern.FindStringSubmatch(text); matches != nil {
		return &Suppression{
			Position: pos,
			Reason:   strings.TrimSpace(matches[1]),
			Type:     SuppressionLintIgnore,
		}
	}

	if genericNolintPattern.MatchString(text) {
		return &Suppression{
			Position: pos,
			Type:     SuppressionNolint,
		}
	}

	if matches := nolintWithMultipleRules.FindStringSubmatch(text); len(matches) > 1 {
		for rule := range strings.SplitSeq(matches[1], ",") {
			if strings.TrimSpace(rule) != "devirt" {
				continue
			}
			// Extract reason if present.
			reason := ""
			if _, after, ok := strings.Cut(strings.TrimPrefix(text, "//"), "//"); ok {
				reason = strings.TrimSpace(after)
			}
			return &Suppression{
				Position: pos,
				Reason:   reason,
				Type:     SuppressionNolint,
			}
		}
	}

	return nil
}

// IsSuppressed checks whether a call site on line of file is suppressed by a
// directive on the same line or the line immediately before it.
func (sc *Checker) IsSuppressed(file string, line int) (bool, string) {
	suppression, ok := sc.suppressions[Position{File: file, Line: line}]
	if !ok {
		suppression, ok = sc.suppressions[Position{File: file, Line: line - 1}]
	}
	if !ok {
		return false, ""
	}
	if suppression.Reason == "" {
		return true, "suppressed"
	}
	return true, suppression.Reason
}

// Len returns the number of recorded directives.
func (sc *Checker) Len() int { return len(sc.suppressions) }

// Clear clears all suppressions.
func (sc *Checker) Clear() {
	sc.suppressions = make(map[Position]*Suppression)
}

func (sc *Checker) getAllSuppressions() map[Position]*Suppression {
	result := make(map[Position]*Suppression)
	maps.Copy(result, sc.suppressions)
	return result
}
