package dom

import (
	"fmt"
	"regexp"
	"slices"
)

// ClickRule describes which controls the delegated click listener treats as
// qualifying. It is plain data so the same rule can be evaluated in Go and
// rendered into the page helper script.
type ClickRule struct {
	// Container is the selector used to find the enclosing control of a
	// click target, e.g. "button".
	Container string `json:"container"`
	// Identifiers are accepted values of the IdentifierAttr attribute.
	Identifiers    []string `json:"identifiers"`
	IdentifierAttr string   `json:"identifierAttr"`
	// LabelPattern is matched case-insensitively against both the
	// aria-label and the text content. Empty disables the check.
	LabelPattern string `json:"labelPattern"`
	// ClassNames are legacy class names; any one qualifies.
	ClassNames []string `json:"classNames"`
}

// Compile validates the rule and returns a matcher for it.
func (r ClickRule) Compile() (*RuleMatcher, error) {
	m := &RuleMatcher{rule: r}
	if r.LabelPattern != "" {
		re, err := regexp.Compile("(?i)" + r.LabelPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid label pattern %q: %w", r.LabelPattern, err)
		}
		m.label = re
	}
	return m, nil
}

// RuleMatcher evaluates a ClickRule against elements.
type RuleMatcher struct {
	rule  ClickRule
	label *regexp.Regexp
}

// Rule returns the rule the matcher was compiled from.
func (m *RuleMatcher) Rule() ClickRule { return m.rule }

// Match reports whether el qualifies. Any single check is sufficient.
func (m *RuleMatcher) Match(el Element) bool {
	if el == nil {
		return false
	}
	if m.rule.IdentifierAttr != "" && slices.Contains(m.rule.Identifiers, el.Attr(m.rule.IdentifierAttr)) {
		return true
	}
	if m.label != nil && (m.label.MatchString(el.Attr("aria-label")) || m.label.MatchString(el.Text())) {
		return true
	}
	for _, c := range m.rule.ClassNames {
		if el.HasClass(c) {
			return true
		}
	}
	return false
}
