// Package resolver locates the interactive elements of the title and player
// pages using ordered selector strategies. The host markup varies between
// experiment cohorts, so every target is described by a cascade of selectors
// rather than a single one.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

// Strategy is one way of finding a target.
type Strategy struct {
	Name string
	Find func(ctx context.Context, q dom.Queryer) ([]dom.Element, error)
}

// Match is the result set of the strategy that won.
type Match struct {
	Strategy string
	Elements []dom.Element
}

// Found reports whether any strategy produced elements.
func (m Match) Found() bool { return len(m.Elements) > 0 }

// FirstMatch evaluates strategies in order and returns the first non-empty
// result set. Later strategies are never evaluated once one has matched, and
// result sets are never merged.
func FirstMatch(ctx context.Context, q dom.Queryer, strategies []Strategy) (Match, error) {
	for _, s := range strategies {
		els, err := s.Find(ctx, q)
		if err != nil {
			return Match{}, fmt.Errorf("strategy %q: %w", s.Name, err)
		}
		if len(els) > 0 {
			return Match{Strategy: s.Name, Elements: els}, nil
		}
	}
	return Match{}, nil
}

// Selector is a strategy that returns every element matching selector.
func Selector(selector string) Strategy {
	return Filtered(selector, nil)
}

// Filtered is Selector with a per-element filter applied.
func Filtered(selector string, keep func(dom.Element) bool) Strategy {
	return Strategy{
		Name: selector,
		Find: func(ctx context.Context, q dom.Queryer) ([]dom.Element, error) {
			els, err := q.QueryAll(ctx, selector)
			if err != nil {
				return nil, err
			}
			if keep == nil {
				return els, nil
			}
			out := els[:0]
			for _, el := range els {
				if keep(el) {
					out = append(out, el)
				}
			}
			return out, nil
		},
	}
}

// dedupe keeps the first handle for every node.
func dedupe(els []dom.Element) []dom.Element {
	seen := make(map[string]struct{}, len(els))
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		if _, ok := seen[el.Key()]; ok {
			continue
		}
		seen[el.Key()] = struct{}{}
		out = append(out, el)
	}
	return out
}

func trimmedText(el dom.Element) string {
	return strings.TrimSpace(el.Text())
}

// label is the accessible label, falling back to visible text.
func label(el dom.Element) string {
	if l := strings.TrimSpace(el.Attr("aria-label")); l != "" {
		return l
	}
	return trimmedText(el)
}

// Label returns a short description of el for logs.
func Label(el dom.Element) string {
	l := label(el)
	if len(l) > 100 {
		l = l[:100]
	}
	return l
}

var watchHref = regexp.MustCompile(`(?i)^/watch/\d+`)
