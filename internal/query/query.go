// Package query runs JSONPath selectors over merged document trees.
package query

import (
	"fmt"

	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/strata/internal/doc"
)

// Select evaluates a JSONPath selector (e.g. "$.render.targets[*].name")
// against root and returns the matches in document order. An absent root
// yields no matches.
func Select(root doc.Node, selector string) ([]doc.Node, error) {
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	if root == nil {
		return nil, nil
	}

	results := x.Get(doc.ToAny(root))
	matches := make([]doc.Node, 0, len(results))
	for _, r := range results {
		n, err := doc.FromAny(r)
		if err != nil {
			return nil, fmt.Errorf("jsonpath '%s': %w", selector, err)
		}
		matches = append(matches, n)
	}
	return matches, nil
}
