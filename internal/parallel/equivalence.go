package parallel

import (
	"fmt"
	"strings"
)

// Equivalence decides when two agent outputs state the same thing. Outputs
// with equal canonical forms are equivalent.
type Equivalence interface {
	Canonical(output string) string
}

// EquivalenceFunc adapts a function to the Equivalence interface.
type EquivalenceFunc func(output string) string

func (f EquivalenceFunc) Canonical(output string) string { return f(output) }

// Exact treats outputs as equivalent only when they are byte-identical.
var Exact = EquivalenceFunc(func(s string) string { return s })

// Normalized ignores surrounding whitespace, whitespace runs and case.
var Normalized = EquivalenceFunc(func(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
})

// EquivalenceByName returns the named equivalence.
func EquivalenceByName(name string) (Equivalence, error) {
	switch name {
	case "", "normalized":
		return Normalized, nil
	case "exact":
		return Exact, nil
	}
	return nil, fmt.Errorf("unknown equivalence %q", name)
}
