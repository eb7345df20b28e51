package session

import (
	"errors"
	"fmt"
	"strings"

	"nlsql/agent"
)

// RenderError formats a failed query for the transcript: a headline, the
// step count and the full chain of wrapped errors.
func RenderError(err error, steps int) string {
	var b strings.Builder

	kind, ok := agent.KindOf(err)
	if !ok {
		kind = agent.KindProtocol
	}
	fmt.Fprintf(&b, "Error running query (%s): %v\n\n", kind, err)
	fmt.Fprintf(&b, "Steps completed: %d\n\n", steps)
	b.WriteString("Trace:\n")
	for i, e := range errorChain(err) {
		fmt.Fprintf(&b, "  %d. %T: %v\n", i+1, e, e)
	}
	return strings.TrimRight(b.String(), "\n")
}

// errorChain flattens err and everything it wraps, depth first.
func errorChain(err error) []error {
	var chain []error
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		chain = append(chain, e)
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		default:
			walk(errors.Unwrap(e))
		}
	}
	walk(err)
	return chain
}
