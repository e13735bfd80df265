package hal

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed or placeholder-laden tool input. It is
// resolved locally by the dispatcher and returned as a structured result,
// never propagated past it.
type ValidationError struct {
	Field  string   // Argument or token that failed
	Tokens []string // Offending placeholder tokens, when applicable
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Tokens) > 0 {
		return fmt.Sprintf("validation failed on %s: unresolved placeholder %s", e.Field, strings.Join(e.Tokens, ", "))
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// UnknownColumnError reports a column id outside the fixed pipeline set.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q", e.Column)
}

// DependencyUnavailableError reports an unreachable datastore or remote
// service. Tool calls surface it as a failed result; auto-move logs a
// diagnostic and leaves the ticket unmoved.
type DependencyUnavailableError struct {
	Dependency string
	Err        error
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyUnavailableError) Unwrap() error { return e.Err }

// PolicyDeniedError reports a tool that is intentionally disabled or
// unimplemented for this agent. It is a clear policy outcome, not a bug.
type PolicyDeniedError struct {
	Tool   string
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("tool %s denied: %s", e.Tool, e.Reason)
}

// AmbiguousSignalError reports that auto-move could not determine a ticket
// id or verdict from free text. It never causes a move; it always carries
// enough context to explain what was missing.
type AmbiguousSignalError struct {
	What    string // "ticket id" or "verdict"
	Excerpt string // Message excerpt that failed extraction
	Tried   []string
}

func (e *AmbiguousSignalError) Error() string {
	if len(e.Tried) > 0 {
		return fmt.Sprintf("could not determine %s (strategies tried: %s)", e.What, strings.Join(e.Tried, ", "))
	}
	return fmt.Sprintf("could not determine %s", e.What)
}
