package pdp

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// ERROR TAXONOMY
// ============================================================================
//
// Authoring-time errors (ValidationError, incompatibility reasons) are returned
// to the caller for correction and never auto-corrected. Decision-time
// expression errors degrade the owning rule to "not satisfied" and never abort
// the overall decision. ConfigurationFault indicates a corrupted stored policy
// and is always surfaced.

// ValidationError rejects invalid authoring input before any state change
type ValidationError struct {
	Field  string
	Reason string
	Index  int // position within a collection field, when meaningful
	Line   int // 1-based line number for hierarchy spec errors
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Field != "" {
		b.WriteString(" on " + e.Field)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	b.WriteString(": " + e.Reason)
	return b.String()
}

// ExpressionError reports an unparsable expression or a reference to a
// variable or function the context cannot supply. Missing variables are
// carried explicitly so the authoring UI can show them to the operator.
type ExpressionError struct {
	Expression string
	Reason     string
	Missing    []string // variable names, with leading '#'
}

func (e *ExpressionError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("expression %q: missing variable: %s", e.Expression, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("expression %q: %s", e.Expression, e.Reason)
}

// ConfigurationFault indicates a malformed target pattern in a stored policy.
// Unlike expression errors it is never swallowed: it means the store holds
// data the engine cannot safely act on.
type ConfigurationFault struct {
	PolicyID string
	Pattern  string
	Reason   string
}

func (e *ConfigurationFault) Error() string {
	return fmt.Sprintf("configuration fault in policy %s: pattern %q: %s", e.PolicyID, e.Pattern, e.Reason)
}

// NotFoundError reports an unknown policy/role/resource id on lookup
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// MissingVariables extracts the missing-variable set from an evaluation error,
// or nil if the error is of another kind.
func MissingVariables(err error) []string {
	var ee *ExpressionError
	if errors.As(err, &ee) {
		return ee.Missing
	}
	return nil
}
