package pdp

import "sync"

// parseCache memoizes parsed expressions (and expressions known to be
// unparsable) across decisions. Entries are *Expr or *ExpressionError.
var parseCache sync.Map

// ruleSatisfied applies the AND semantics of a rule for the context's phase:
// every condition of that phase must hold, and at least one such condition
// must exist. A rule carrying only POST conditions can never grant during PRE.
func ruleSatisfied(r Rule, ctx *AuthorizationContext) (bool, error) {
	phase := ctx.phase()
	evaluated := 0
	for _, c := range r.Conditions {
		if c.Phase != phase {
			continue
		}
		evaluated++
		ok, err := Evaluate(c.Expression, ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return evaluated > 0, nil
}

// policySatisfied applies the OR semantics across a policy's rules. An
// evaluation error degrades only the owning rule; sibling rules still run.
// The first error encountered is reported alongside the result for tracing.
func policySatisfied(p *Policy, ctx *AuthorizationContext) (bool, error) {
	var firstErr error
	for _, r := range p.Rules {
		ok, err := ruleSatisfied(r, ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, firstErr
		}
	}
	return false, firstErr
}
