package pdp

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// POLICY OPTIMIZATION ADVISOR
// ============================================================================
//
// The advisor runs offline over the stored policy set. It detects functional
// duplicates via a canonical signature and proposes merges of duplicate-target
// policies. Proposals are never auto-applied; an administrator reviews them.

// PolicySignature computes the canonical form used for duplicate detection:
// effect, the sorted target keys, and the sorted set of every condition
// expression across all rules. Two policies with equal signatures decide
// identically for every request.
func PolicySignature(p *Policy) string {
	targets := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		targets = append(targets, t.key())
	}
	sort.Strings(targets)

	var conditions []string
	for _, r := range p.Rules {
		for _, c := range r.Conditions {
			conditions = append(conditions, string(c.Phase)+":"+strings.TrimSpace(c.Expression))
		}
	}
	sort.Strings(conditions)

	return string(p.Effect) + "|" + strings.Join(targets, ",") + "|" + strings.Join(conditions, "&&")
}

// targetSignature is the target-only part of the canonical form
func targetSignature(p *Policy) string {
	targets := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		targets = append(targets, t.key())
	}
	sort.Strings(targets)
	return strings.Join(targets, ",")
}

// DuplicateGroup is a set of policies sharing one canonical signature
type DuplicateGroup struct {
	Signature string   `json:"signature"`
	PolicyIDs []string `json:"policy_ids"`
}

// FindDuplicates groups policies by canonical signature and reports every
// group with more than one member.
func FindDuplicates(policies []*Policy) []DuplicateGroup {
	bySig := make(map[string][]string)
	for _, p := range policies {
		sig := PolicySignature(p)
		bySig[sig] = append(bySig[sig], p.ID)
	}
	out := make([]DuplicateGroup, 0)
	for sig, ids := range bySig {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		out = append(out, DuplicateGroup{Signature: sig, PolicyIDs: ids})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out
}

// policyExpression renders a policy's full condition as one expression:
// rules OR-ed together, each rule its conditions AND-ed.
func policyExpression(p *Policy) string {
	rules := make([]string, 0, len(p.Rules))
	for _, r := range p.Rules {
		conds := make([]string, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			conds = append(conds, strings.TrimSpace(c.Expression))
		}
		if len(conds) == 1 {
			rules = append(rules, conds[0])
			continue
		}
		rules = append(rules, "("+strings.Join(conds, " and ")+")")
	}
	if len(rules) == 1 {
		return rules[0]
	}
	return strings.Join(rules, " or ")
}

// ProposeMerge builds a draft policy that OR-combines the condition
// expressions of policies sharing identical targets and effect. The inputs
// must also agree on phase: mixing PRE and POST conditions in one merged
// expression would change when the condition can run.
func ProposeMerge(policies []*Policy) (*PolicyDraft, error) {
	if len(policies) < 2 {
		return nil, &ValidationError{Field: "policies", Reason: "merge requires at least two policies"}
	}
	first := policies[0]
	firstTargets := targetSignature(first)
	phase := PhasePre
	if len(first.Rules) > 0 && len(first.Rules[0].Conditions) > 0 {
		phase = first.Rules[0].Conditions[0].Phase
	}
	for _, p := range policies[1:] {
		if p.Effect != first.Effect {
			return nil, &ValidationError{Field: "effect", Reason: fmt.Sprintf("policy %s has effect %s, expected %s", p.ID, p.Effect, first.Effect)}
		}
		if targetSignature(p) != firstTargets {
			return nil, &ValidationError{Field: "targets", Reason: fmt.Sprintf("policy %s targets differ from %s", p.ID, first.ID)}
		}
	}
	for _, p := range policies {
		for _, r := range p.Rules {
			for _, c := range r.Conditions {
				if c.Phase != phase {
					return nil, &ValidationError{Field: "rules", Reason: fmt.Sprintf("policy %s mixes %s and %s conditions; merge one phase at a time", p.ID, phase, c.Phase)}
				}
			}
		}
	}

	parts := make([]string, 0, len(policies))
	names := make([]string, 0, len(policies))
	minPriority := first.Priority
	for _, p := range policies {
		parts = append(parts, "("+policyExpression(p)+")")
		names = append(names, p.Name)
		if p.Priority < minPriority {
			minPriority = p.Priority
		}
	}
	merged := strings.Join(parts, " or ")
	if _, err := Parse(merged); err != nil {
		return nil, err
	}

	draft := &PolicyDraft{
		Name:        "merged: " + strings.Join(names, " + "),
		Description: fmt.Sprintf("proposed merge of %d duplicate-target policies", len(policies)),
		Effect:      first.Effect,
		Priority:    minPriority,
		Targets:     append([]Target(nil), first.Targets...),
		Rules: []Rule{{
			Description: "merged conditions",
			Conditions:  []Condition{{Expression: merged, Phase: phase}},
		}},
	}
	return draft, nil
}

// FindDuplicatePolicies runs duplicate detection over the policy store
func (e *Engine) FindDuplicatePolicies(ctx context.Context) ([]DuplicateGroup, error) {
	policies, err := e.policyStore.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	return FindDuplicates(policies), nil
}

// ProposeMerge loads the named policies and builds a merge proposal
func (e *Engine) ProposeMerge(ctx context.Context, ids []string) (*PolicyDraft, error) {
	policies := make([]*Policy, 0, len(ids))
	for _, id := range ids {
		p, err := e.policyStore.GetPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return ProposeMerge(policies)
}
