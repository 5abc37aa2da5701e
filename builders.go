package pdp

import (
	"strings"

	"github.com/google/uuid"
)

// Builders provide a fluent API for assembling policies and hierarchy records
// in code, mirroring what the console's authoring flow produces.

// PolicyBuilder builds a Policy
type PolicyBuilder struct {
	p *Policy
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: &Policy{ID: uuid.NewString(), Enabled: true}}
}

func (b *PolicyBuilder) ID(id string) *PolicyBuilder         { b.p.ID = id; return b }
func (b *PolicyBuilder) Name(n string) *PolicyBuilder        { b.p.Name = n; return b }
func (b *PolicyBuilder) Description(d string) *PolicyBuilder { b.p.Description = d; return b }
func (b *PolicyBuilder) Effect(e Effect) *PolicyBuilder      { b.p.Effect = e; return b }
func (b *PolicyBuilder) Priority(p int) *PolicyBuilder       { b.p.Priority = p; return b }
func (b *PolicyBuilder) Enabled(enabled bool) *PolicyBuilder { b.p.Enabled = enabled; return b }

func (b *PolicyBuilder) URLTarget(pattern, httpMethod string) *PolicyBuilder {
	b.p.Targets = append(b.p.Targets, Target{Type: TargetURL, Identifier: pattern, HTTPMethod: httpMethod})
	return b
}

func (b *PolicyBuilder) MethodTarget(signature string) *PolicyBuilder {
	b.p.Targets = append(b.p.Targets, Target{Type: TargetMethod, Identifier: signature})
	return b
}

// Rule appends a rule whose conditions all run in the PRE phase.
func (b *PolicyBuilder) Rule(description string, expressions ...string) *PolicyBuilder {
	return b.PhasedRule(description, PhasePre, expressions...)
}

// PhasedRule appends a rule with every condition in the given phase.
func (b *PolicyBuilder) PhasedRule(description string, phase AuthorizationPhase, expressions ...string) *PolicyBuilder {
	r := Rule{Description: description}
	for _, expr := range expressions {
		r.Conditions = append(r.Conditions, Condition{Expression: expr, Phase: phase})
	}
	b.p.Rules = append(b.p.Rules, r)
	return b
}

func (b *PolicyBuilder) Build() *Policy { return b.p }

// FromDraft materializes an advisor draft into a savable policy with a fresh id.
func FromDraft(d *PolicyDraft) *Policy {
	return &Policy{
		ID:          uuid.NewString(),
		Name:        d.Name,
		Description: d.Description,
		Effect:      d.Effect,
		Priority:    d.Priority,
		Targets:     append([]Target(nil), d.Targets...),
		Rules:       append([]Rule(nil), d.Rules...),
		Enabled:     true,
	}
}

// HierarchyBuilder builds a RoleHierarchy record line by line
type HierarchyBuilder struct {
	h     *RoleHierarchy
	lines []string
}

func NewHierarchyBuilder(name string) *HierarchyBuilder {
	return &HierarchyBuilder{h: &RoleHierarchy{ID: uuid.NewString(), Name: name}}
}

func (b *HierarchyBuilder) ID(id string) *HierarchyBuilder { b.h.ID = id; return b }

func (b *HierarchyBuilder) Relation(senior, junior string) *HierarchyBuilder {
	b.lines = append(b.lines, senior+" > "+junior)
	return b
}

func (b *HierarchyBuilder) Build() *RoleHierarchy {
	b.h.Spec = strings.Join(b.lines, "\n")
	return b.h
}
