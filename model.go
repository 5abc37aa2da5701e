package pdp

import (
	"sort"
	"strings"
	"time"

	"github.com/onjsdnjs/identity-admin-sub001/utils"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Effect is the outcome a policy contributes when one of its rules matches
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// TargetType distinguishes URL-pattern targets from method-signature targets
type TargetType string

const (
	TargetURL    TargetType = "URL"
	TargetMethod TargetType = "METHOD"
)

// AuthorizationPhase says when a condition runs relative to the guarded action.
// POST conditions may reference #returnObject; PRE conditions may not.
type AuthorizationPhase string

const (
	PhasePre  AuthorizationPhase = "PRE"
	PhasePost AuthorizationPhase = "POST"
)

// Verdict is the final outcome of a decision request
type Verdict string

const (
	VerdictAllow   Verdict = "ALLOW"
	VerdictDeny    Verdict = "DENY"
	VerdictNoMatch Verdict = "NO_MATCH" // no candidate policy matched; the PEP applies its own default
)

// Target is the match predicate that determines which requests a policy governs.
// For URL targets Identifier is an ANT-style path pattern; for METHOD targets it
// is a fully-qualified method signature. Empty HTTPMethod matches any method.
type Target struct {
	Type       TargetType `json:"type" yaml:"type"`
	Identifier string     `json:"identifier" yaml:"identifier"`
	HTTPMethod string     `json:"http_method,omitempty" yaml:"http_method,omitempty"`
}

// Condition is a boolean expression evaluated against the authorization context
type Condition struct {
	Expression string             `json:"expression" yaml:"expression"`
	Phase      AuthorizationPhase `json:"phase" yaml:"phase"`
}

// Rule is a conjunction: it is satisfied iff all of its conditions hold
type Rule struct {
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions  []Condition `json:"conditions" yaml:"conditions"`
}

// Policy is the aggregate root. Targets, rules and conditions have no identity
// of their own and live and die with their policy.
type Policy struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Effect      Effect    `json:"effect" yaml:"effect"`
	Priority    int       `json:"priority" yaml:"priority"` // lower number = evaluated first
	Targets     []Target  `json:"targets" yaml:"targets"`
	Rules       []Rule    `json:"rules" yaml:"rules"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Validate checks the structural invariants of a saved policy. Empty-condition
// rules are rejected here: a rule that is accidentally "always true" is a
// security hole, not a convenience.
func (p *Policy) Validate() error {
	if p.ID == "" {
		return &ValidationError{Field: "id", Reason: "policy ID is required"}
	}
	if p.Name == "" {
		return &ValidationError{Field: "name", Reason: "policy name is required"}
	}
	if p.Effect != EffectAllow && p.Effect != EffectDeny {
		return &ValidationError{Field: "effect", Reason: "effect must be ALLOW or DENY"}
	}
	if len(p.Targets) == 0 {
		return &ValidationError{Field: "targets", Reason: "policy must have at least one target"}
	}
	for i, t := range p.Targets {
		if err := t.validate(); err != nil {
			return &ValidationError{Field: "targets", Reason: err.Error(), Index: i}
		}
	}
	if len(p.Rules) == 0 {
		return &ValidationError{Field: "rules", Reason: "policy must have at least one rule"}
	}
	for i, r := range p.Rules {
		if len(r.Conditions) == 0 {
			return &ValidationError{Field: "rules", Reason: "rule must have at least one condition", Index: i}
		}
		for _, c := range r.Conditions {
			if strings.TrimSpace(c.Expression) == "" {
				return &ValidationError{Field: "rules", Reason: "condition expression must not be blank", Index: i}
			}
			if c.Phase != PhasePre && c.Phase != PhasePost {
				return &ValidationError{Field: "rules", Reason: "condition phase must be PRE or POST", Index: i}
			}
			if _, err := Parse(c.Expression); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t Target) validate() error {
	switch t.Type {
	case TargetURL:
		if t.Identifier == "" {
			return &ValidationError{Field: "identifier", Reason: "URL target requires a path pattern"}
		}
		if err := utils.CheckPattern(t.Identifier); err != nil {
			return &ValidationError{Field: "identifier", Reason: err.Error()}
		}
	case TargetMethod:
		if t.Identifier == "" {
			return &ValidationError{Field: "identifier", Reason: "METHOD target requires a method signature"}
		}
		if t.HTTPMethod != "" {
			return &ValidationError{Field: "http_method", Reason: "METHOD targets do not carry an HTTP method"}
		}
	default:
		return &ValidationError{Field: "type", Reason: "target type must be URL or METHOD"}
	}
	return nil
}

// key is the canonical string form used in signatures and indexes
func (t Target) key() string {
	return string(t.Type) + ":" + t.Identifier + ":" + t.HTTPMethod
}

// PolicyDraft is an unsaved policy proposal, e.g. produced by the optimization
// advisor. It carries no identity until the authoring layer persists it.
type PolicyDraft struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Effect      Effect   `json:"effect"`
	Priority    int      `json:"priority"`
	Targets     []Target `json:"targets"`
	Rules       []Rule   `json:"rules"`
}

// ============================================================================
// ROLES & HIERARCHY
// ============================================================================

// Role is a named authority administrators can reference in hierarchy specs
type Role struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// RoleHierarchy is a textual "SENIOR > JUNIOR" specification. At most one
// record is active; activation installs the flattened relation into the
// running decision engine.
type RoleHierarchy struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Spec      string    `json:"spec" yaml:"spec"`
	Active    bool      `json:"active" yaml:"active"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// ============================================================================
// CONDITION CATALOG & MANAGED RESOURCES
// ============================================================================

// Classification is a closed variant over template kinds. The scorer matches
// exhaustively on it; there are no other values.
type Classification string

const (
	ClassificationUniversal        Classification = "UNIVERSAL"
	ClassificationContextDependent Classification = "CONTEXT_DEPENDENT"
	ClassificationCustomComplex    Classification = "CUSTOM_COMPLEX"
)

// RiskLevel grades how dangerous it is to get a template wrong
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ConditionTemplate is a read-only catalog entry the authoring UI offers to
// administrators. SpelTemplate contains #variable placeholders.
type ConditionTemplate struct {
	Name            string         `json:"name" yaml:"name"`
	Description     string         `json:"description,omitempty" yaml:"description,omitempty"`
	SpelTemplate    string         `json:"spel_template" yaml:"spel_template"`
	Classification  Classification `json:"classification" yaml:"classification"`
	RiskLevel       RiskLevel      `json:"risk_level" yaml:"risk_level"`
	ComplexityScore int            `json:"complexity_score" yaml:"complexity_score"`
}

// ManagedResource describes a guarded URL or method, supplied by an external
// scanner. The analyzer only reads it.
type ManagedResource struct {
	ID             string     `json:"id" yaml:"id"`
	Type           TargetType `json:"resource_type" yaml:"resource_type"`
	Identifier     string     `json:"resource_identifier" yaml:"resource_identifier"`
	ParameterTypes []string   `json:"parameter_types,omitempty" yaml:"parameter_types,omitempty"`
	ReturnType     string     `json:"return_type,omitempty" yaml:"return_type,omitempty"`
}

// ============================================================================
// DECISION TYPES
// ============================================================================

// RequestTarget identifies the request being decided: a path + HTTP method for
// URL resources, a fully-qualified signature for METHOD resources.
type RequestTarget struct {
	Type       TargetType
	Identifier string
	HTTPMethod string
}

// Decision is the result of evaluating a request against the policy set
type Decision struct {
	Verdict    Verdict   `json:"verdict"`
	PolicyID   string    `json:"policy_id,omitempty"`
	PolicyName string    `json:"policy_name,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Trace      []string  `json:"trace,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// matches reports whether the target governs the request. Patterns are
// validated at index build time, so this never fails on a loaded policy.
func (t Target) matches(rt RequestTarget) bool {
	if t.Type != rt.Type {
		return false
	}
	switch t.Type {
	case TargetMethod:
		return t.Identifier == rt.Identifier
	case TargetURL:
		if t.HTTPMethod != "" && !strings.EqualFold(t.HTTPMethod, rt.HTTPMethod) {
			return false
		}
		return utils.MatchPath(t.Identifier, rt.Identifier)
	}
	return false
}

// sortPolicies orders by ascending priority, then name for a stable order
func sortPolicies(ps []*Policy) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Priority != ps[j].Priority {
			return ps[i].Priority < ps[j].Priority
		}
		return ps[i].Name < ps[j].Name
	})
}
