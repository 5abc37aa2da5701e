package pdp

import (
	"time"
)

// ============================================================================
// AUTHORIZATION CONTEXT
// ============================================================================

// Principal is the authenticated (or anonymous) subject of a request
type Principal struct {
	ID            string         `json:"id"`
	Username      string         `json:"username"`
	Authorities   []string       `json:"authorities"`
	Authenticated bool           `json:"authenticated"`
	Attrs         map[string]any `json:"attrs,omitempty"`
}

// RequestAttributes carries the per-request facts conditions may reference
type RequestAttributes struct {
	Path     string         `json:"path"`
	Method   string         `json:"method"`
	ClientIP string         `json:"client_ip"`
	Session  map[string]any `json:"session,omitempty"`
}

// AuthorizationContext is the bundle of runtime facts a condition expression
// is evaluated against. It is caller-owned and never mutated by the engine;
// the engine attaches the active role hierarchy to a shallow copy.
type AuthorizationContext struct {
	Principal    *Principal
	Request      *RequestAttributes
	Now          time.Time
	Phase        AuthorizationPhase
	ReturnObject any // only meaningful in the POST phase

	// Helpers is an injected capability namespace exposed as #ai. The engine
	// treats its values as opaque.
	Helpers map[string]any

	// Extra holds caller-bound variables such as #id or #group, typically
	// derived from the guarded method's parameters.
	Extra map[string]any

	// BusinessHours overrides the default working-hours predicate
	BusinessHours func(time.Time) bool

	hierarchy *HierarchySnapshot
}

// withHierarchy returns a shallow copy with the active hierarchy attached
func (c *AuthorizationContext) withHierarchy(h *HierarchySnapshot) *AuthorizationContext {
	dup := *c
	dup.hierarchy = h
	return &dup
}

func (c *AuthorizationContext) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

func (c *AuthorizationContext) phase() AuthorizationPhase {
	if c.Phase == "" {
		return PhasePre
	}
	return c.Phase
}

// isBusinessHours defaults to 09:00-18:00 on weekdays
func (c *AuthorizationContext) isBusinessHours() bool {
	t := c.now()
	if c.BusinessHours != nil {
		return c.BusinessHours(t)
	}
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= 9*60 && m < 18*60
}

// Var resolves a context variable by name (without the leading '#'). The
// universal variables mirror what the compatibility analyzer advertises as
// always available; anything else is looked up in Extra.
func (c *AuthorizationContext) Var(name string) (any, bool) {
	switch name {
	case "request":
		if c.Request == nil {
			return nil, false
		}
		return map[string]any{
			"path":     c.Request.Path,
			"method":   c.Request.Method,
			"clientIp": c.Request.ClientIP,
		}, true
	case "clientIp":
		if c.Request == nil {
			return nil, false
		}
		return c.Request.ClientIP, true
	case "session":
		if c.Request == nil || c.Request.Session == nil {
			return map[string]any{}, true
		}
		return c.Request.Session, true
	case "isBusinessHours":
		return c.isBusinessHours(), true
	case "currentTime":
		return c.now(), true
	case "authentication":
		if c.Principal == nil {
			return nil, false
		}
		return map[string]any{
			"name":          c.Principal.Username,
			"principal":     c.Principal.ID,
			"authorities":   c.EffectiveAuthorities(),
			"authenticated": c.Principal.Authenticated,
		}, true
	case "ai":
		if c.Helpers == nil {
			return map[string]any{}, true
		}
		return c.Helpers, true
	case "userId":
		if c.Principal == nil {
			return nil, false
		}
		return c.Principal.ID, true
	case "returnObject":
		if c.phase() != PhasePost {
			return nil, false
		}
		return c.ReturnObject, true
	}
	if c.Extra != nil {
		if v, ok := c.Extra[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// EffectiveAuthorities returns the principal's granted authorities expanded
// through the active role hierarchy (senior implies junior). The result always
// contains the directly granted authorities.
func (c *AuthorizationContext) EffectiveAuthorities() []string {
	if c.Principal == nil {
		return nil
	}
	if c.hierarchy == nil {
		return c.Principal.Authorities
	}
	return c.hierarchy.Expand(c.Principal.Authorities)
}

// HasAuthority reports whether the principal effectively holds the authority
func (c *AuthorizationContext) HasAuthority(authority string) bool {
	for _, a := range c.EffectiveAuthorities() {
		if a == authority {
			return true
		}
	}
	return false
}
