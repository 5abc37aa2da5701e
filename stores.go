package pdp

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================
//
// Persistence layout is the store's concern; the engine only reads during
// Reload and writes through the authoring wrappers.

// PolicyStore manages policy persistence
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, id string) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	ListPolicies(ctx context.Context) ([]*Policy, error)
	ListPoliciesByTargetType(ctx context.Context, tt TargetType) ([]*Policy, error)
}

// RoleStore manages roles and role-hierarchy records
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)

	SaveHierarchy(ctx context.Context, h *RoleHierarchy) error
	GetHierarchy(ctx context.Context, id string) (*RoleHierarchy, error)
	ListHierarchies(ctx context.Context) ([]*RoleHierarchy, error)
	// ActivateHierarchy marks the record active and deactivates every other
	ActivateHierarchy(ctx context.Context, id string) error
}

// ConditionTemplateStore is the read-only catalog of condition templates
type ConditionTemplateStore interface {
	PutTemplate(ctx context.Context, t *ConditionTemplate) error
	GetTemplate(ctx context.Context, name string) (*ConditionTemplate, error)
	ListTemplates(ctx context.Context) ([]*ConditionTemplate, error)
}

// ManagedResourceStore holds guarded-resource descriptors produced by the
// external scanner
type ManagedResourceStore interface {
	RegisterResource(ctx context.Context, r *ManagedResource) error
	GetResource(ctx context.Context, id string) (*ManagedResource, error)
	ListResources(ctx context.Context) ([]*ManagedResource, error)
}

// AuthorityStore resolves a principal's directly granted authorities. It is
// used by the context-building helper, never on the decision hot path.
type AuthorityStore interface {
	GrantAuthority(ctx context.Context, principalID, authority string) error
	RevokeAuthority(ctx context.Context, principalID, authority string) error
	ListAuthorities(ctx context.Context, principalID string) ([]string, error)
}

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*Policy)}
}

func (s *MemoryPolicyStore) CreatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.policies[p.ID] = p
	return nil
}

func (s *MemoryPolicyStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return &NotFoundError{Kind: "policy", ID: p.ID}
	}
	p.UpdatedAt = time.Now()
	s.policies[p.ID] = p
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return &NotFoundError{Kind: "policy", ID: id}
	}
	delete(s.policies, id)
	return nil
}

func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, &NotFoundError{Kind: "policy", ID: id}
	}
	return p, nil
}

func (s *MemoryPolicyStore) ListPolicies(ctx context.Context) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sortPolicies(out)
	return out, nil
}

func (s *MemoryPolicyStore) ListPoliciesByTargetType(ctx context.Context, tt TargetType) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Policy, 0)
	for _, p := range s.policies {
		for _, t := range p.Targets {
			if t.Type == tt {
				out = append(out, p)
				break
			}
		}
	}
	sortPolicies(out)
	return out, nil
}

type MemoryRoleStore struct {
	mu          sync.RWMutex
	roles       map[string]*Role
	hierarchies map[string]*RoleHierarchy
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{
		roles:       make(map[string]*Role),
		hierarchies: make(map[string]*RoleHierarchy),
	}
}

func (s *MemoryRoleStore) CreateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.CreatedAt = time.Now()
	s.roles[r.ID] = r
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, &NotFoundError{Kind: "role", ID: id}
	}
	return r, nil
}

func (s *MemoryRoleStore) ListRoles(ctx context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryRoleStore) SaveHierarchy(ctx context.Context, h *RoleHierarchy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.hierarchies[h.ID]; ok {
		h.CreatedAt = existing.CreatedAt
	} else {
		h.CreatedAt = time.Now()
	}
	h.UpdatedAt = time.Now()
	s.hierarchies[h.ID] = h
	return nil
}

func (s *MemoryRoleStore) GetHierarchy(ctx context.Context, id string) (*RoleHierarchy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hierarchies[id]
	if !ok {
		return nil, &NotFoundError{Kind: "role hierarchy", ID: id}
	}
	return h, nil
}

func (s *MemoryRoleStore) ListHierarchies(ctx context.Context) ([]*RoleHierarchy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RoleHierarchy, 0, len(s.hierarchies))
	for _, h := range s.hierarchies {
		out = append(out, h)
	}
	return out, nil
}

func (s *MemoryRoleStore) ActivateHierarchy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.hierarchies[id]
	if !ok {
		return &NotFoundError{Kind: "role hierarchy", ID: id}
	}
	for _, h := range s.hierarchies {
		h.Active = false
	}
	target.Active = true
	target.UpdatedAt = time.Now()
	return nil
}

type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*ConditionTemplate
	order     []string
}

func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]*ConditionTemplate)}
}

// PutTemplate seeds the catalog; templates are read-only once published
func (s *MemoryTemplateStore) PutTemplate(ctx context.Context, t *ConditionTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.Name]; !ok {
		s.order = append(s.order, t.Name)
	}
	s.templates[t.Name] = t
	return nil
}

func (s *MemoryTemplateStore) GetTemplate(ctx context.Context, name string) (*ConditionTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	if !ok {
		return nil, &NotFoundError{Kind: "condition template", ID: name}
	}
	return t, nil
}

func (s *MemoryTemplateStore) ListTemplates(ctx context.Context) ([]*ConditionTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ConditionTemplate, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.templates[name])
	}
	return out, nil
}

type MemoryResourceStore struct {
	mu        sync.RWMutex
	resources map[string]*ManagedResource
}

func NewMemoryResourceStore() *MemoryResourceStore {
	return &MemoryResourceStore{resources: make(map[string]*ManagedResource)}
}

func (s *MemoryResourceStore) RegisterResource(ctx context.Context, r *ManagedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.ID] = r
	return nil
}

func (s *MemoryResourceStore) GetResource(ctx context.Context, id string) (*ManagedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, &NotFoundError{Kind: "managed resource", ID: id}
	}
	return r, nil
}

func (s *MemoryResourceStore) ListResources(ctx context.Context) ([]*ManagedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ManagedResource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	return out, nil
}

type MemoryAuthorityStore struct {
	mu     sync.RWMutex
	grants map[string][]string
}

func NewMemoryAuthorityStore() *MemoryAuthorityStore {
	return &MemoryAuthorityStore{grants: make(map[string][]string)}
}

func (s *MemoryAuthorityStore) GrantAuthority(ctx context.Context, principalID, authority string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.grants[principalID] {
		if a == authority {
			return nil
		}
	}
	s.grants[principalID] = append(s.grants[principalID], authority)
	return nil
}

func (s *MemoryAuthorityStore) RevokeAuthority(ctx context.Context, principalID, authority string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.grants[principalID]
	for i, a := range list {
		if a == authority {
			s.grants[principalID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryAuthorityStore) ListAuthorities(ctx context.Context, principalID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.grants[principalID]...), nil
}
