package pdp

import (
	"context"
	"fmt"
	"hash"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/onjsdnjs/identity-admin-sub001/logger"
	"github.com/onjsdnjs/identity-admin-sub001/utils"
)

// ============================================================================
// DECISION ENGINE
// ============================================================================
//
// The engine is read-mostly: decisions run on every guarded request against an
// immutable index snapshot, while edits are rare administrator actions
// serialized behind a mutex. Reload rebuilds the snapshot and swaps it
// atomically, so readers that began before a swap complete against the old
// snapshot without blocking. Decide performs no I/O.

type Engine struct {
	policyStore   PolicyStore
	roleStore     RoleStore
	templateStore ConditionTemplateStore
	resourceStore ManagedResourceStore
	authorities   AuthorityStore // optional, used by BuildContext only

	index     atomic.Pointer[policyIndex]
	hierarchy atomic.Pointer[HierarchySnapshot]

	// decisionCache and cacheTTL are read on every Decide and may be tuned by
	// ApplyConfig while serving, hence atomic.
	decisionCache atomic.Pointer[ristretto.Cache]
	cacheTTL      atomic.Int64 // nanoseconds

	logger logger.Logger
	now    func() time.Time

	reloadMu sync.Mutex
}

// EngineOption configures an Engine at construction time
type EngineOption func(*Engine) error

// WithDecisionCache enables the ristretto decision cache with the given
// sizing. Entries expire after the cache TTL and the whole cache is dropped
// on Reload.
func WithDecisionCache(numCounters, maxCost, bufferItems int64) EngineOption {
	return func(e *Engine) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return err
		}
		e.decisionCache.Store(cache)
		return nil
	}
}

// WithDecisionCacheTTL overrides the default 1s decision cache entry lifetime
func WithDecisionCacheTTL(d time.Duration) EngineOption {
	return func(e *Engine) error {
		e.cacheTTL.Store(int64(d))
		return nil
	}
}

// WithClock injects a time source, mainly for tests
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// WithAuthorityStore installs the principal -> authority resolver used by
// BuildContext
func WithAuthorityStore(s AuthorityStore) EngineOption {
	return func(e *Engine) error {
		e.authorities = s
		return nil
	}
}

func NewEngine(
	policyStore PolicyStore,
	roleStore RoleStore,
	templateStore ConditionTemplateStore,
	resourceStore ManagedResourceStore,
	opts ...EngineOption,
) (*Engine, error) {
	e := &Engine{
		policyStore:   policyStore,
		roleStore:     roleStore,
		templateStore: templateStore,
		resourceStore: resourceStore,
		logger:        logger.NewNullLogger(),
		now:           time.Now,
	}
	e.cacheTTL.Store(int64(time.Second))
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	empty, _ := buildIndex(nil)
	e.index.Store(empty)
	e.hierarchy.Store(&HierarchySnapshot{})
	return e, nil
}

// Reload rebuilds the candidate index from the policy store and invalidates
// the decision cache. Every policy or hierarchy mutation must call it before
// the mutation is considered complete; otherwise decisions observe stale
// state.
func (e *Engine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	policies, err := e.policyStore.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("reload: list policies: %w", err)
	}
	idx, err := buildIndex(policies)
	if err != nil {
		return err
	}
	e.index.Store(idx)
	e.invalidateDecisionCache()
	e.logger.Info("policy index reloaded", "policies", idx.total)
	return nil
}

// FindCandidates returns all enabled policies whose target set matches the
// request, ordered by ascending priority.
func (e *Engine) FindCandidates(target RequestTarget) []*Policy {
	return e.index.Load().candidates(target)
}

// Decide evaluates the request against the current policy snapshot. The first
// policy (in priority order) with a satisfied rule determines the verdict;
// when nothing matches the verdict is NO_MATCH and the enforcement point
// applies its own default.
func (e *Engine) Decide(target RequestTarget, authCtx *AuthorizationContext) *Decision {
	return e.decide(target, authCtx, false)
}

// Explain is Decide with a per-policy evaluation trace for admin tooling
func (e *Engine) Explain(target RequestTarget, authCtx *AuthorizationContext) *Decision {
	return e.decide(target, authCtx, true)
}

func (e *Engine) decide(target RequestTarget, authCtx *AuthorizationContext, includeTrace bool) *Decision {
	start := e.now()
	decision := &Decision{Verdict: VerdictNoMatch, Timestamp: start}

	cacheKey := ""
	if !includeTrace && authCtx.phase() == PhasePre {
		cacheKey = e.buildCacheKey(target, authCtx)
		if cached := e.getCachedDecision(cacheKey); cached != nil {
			return cached
		}
	}

	evalCtx := authCtx.withHierarchy(e.hierarchy.Load())
	candidates := e.index.Load().candidates(target)
	for _, p := range candidates {
		satisfied, evalErr := policySatisfied(p, evalCtx)
		if includeTrace {
			if evalErr != nil {
				decision.Trace = append(decision.Trace, fmt.Sprintf("policy=%s degraded rule: %v", p.Name, evalErr))
			}
			decision.Trace = append(decision.Trace, fmt.Sprintf("policy=%s priority=%d satisfied=%v", p.Name, p.Priority, satisfied))
		}
		if evalErr != nil {
			// a failing condition only excludes its own rule; log and move on
			e.logger.Debug("condition evaluation degraded", "policy", p.ID, "error", evalErr.Error())
		}
		if satisfied {
			decision.Verdict = Verdict(p.Effect)
			decision.PolicyID = p.ID
			decision.PolicyName = p.Name
			decision.Reason = fmt.Sprintf("matched policy %s (priority %d)", p.Name, p.Priority)
			break
		}
	}
	if decision.Verdict == VerdictNoMatch {
		decision.Reason = "no matching policy"
	}

	e.logger.Info("decision",
		"target", string(target.Type)+":"+target.Identifier,
		"verdict", string(decision.Verdict),
		"policy", decision.PolicyID,
		"duration_us", int(e.now().Sub(start).Microseconds()),
	)
	if cacheKey != "" {
		e.setCachedDecision(cacheKey, decision)
	}
	return decision
}

// DecisionRequest pairs a request target with its context for batch decisions
type DecisionRequest struct {
	Target  RequestTarget
	Context *AuthorizationContext
}

// DecideBatch evaluates all requests against the same snapshot
func (e *Engine) DecideBatch(requests []DecisionRequest) []*Decision {
	out := make([]*Decision, len(requests))
	for i, req := range requests {
		out[i] = e.Decide(req.Target, req.Context)
	}
	return out
}

// Simulate evaluates a single (possibly unsaved) policy against a target and
// context without touching the installed policy set.
func (e *Engine) Simulate(p *Policy, target RequestTarget, authCtx *AuthorizationContext) (bool, error) {
	matched := false
	for _, t := range p.Targets {
		if t.Type == TargetURL {
			if err := utils.CheckPattern(t.Identifier); err != nil {
				return false, &ConfigurationFault{PolicyID: p.ID, Pattern: t.Identifier, Reason: err.Error()}
			}
		}
		if t.matches(target) {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	return policySatisfied(p, authCtx.withHierarchy(e.hierarchy.Load()))
}

// ============================================================================
// AUTHORING OPERATIONS
// ============================================================================
//
// Each mutation validates, writes through the store, then reloads the index
// before returning: write policy -> reload is the consistency invariant of
// the whole subsystem.

func (e *Engine) CreatePolicy(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := e.policyStore.CreatePolicy(ctx, p); err != nil {
		return err
	}
	return e.Reload(ctx)
}

func (e *Engine) UpdatePolicy(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := e.policyStore.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	return e.Reload(ctx)
}

func (e *Engine) DeletePolicy(ctx context.Context, id string) error {
	if err := e.policyStore.DeletePolicy(ctx, id); err != nil {
		return err
	}
	return e.Reload(ctx)
}

// ValidateHierarchy checks a specification against the roles currently known
// to the role store.
func (e *Engine) ValidateHierarchy(ctx context.Context, spec string) error {
	roles, err := e.roleStore.ListRoles(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return ValidateHierarchy(spec, names)
}

// ActivateHierarchy validates the stored specification, deactivates every
// other record, installs the flattened snapshot and reloads the engine. Role
// changes can change which authorities a principal effectively holds, hence
// which policies match.
func (e *Engine) ActivateHierarchy(ctx context.Context, id string) error {
	record, err := e.roleStore.GetHierarchy(ctx, id)
	if err != nil {
		return err
	}
	if err := e.ValidateHierarchy(ctx, record.Spec); err != nil {
		return err
	}
	snapshot, err := NewHierarchySnapshot(record.Spec)
	if err != nil {
		return err
	}
	if err := e.roleStore.ActivateHierarchy(ctx, id); err != nil {
		return err
	}
	e.hierarchy.Store(snapshot)
	e.logger.Info("role hierarchy activated", "hierarchy", id)
	return e.Reload(ctx)
}

// ActiveHierarchy returns the installed snapshot
func (e *Engine) ActiveHierarchy() *HierarchySnapshot {
	return e.hierarchy.Load()
}

// CompatibleConditionsFor loads the resource descriptor and catalog and runs
// the compatibility analysis, for the authoring UI's condition picker.
func (e *Engine) CompatibleConditionsFor(ctx context.Context, resourceID string) ([]TemplateCompatibility, error) {
	resource, err := e.resourceStore.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	catalog, err := e.templateStore.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	return AnalyzeConditions(resource, catalog), nil
}

// BuildContext assembles an authorization context for a principal, resolving
// granted authorities through the authority store when one is configured.
// This is the caller-side step that may do I/O; Decide itself never does.
func (e *Engine) BuildContext(ctx context.Context, principal *Principal, req *RequestAttributes) (*AuthorizationContext, error) {
	if principal != nil && len(principal.Authorities) == 0 && e.authorities != nil {
		granted, err := e.authorities.ListAuthorities(ctx, principal.ID)
		if err != nil {
			return nil, err
		}
		principal.Authorities = granted
	}
	return &AuthorizationContext{
		Principal: principal,
		Request:   req,
		Now:       e.now(),
		Phase:     PhasePre,
	}, nil
}

// ============================================================================
// DECISION CACHE
// ============================================================================

// buildCacheKey covers every input a PRE-phase condition can read: the target,
// the principal's identity and authorities, the client address, and a digest
// of the session and caller-bound variables. Time-dependent conditions
// (isBusinessHours, currentTime) are only as stale as the cache TTL.
func (e *Engine) buildCacheKey(target RequestTarget, authCtx *AuthorizationContext) string {
	var b strings.Builder
	b.WriteString(string(target.Type))
	b.WriteByte('|')
	b.WriteString(target.Identifier)
	b.WriteByte('|')
	b.WriteString(target.HTTPMethod)
	b.WriteByte('|')
	if authCtx.Principal != nil {
		b.WriteString(authCtx.Principal.ID)
		b.WriteByte('|')
		auths := append([]string(nil), authCtx.Principal.Authorities...)
		sort.Strings(auths)
		b.WriteString(strings.Join(auths, ","))
	}
	b.WriteByte('|')
	if authCtx.Request != nil {
		b.WriteString(authCtx.Request.ClientIP)
	}
	h := fnv.New64a()
	if authCtx.Request != nil {
		hashVars(h, authCtx.Request.Session)
	}
	hashVars(h, authCtx.Extra)
	fmt.Fprintf(&b, "|%x", h.Sum64())
	return b.String()
}

// hashVars folds a variable map into h in deterministic key order
func hashVars(h hash.Hash64, vars map[string]any) {
	if len(vars) == 0 {
		return
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, vars[k])
	}
}

func (e *Engine) getCachedDecision(key string) *Decision {
	cache := e.decisionCache.Load()
	if cache == nil {
		return nil
	}
	if v, ok := cache.Get(key); ok {
		if d, ok := v.(*Decision); ok {
			return d
		}
	}
	return nil
}

func (e *Engine) setCachedDecision(key string, d *Decision) {
	cache := e.decisionCache.Load()
	if cache == nil {
		return
	}
	cache.SetWithTTL(key, d, 1, time.Duration(e.cacheTTL.Load()))
}

func (e *Engine) invalidateDecisionCache() {
	if cache := e.decisionCache.Load(); cache != nil {
		cache.Clear()
	}
}
