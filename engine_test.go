package pdp

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	eng, err := NewEngine(
		NewMemoryPolicyStore(),
		NewMemoryRoleStore(),
		NewMemoryTemplateStore(),
		NewMemoryResourceStore(),
		opts...,
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func adminContext() *AuthorizationContext {
	return &AuthorizationContext{
		Principal: &Principal{
			ID:            "u-admin",
			Username:      "alice",
			Authorities:   []string{"ROLE_ADMIN"},
			Authenticated: true,
		},
		Request: &RequestAttributes{Path: "/admin/reports/q3", Method: "GET", ClientIP: "10.0.0.5"},
		Now:     time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func mustCreate(t *testing.T, eng *Engine, p *Policy) {
	t.Helper()
	if err := eng.CreatePolicy(context.Background(), p); err != nil {
		t.Fatalf("create policy %s: %v", p.ID, err)
	}
}

func TestFirstMatchWinsByPriority(t *testing.T) {
	eng := newTestEngine(t)

	allow := NewPolicyBuilder().
		ID("p-allow").Name("admin-reports").Effect(EffectAllow).Priority(1).
		URLTarget("/admin/reports/**", "GET").
		Rule("admins", "hasRole('ADMIN')").
		Build()
	deny := NewPolicyBuilder().
		ID("p-deny").Name("admin-lockdown").Effect(EffectDeny).Priority(10).
		URLTarget("/admin/**", "").
		Rule("everyone", "isAuthenticated()").
		Build()
	mustCreate(t, eng, deny)
	mustCreate(t, eng, allow)

	target := RequestTarget{Type: TargetURL, Identifier: "/admin/reports/q3", HTTPMethod: "GET"}
	d := eng.Decide(target, adminContext())
	if d.Verdict != VerdictAllow {
		t.Fatalf("verdict = %s, want ALLOW (priority 1 beats priority 10)", d.Verdict)
	}
	if d.PolicyID != "p-allow" {
		t.Fatalf("policy = %s, want p-allow", d.PolicyID)
	}

	// a non-admin falls through to the deny policy
	ctx := adminContext()
	ctx.Principal.Authorities = []string{"ROLE_USER"}
	d = eng.Decide(target, ctx)
	if d.Verdict != VerdictDeny || d.PolicyID != "p-deny" {
		t.Fatalf("verdict = %s policy = %s, want DENY via p-deny", d.Verdict, d.PolicyID)
	}
}

func TestNoMatchVerdict(t *testing.T) {
	eng := newTestEngine(t)
	target := RequestTarget{Type: TargetURL, Identifier: "/public/home", HTTPMethod: "GET"}
	d := eng.Decide(target, adminContext())
	if d.Verdict != VerdictNoMatch {
		t.Fatalf("verdict = %s, want NO_MATCH", d.Verdict)
	}
	if d.PolicyID != "" {
		t.Fatalf("no policy should be attributed, got %s", d.PolicyID)
	}
}

func TestDisabledPoliciesAreInvisible(t *testing.T) {
	eng := newTestEngine(t)
	p := NewPolicyBuilder().
		ID("p-off").Name("disabled").Effect(EffectDeny).Priority(1).
		URLTarget("/admin/**", "").
		Rule("all", "isAuthenticated()").
		Enabled(false).
		Build()
	mustCreate(t, eng, p)

	target := RequestTarget{Type: TargetURL, Identifier: "/admin/x", HTTPMethod: "GET"}
	if d := eng.Decide(target, adminContext()); d.Verdict != VerdictNoMatch {
		t.Fatalf("disabled policy matched: %s", d.Verdict)
	}
}

func TestRuleIsConjunctionPolicyIsDisjunction(t *testing.T) {
	eng := newTestEngine(t)
	p := &Policy{
		ID: "p-1", Name: "conjunction", Effect: EffectAllow, Priority: 1, Enabled: true,
		Targets: []Target{{Type: TargetURL, Identifier: "/docs/**"}},
		Rules: []Rule{
			{Description: "both must hold", Conditions: []Condition{
				{Expression: "hasRole('ADMIN')", Phase: PhasePre},
				{Expression: "hasIpAddress('10.0.0.0/8')", Phase: PhasePre},
			}},
			{Description: "or auditor", Conditions: []Condition{
				{Expression: "hasRole('AUDITOR')", Phase: PhasePre},
			}},
		},
	}
	mustCreate(t, eng, p)
	target := RequestTarget{Type: TargetURL, Identifier: "/docs/1", HTTPMethod: "GET"}

	// admin from the wrong network fails rule 1, has no auditor role: no match
	ctx := adminContext()
	ctx.Request.ClientIP = "192.168.0.9"
	if d := eng.Decide(target, ctx); d.Verdict != VerdictNoMatch {
		t.Fatalf("verdict = %s, want NO_MATCH", d.Verdict)
	}

	// auditor satisfies the second rule alone
	ctx = adminContext()
	ctx.Principal.Authorities = []string{"ROLE_AUDITOR"}
	if d := eng.Decide(target, ctx); d.Verdict != VerdictAllow {
		t.Fatalf("verdict = %s, want ALLOW via second rule", d.Verdict)
	}
}

func TestEvaluationErrorDegradesRuleNotDecision(t *testing.T) {
	eng := newTestEngine(t)
	broken := &Policy{
		ID: "p-broken", Name: "needs-missing-var", Effect: EffectAllow, Priority: 1, Enabled: true,
		Targets: []Target{{Type: TargetURL, Identifier: "/docs/**"}},
		Rules: []Rule{{Conditions: []Condition{{Expression: "#department == 'SALES'", Phase: PhasePre}}}},
	}
	fallback := NewPolicyBuilder().
		ID("p-fallback").Name("fallback").Effect(EffectDeny).Priority(5).
		URLTarget("/docs/**", "").
		Rule("all", "isAuthenticated()").
		Build()
	mustCreate(t, eng, broken)
	mustCreate(t, eng, fallback)

	target := RequestTarget{Type: TargetURL, Identifier: "/docs/1", HTTPMethod: "GET"}
	d := eng.Decide(target, adminContext()) // context lacks #department
	if d.Verdict != VerdictDeny || d.PolicyID != "p-fallback" {
		t.Fatalf("verdict = %s policy = %s, want DENY via fallback", d.Verdict, d.PolicyID)
	}
}

func TestPhaseFiltering(t *testing.T) {
	eng := newTestEngine(t)
	p := &Policy{
		ID: "p-post", Name: "owner-only", Effect: EffectAllow, Priority: 1, Enabled: true,
		Targets: []Target{{Type: TargetMethod, Identifier: "com.example.DocService.getDoc(Long)"}},
		Rules:   []Rule{{Conditions: []Condition{{Expression: "#returnObject.ownerId == #userId", Phase: PhasePost}}}},
	}
	mustCreate(t, eng, p)
	target := RequestTarget{Type: TargetMethod, Identifier: "com.example.DocService.getDoc(Long)"}

	// PRE phase: the only rule has no PRE conditions, so nothing matches
	if d := eng.Decide(target, adminContext()); d.Verdict != VerdictNoMatch {
		t.Fatalf("PRE verdict = %s, want NO_MATCH", d.Verdict)
	}

	ctx := adminContext()
	ctx.Phase = PhasePost
	ctx.ReturnObject = map[string]any{"ownerId": "u-admin"}
	if d := eng.Decide(target, ctx); d.Verdict != VerdictAllow {
		t.Fatalf("POST verdict = %s, want ALLOW", d.Verdict)
	}
}

func TestHierarchyActivationChangesDecisions(t *testing.T) {
	eng := newTestEngine(t)
	roleStore := eng.roleStore.(*MemoryRoleStore)
	ctx := context.Background()
	for _, name := range []string{"ROLE_ADMIN", "ROLE_MANAGER"} {
		if err := roleStore.CreateRole(ctx, &Role{ID: name, Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	p := NewPolicyBuilder().
		ID("p-mgr").Name("manager-area").Effect(EffectAllow).Priority(1).
		URLTarget("/manage/**", "").
		Rule("managers", "hasRole('MANAGER')").
		Build()
	mustCreate(t, eng, p)

	target := RequestTarget{Type: TargetURL, Identifier: "/manage/team", HTTPMethod: "GET"}
	if d := eng.Decide(target, adminContext()); d.Verdict != VerdictNoMatch {
		t.Fatalf("before activation: verdict = %s, want NO_MATCH", d.Verdict)
	}

	h := &RoleHierarchy{ID: "h-1", Name: "default", Spec: "ROLE_ADMIN > ROLE_MANAGER"}
	if err := roleStore.SaveHierarchy(ctx, h); err != nil {
		t.Fatal(err)
	}
	if err := eng.ActivateHierarchy(ctx, "h-1"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if d := eng.Decide(target, adminContext()); d.Verdict != VerdictAllow {
		t.Fatalf("after activation: verdict = %s, want ALLOW via hierarchy", d.Verdict)
	}
}

func TestExplainTracesCandidates(t *testing.T) {
	eng := newTestEngine(t)
	p := NewPolicyBuilder().
		ID("p-1").Name("admin-reports").Effect(EffectAllow).Priority(1).
		URLTarget("/admin/**", "").
		Rule("admins", "hasRole('ADMIN')").
		Build()
	mustCreate(t, eng, p)

	target := RequestTarget{Type: TargetURL, Identifier: "/admin/reports", HTTPMethod: "GET"}
	d := eng.Explain(target, adminContext())
	if d.Verdict != VerdictAllow {
		t.Fatalf("verdict = %s", d.Verdict)
	}
	if len(d.Trace) == 0 {
		t.Fatal("expected a non-empty trace")
	}
}

func TestDecisionCacheInvalidatedOnReload(t *testing.T) {
	eng := newTestEngine(t,
		WithDecisionCache(1e4, 1<<20, 64),
		WithDecisionCacheTTL(time.Minute),
	)
	allow := NewPolicyBuilder().
		ID("p-allow").Name("open").Effect(EffectAllow).Priority(1).
		URLTarget("/data/**", "").
		Rule("all", "isAuthenticated()").
		Build()
	mustCreate(t, eng, allow)

	target := RequestTarget{Type: TargetURL, Identifier: "/data/1", HTTPMethod: "GET"}
	if d := eng.Decide(target, adminContext()); d.Verdict != VerdictAllow {
		t.Fatalf("first decide: %s", d.Verdict)
	}

	// deleting the policy reloads the index and must drop the cached ALLOW
	if err := eng.DeletePolicy(context.Background(), "p-allow"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		d := eng.Decide(target, adminContext())
		if d.Verdict == VerdictNoMatch {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stale cached verdict survived reload: %s", d.Verdict)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDecisionCacheKeyedByClientAddress(t *testing.T) {
	eng := newTestEngine(t,
		WithDecisionCache(1e4, 1<<20, 64),
		WithDecisionCacheTTL(time.Minute),
	)
	p := NewPolicyBuilder().
		ID("p-net").Name("internal-only").Effect(EffectAllow).Priority(1).
		URLTarget("/data/**", "").
		Rule("internal network", "hasIpAddress('10.0.0.0/8')").
		Build()
	mustCreate(t, eng, p)

	target := RequestTarget{Type: TargetURL, Identifier: "/data/1", HTTPMethod: "GET"}
	inside := adminContext()
	inside.Request.ClientIP = "10.0.0.5"
	if d := eng.Decide(target, inside); d.Verdict != VerdictAllow {
		t.Fatalf("inside network: %s", d.Verdict)
	}

	// same principal from outside the network must never see the cached ALLOW
	outside := adminContext()
	outside.Request.ClientIP = "203.0.113.9"
	if d := eng.Decide(target, outside); d.Verdict != VerdictNoMatch {
		t.Fatalf("outside network: verdict = %s, want NO_MATCH", d.Verdict)
	}
}

func TestDecisionCacheKeyedBySessionAndExtra(t *testing.T) {
	eng := newTestEngine(t,
		WithDecisionCache(1e4, 1<<20, 64),
		WithDecisionCacheTTL(time.Minute),
	)
	p := &Policy{
		ID: "p-mfa", Name: "mfa-and-owner", Effect: EffectAllow, Priority: 1, Enabled: true,
		Targets: []Target{{Type: TargetURL, Identifier: "/vault/**"}},
		Rules: []Rule{{Conditions: []Condition{
			{Expression: "#session.mfa == true", Phase: PhasePre},
			{Expression: "#tier == 'GOLD'", Phase: PhasePre},
		}}},
	}
	mustCreate(t, eng, p)

	target := RequestTarget{Type: TargetURL, Identifier: "/vault/k1", HTTPMethod: "GET"}
	ctx := adminContext()
	ctx.Request.Session = map[string]any{"mfa": true}
	ctx.Extra = map[string]any{"tier": "GOLD"}
	if d := eng.Decide(target, ctx); d.Verdict != VerdictAllow {
		t.Fatalf("mfa+gold: %s", d.Verdict)
	}

	weaker := adminContext()
	weaker.Request.Session = map[string]any{"mfa": false}
	weaker.Extra = map[string]any{"tier": "GOLD"}
	if d := eng.Decide(target, weaker); d.Verdict != VerdictNoMatch {
		t.Fatalf("no mfa: verdict = %s, want NO_MATCH", d.Verdict)
	}

	downgraded := adminContext()
	downgraded.Request.Session = map[string]any{"mfa": true}
	downgraded.Extra = map[string]any{"tier": "SILVER"}
	if d := eng.Decide(target, downgraded); d.Verdict != VerdictNoMatch {
		t.Fatalf("silver tier: verdict = %s, want NO_MATCH", d.Verdict)
	}
}

func TestDecideBatchSharesSnapshot(t *testing.T) {
	eng := newTestEngine(t)
	p := NewPolicyBuilder().
		ID("p-1").Name("open").Effect(EffectAllow).Priority(1).
		URLTarget("/data/**", "").
		Rule("all", "isAuthenticated()").
		Build()
	mustCreate(t, eng, p)

	reqs := make([]DecisionRequest, 5)
	for i := range reqs {
		reqs[i] = DecisionRequest{
			Target:  RequestTarget{Type: TargetURL, Identifier: fmt.Sprintf("/data/%d", i), HTTPMethod: "GET"},
			Context: adminContext(),
		}
	}
	decisions := eng.DecideBatch(reqs)
	if len(decisions) != 5 {
		t.Fatalf("got %d decisions", len(decisions))
	}
	for i, d := range decisions {
		if d.Verdict != VerdictAllow {
			t.Fatalf("request %d: %s", i, d.Verdict)
		}
	}
}

func TestSimulateUnsavedPolicy(t *testing.T) {
	eng := newTestEngine(t)
	draft := NewPolicyBuilder().
		Name("draft").Effect(EffectAllow).Priority(1).
		URLTarget("/admin/**", "").
		Rule("admins", "hasRole('ADMIN')").
		Build()

	target := RequestTarget{Type: TargetURL, Identifier: "/admin/x", HTTPMethod: "GET"}
	ok, err := eng.Simulate(draft, target, adminContext())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("draft should be satisfied for an admin")
	}

	other := RequestTarget{Type: TargetURL, Identifier: "/public/x", HTTPMethod: "GET"}
	ok, err = eng.Simulate(draft, other, adminContext())
	if err != nil || ok {
		t.Fatalf("non-matching target: ok=%v err=%v", ok, err)
	}
}

func TestBuildContextResolvesAuthorities(t *testing.T) {
	auth := NewMemoryAuthorityStore()
	ctx := context.Background()
	_ = auth.GrantAuthority(ctx, "u-1", "ROLE_ADMIN")
	_ = auth.GrantAuthority(ctx, "u-1", "PERM_X")

	eng := newTestEngine(t, WithAuthorityStore(auth))
	built, err := eng.BuildContext(ctx, &Principal{ID: "u-1", Authenticated: true}, &RequestAttributes{Path: "/x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(built.Principal.Authorities) != 2 {
		t.Fatalf("authorities = %v", built.Principal.Authorities)
	}
}

func TestCreatePolicyRejectsInvalid(t *testing.T) {
	eng := newTestEngine(t)
	bad := &Policy{ID: "p", Name: "no-rules", Effect: EffectAllow, Enabled: true,
		Targets: []Target{{Type: TargetURL, Identifier: "/x"}}}
	if err := eng.CreatePolicy(context.Background(), bad); err == nil {
		t.Fatal("expected validation error for policy without rules")
	}

	badPattern := NewPolicyBuilder().
		ID("p2").Name("bad-pattern").Effect(EffectAllow).
		URLTarget("/admin/**foo", "").
		Rule("all", "isAuthenticated()").
		Build()
	if err := eng.CreatePolicy(context.Background(), badPattern); err == nil {
		t.Fatal("expected validation error for malformed pattern")
	}
}
