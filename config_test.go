package pdp

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testConfig() *Config {
	return NewConfigBuilder().
		AddRole(&Role{ID: "ROLE_ADMIN", Name: "ROLE_ADMIN"}).
		AddRole(&Role{ID: "ROLE_MANAGER", Name: "ROLE_MANAGER"}).
		AddHierarchy(&RoleHierarchy{ID: "h-1", Name: "default", Spec: "ROLE_ADMIN > ROLE_MANAGER", Active: true}).
		AddPolicy(NewPolicyBuilder().
			ID("p-1").Name("manager-area").Effect(EffectAllow).Priority(1).
			URLTarget("/manage/**", "").
			Rule("managers", "hasRole('MANAGER')").
			Build()).
		AddTemplate(&ConditionTemplate{
			Name:           "business-hours",
			SpelTemplate:   "#isBusinessHours",
			Classification: ClassificationUniversal,
			RiskLevel:      RiskLow,
		}).
		AddResource(&ManagedResource{
			ID: "r-1", Type: TargetMethod,
			Identifier: "com.example.ReportService.getReport(Long)",
			ParameterTypes: []string{"Long"}, ReturnType: "com.example.Report",
		}).
		AddGrant("u-1", "ROLE_ADMIN").
		Build()
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := testConfig()
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	back, err := NewConfigLoader().LoadYAML(data)
	if err != nil {
		t.Fatal(err)
	}
	assertConfigEqual(t, cfg, back)
}

func TestConfigJSONRoundTrip(t *testing.T) {
	cfg := testConfig()
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	back, err := NewConfigLoader().LoadJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	assertConfigEqual(t, cfg, back)
}

func TestConfigBinaryRoundTrip(t *testing.T) {
	cfg := testConfig()
	data, err := EncodeBinaryConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	back, err := NewConfigLoader().LoadBinary(data)
	if err != nil {
		t.Fatal(err)
	}
	assertConfigEqual(t, cfg, back)

	p := back.Policies[0]
	if len(p.Targets) != 1 || p.Targets[0].Identifier != "/manage/**" {
		t.Fatalf("targets = %+v", p.Targets)
	}
	if len(p.Rules) != 1 || p.Rules[0].Conditions[0].Expression != "hasRole('MANAGER')" {
		t.Fatalf("rules = %+v", p.Rules)
	}
	if p.Rules[0].Conditions[0].Phase != PhasePre {
		t.Fatalf("phase = %s", p.Rules[0].Conditions[0].Phase)
	}
	r := back.Resources[0]
	if len(r.ParameterTypes) != 1 || r.ParameterTypes[0] != "Long" {
		t.Fatalf("parameter types = %v", r.ParameterTypes)
	}
	g := back.Grants[0]
	if g.PrincipalID != "u-1" || len(g.Authorities) != 1 {
		t.Fatalf("grant = %+v", g)
	}
}

func assertConfigEqual(t *testing.T, want, got *Config) {
	t.Helper()
	if got.Version != want.Version {
		t.Fatalf("version = %d, want %d", got.Version, want.Version)
	}
	if len(got.Policies) != len(want.Policies) {
		t.Fatalf("policies = %d, want %d", len(got.Policies), len(want.Policies))
	}
	for i := range want.Policies {
		if got.Policies[i].ID != want.Policies[i].ID {
			t.Fatalf("policy[%d] id = %s", i, got.Policies[i].ID)
		}
		if got.Policies[i].Effect != want.Policies[i].Effect {
			t.Fatalf("policy[%d] effect = %s", i, got.Policies[i].Effect)
		}
		if got.Policies[i].Priority != want.Policies[i].Priority {
			t.Fatalf("policy[%d] priority = %d", i, got.Policies[i].Priority)
		}
	}
	if len(got.Roles) != len(want.Roles) {
		t.Fatalf("roles = %d", len(got.Roles))
	}
	if len(got.Hierarchies) != len(want.Hierarchies) {
		t.Fatalf("hierarchies = %d", len(got.Hierarchies))
	}
	if len(got.Hierarchies) > 0 && got.Hierarchies[0].Spec != want.Hierarchies[0].Spec {
		t.Fatalf("hierarchy spec = %q", got.Hierarchies[0].Spec)
	}
	if len(got.Templates) != len(want.Templates) {
		t.Fatalf("templates = %d", len(got.Templates))
	}
	if len(got.Templates) > 0 && got.Templates[0].SpelTemplate != want.Templates[0].SpelTemplate {
		t.Fatalf("template expression = %q", got.Templates[0].SpelTemplate)
	}
	if got.Engine != want.Engine {
		t.Fatalf("engine config = %+v, want %+v", got.Engine, want.Engine)
	}
}

func TestConfigValidateRejectsBadHierarchy(t *testing.T) {
	cfg := testConfig()
	cfg.Hierarchies[0].Spec = "ROLE_ADMIN > ROLE_UNKNOWN"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown role in hierarchy")
	}
}

func TestConfigValidateRejectsBadPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Policies[0].Rules[0].Conditions[0].Expression = "hasRole("
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unparsable expression")
	}
}

func TestLoadBinaryRejectsBadMagic(t *testing.T) {
	if _, err := NewConfigLoader().LoadBinary([]byte{0xFF, 0xFF, 0x01, 0x00, 0x01, 0x00}); err == nil {
		t.Fatal("expected bad magic to be rejected")
	}
}

func TestApplyConfig(t *testing.T) {
	eng := newTestEngine(t, WithAuthorityStore(NewMemoryAuthorityStore()))
	cfg := testConfig()
	ctx := context.Background()
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// the hierarchy marked active must be installed and affect decisions
	target := RequestTarget{Type: TargetURL, Identifier: "/manage/team", HTTPMethod: "GET"}
	d := eng.Decide(target, adminContext())
	if d.Verdict != VerdictAllow {
		t.Fatalf("verdict = %s, want ALLOW via ROLE_ADMIN > ROLE_MANAGER", d.Verdict)
	}

	// grants are resolvable through BuildContext
	built, err := eng.BuildContext(ctx, &Principal{ID: "u-1", Authenticated: true}, &RequestAttributes{Path: "/manage/team", Method: "GET"})
	if err != nil {
		t.Fatal(err)
	}
	if len(built.Principal.Authorities) != 1 || built.Principal.Authorities[0] != "ROLE_ADMIN" {
		t.Fatalf("authorities = %v", built.Principal.Authorities)
	}

	// templates landed in the catalog
	compat, err := eng.CompatibleConditionsFor(ctx, "r-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(compat) != 1 {
		t.Fatalf("compatibility entries = %d", len(compat))
	}

	// repeated applies are idempotent
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if d := eng.Decide(target, adminContext()); d.Verdict != VerdictAllow {
		t.Fatalf("verdict after re-apply = %s", d.Verdict)
	}
}

// exercises ApplyConfig racing against live decisions; meaningful under -race
func TestApplyConfigConcurrentWithDecide(t *testing.T) {
	eng := newTestEngine(t)
	cfg := testConfig()
	ctx := context.Background()
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	target := RequestTarget{Type: TargetURL, Identifier: "/manage/team", HTTPMethod: "GET"}
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					eng.Decide(target, adminContext())
				}
			}
		}()
	}

	retuned := testConfig()
	retuned.Engine.DecisionCacheTTL = 250
	for i := 0; i < 10; i++ {
		if err := eng.ApplyConfig(ctx, retuned); err != nil {
			t.Errorf("apply %d: %v", i, err)
			break
		}
	}
	close(done)
	wg.Wait()

	if d := eng.Decide(target, adminContext()); d.Verdict != VerdictAllow {
		t.Fatalf("verdict after retuning = %s", d.Verdict)
	}
}

func TestApplyConfigSetsCacheTTL(t *testing.T) {
	eng := newTestEngine(t)
	cfg := NewConfigBuilder().
		EngineSettings(func(ec *EngineConfig) { ec.DecisionCacheTTL = 5000 }).
		Build()
	if err := eng.ApplyConfig(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := time.Duration(eng.cacheTTL.Load()); got != 5*time.Second {
		t.Fatalf("cacheTTL = %s", got)
	}
}
