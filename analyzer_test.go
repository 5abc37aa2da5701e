package pdp

import (
	"strings"
	"testing"
)

func methodResource(sig string, params []string, returns string) *ManagedResource {
	return &ManagedResource{
		ID:             "res-test",
		Type:           TargetMethod,
		Identifier:     sig,
		ParameterTypes: params,
		ReturnType:     returns,
	}
}

func TestAvailableVariablesFromParameters(t *testing.T) {
	res := methodResource("com.example.DocService.getDoc(Long)", []string{"Long"}, "Document")
	vars := AvailableVariables(res)

	has := func(v string) bool {
		for _, x := range vars {
			if x == v {
				return true
			}
		}
		return false
	}
	for _, v := range []string{"request", "clientIp", "session", "isBusinessHours", "currentTime", "authentication", "ai"} {
		if !has(v) {
			t.Fatalf("universal variable %s missing from %v", v, vars)
		}
	}
	if !has("id") {
		t.Fatalf("Long parameter should contribute #id, got %v", vars)
	}
	if !has("returnObject") {
		t.Fatalf("non-void return should contribute #returnObject, got %v", vars)
	}
}

func TestAvailableVariablesFallbackNaming(t *testing.T) {
	res := methodResource("com.example.GroupService.rename(com.example.Group)", []string{"com.example.Group"}, "void")
	vars := AvailableVariables(res)
	found := false
	for _, v := range vars {
		if v == "group" {
			found = true
		}
		if v == "returnObject" {
			t.Fatal("void return must not contribute #returnObject")
		}
	}
	if !found {
		t.Fatalf("unmapped type should contribute lowerCamel name, got %v", vars)
	}
}

func TestAvailableVariablesSkipsUnparsableTypes(t *testing.T) {
	res := methodResource("m()", []string{"???", "java.util.List<Group>"}, "")
	vars := AvailableVariables(res)
	for _, v := range vars {
		if strings.Contains(v, "?") {
			t.Fatalf("unparsable type leaked into variables: %v", vars)
		}
	}
	has := false
	for _, v := range vars {
		if v == "list" {
			has = true
		}
	}
	if !has {
		t.Fatalf("generic type should reduce to its outer simple name, got %v", vars)
	}
}

func TestIsAbacApplicable(t *testing.T) {
	urlRes := &ManagedResource{ID: "r", Type: TargetURL, Identifier: "/admin/**"}
	if ok, _ := IsAbacApplicable(urlRes); !ok {
		t.Fatal("URL resources are always applicable")
	}

	bulk := methodResource("com.example.UserService.findAllUsers()", nil, "List<User>")
	if ok, reason := IsAbacApplicable(bulk); ok || reason == "" {
		t.Fatalf("bulk accessor should be excluded, got ok=%v reason=%q", ok, reason)
	}

	bare := methodResource("com.example.CacheService.flush()", nil, "void")
	if ok, _ := IsAbacApplicable(bare); ok {
		t.Fatal("no parameters and no return value means nothing to condition on")
	}

	withParam := methodResource("com.example.UserService.deleteUser(Long)", []string{"Long"}, "void")
	if ok, _ := IsAbacApplicable(withParam); !ok {
		t.Fatal("a parameter makes the method applicable")
	}

	postOnly := methodResource("com.example.UserService.current()", nil, "User")
	if ok, _ := IsAbacApplicable(postOnly); !ok {
		t.Fatal("a return value alone is enough for POST-phase conditions")
	}
}

func TestRecommendationScore(t *testing.T) {
	cases := []struct {
		tpl  ConditionTemplate
		want int
	}{
		{ConditionTemplate{Classification: ClassificationUniversal, RiskLevel: RiskLow}, 100},
		{ConditionTemplate{Classification: ClassificationUniversal, RiskLevel: RiskMedium}, 90},
		{ConditionTemplate{Classification: ClassificationContextDependent, RiskLevel: RiskHigh}, 55},
		{ConditionTemplate{Classification: ClassificationCustomComplex, RiskLevel: RiskLow, ComplexityScore: 30}, 40},
		{ConditionTemplate{Classification: ClassificationCustomComplex, RiskLevel: RiskHigh, ComplexityScore: 50}, 15},
		{ConditionTemplate{Classification: "BOGUS"}, 0},
	}
	for i, c := range cases {
		if got := RecommendationScore(&c.tpl); got != c.want {
			t.Errorf("case %d: score = %d, want %d", i, got, c.want)
		}
	}
}

func TestAnalyzeConditionsOrderingAndReasons(t *testing.T) {
	res := methodResource("com.example.DocService.getDoc(Long)", []string{"Long"}, "Document")
	catalog := []*ConditionTemplate{
		{Name: "owner-check", SpelTemplate: "#returnObject.ownerId == #authentication.principal", Classification: ClassificationContextDependent, RiskLevel: RiskMedium},
		{Name: "business-hours", SpelTemplate: "#isBusinessHours", Classification: ClassificationUniversal, RiskLevel: RiskLow},
		{Name: "department-match", SpelTemplate: "#department == 'SALES'", Classification: ClassificationContextDependent, RiskLevel: RiskLow},
	}

	results := AnalyzeConditions(res, catalog)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}

	// compatible entries first, by descending score
	if !results[0].Compatible || results[0].Template.Name != "business-hours" {
		t.Fatalf("first = %+v", results[0])
	}
	if !results[1].Compatible || results[1].Template.Name != "owner-check" {
		t.Fatalf("second = %+v", results[1])
	}
	last := results[2]
	if last.Compatible {
		t.Fatalf("department-match should be incompatible: %+v", last)
	}
	if !strings.Contains(last.Reason, "missing variable: #department") {
		t.Fatalf("reason = %q", last.Reason)
	}
	if len(last.MissingVariables) != 1 || last.MissingVariables[0] != "#department" {
		t.Fatalf("missing = %v", last.MissingVariables)
	}
}

func TestAnalyzeConditionsUniversalSurvivesInapplicableResource(t *testing.T) {
	bulk := methodResource("com.example.UserService.getAllUsers()", nil, "List<User>")
	catalog := []*ConditionTemplate{
		{Name: "business-hours", SpelTemplate: "#isBusinessHours", Classification: ClassificationUniversal, RiskLevel: RiskLow},
		{Name: "owner-check", SpelTemplate: "#returnObject.ownerId == #authentication.principal", Classification: ClassificationContextDependent, RiskLevel: RiskMedium},
	}
	results := AnalyzeConditions(bulk, catalog)
	if !results[0].Compatible {
		t.Fatal("universal templates stay compatible everywhere")
	}
	if results[1].Compatible {
		t.Fatal("context-dependent templates need an applicable resource")
	}
	if !strings.Contains(results[1].Reason, "ABAC not applicable") {
		t.Fatalf("reason = %q", results[1].Reason)
	}
}

func TestAnalyzeConditionsIsIdempotent(t *testing.T) {
	res := methodResource("com.example.DocService.getDoc(Long)", []string{"Long"}, "Document")
	catalog := []*ConditionTemplate{
		{Name: "a", SpelTemplate: "#id > 0", Classification: ClassificationContextDependent, RiskLevel: RiskLow},
		{Name: "b", SpelTemplate: "#isBusinessHours", Classification: ClassificationUniversal, RiskLevel: RiskLow},
	}
	first := AnalyzeConditions(res, catalog)
	second := AnalyzeConditions(res, catalog)
	if len(first) != len(second) {
		t.Fatal("result length changed between runs")
	}
	for i := range first {
		if first[i].Template.Name != second[i].Template.Name || first[i].Compatible != second[i].Compatible {
			t.Fatalf("run diverged at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}
