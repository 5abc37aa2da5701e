package pdp

import (
	"regexp"
	"sort"
	"strings"
)

// ============================================================================
// CONDITION COMPATIBILITY ANALYZER
// ============================================================================
//
// The analyzer is the authoring-time gatekeeper: it infers which context
// variables a managed resource can supply at decision time and filters the
// condition-template catalog down to templates that can actually run there.
// It is a pure function over its inputs and safe for concurrent authoring
// sessions.

// universalVariables are always available regardless of the guarded resource
var universalVariables = []string{
	"request", "clientIp", "session", "isBusinessHours", "currentTime", "authentication", "ai",
}

// paramTypeVariables maps a declared parameter type's simple name to the
// conventional variable it contributes. Unmapped types fall back to the
// lower-camel-cased simple name. This replaces runtime type inspection with an
// explicit, testable table.
var paramTypeVariables = map[string]string{
	"Long":    "id",
	"Integer": "id",
	"Short":   "id",
	"UUID":    "id",
	"String":  "name",
	"Boolean": "flag",
	"Date":    "date",
	"Instant": "date",
}

var identTokenRe = regexp.MustCompile(`#([A-Za-z_][A-Za-z0-9_]*)`)

// TemplateCompatibility is the analyzer's per-template verdict, including the
// missing-variable set for operator feedback on incompatibility.
type TemplateCompatibility struct {
	Template         *ConditionTemplate `json:"template"`
	Compatible       bool               `json:"compatible"`
	Reason           string             `json:"reason,omitempty"`
	MissingVariables []string           `json:"missing_variables,omitempty"`
	Score            int                `json:"score"`
}

// AvailableVariables infers the context variables a resource can supply:
// the universal set, one variable per declared parameter, and #returnObject
// when the resource returns a value.
func AvailableVariables(resource *ManagedResource) []string {
	seen := make(map[string]bool, len(universalVariables)+len(resource.ParameterTypes)+1)
	out := make([]string, 0, len(universalVariables)+len(resource.ParameterTypes)+1)
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range universalVariables {
		add(v)
	}
	for _, v := range variablesFromParameters(resource.ParameterTypes) {
		add(v)
	}
	if returnsValue(resource.ReturnType) {
		add("returnObject")
	}
	return out
}

func variablesFromParameters(paramTypes []string) []string {
	out := make([]string, 0, len(paramTypes))
	for _, pt := range paramTypes {
		simple, ok := simpleTypeName(pt)
		if !ok {
			continue // unparsable parameter types contribute nothing
		}
		if v, mapped := paramTypeVariables[simple]; mapped {
			out = append(out, v)
			continue
		}
		out = append(out, lowerCamel(simple))
	}
	return out
}

// simpleTypeName reduces a declared type string ("java.util.List<Group>",
// "com.example.Group", "Long[]") to its simple outer name.
func simpleTypeName(t string) (string, bool) {
	t = strings.TrimSpace(t)
	if t == "" {
		return "", false
	}
	if i := strings.IndexByte(t, '<'); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSuffix(t, "[]")
	t = strings.TrimSuffix(t, "...")
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		t = t[i+1:]
	}
	if t == "" {
		return "", false
	}
	for i := 0; i < len(t); i++ {
		c := t[i]
		if i == 0 && !isIdentStart(c) {
			return "", false
		}
		if i > 0 && !isIdentPart(c) && c != '$' {
			return "", false
		}
	}
	return t, true
}

func lowerCamel(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func returnsValue(returnType string) bool {
	rt := strings.TrimSpace(returnType)
	return rt != "" && rt != "void" && rt != "Void"
}

var bulkAccessorRe = regexp.MustCompile(`(?i)^(get|find|list)All`)

// IsAbacApplicable decides whether attribute conditions make sense for a
// resource at all. URL resources always qualify. Method resources need
// something to condition on: at least one parameter, or a return value for
// POST-phase conditions. Bulk "getAll" style accessors have no per-instance
// subject and are excluded by name.
func IsAbacApplicable(resource *ManagedResource) (bool, string) {
	if resource.Type == TargetURL {
		return true, ""
	}
	name := methodSimpleName(resource.Identifier)
	if bulkAccessorRe.MatchString(name) {
		return false, "bulk accessor methods have no per-instance subject"
	}
	if len(resource.ParameterTypes) > 0 {
		return true, ""
	}
	if returnsValue(resource.ReturnType) {
		return true, ""
	}
	return false, "method takes no parameters and returns no value"
}

// methodSimpleName extracts "deleteUser" from "com.x.UserService.deleteUser(Long)"
func methodSimpleName(signature string) string {
	s := signature
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// RequiredVariables extracts the #identifier tokens a template references
func RequiredVariables(t *ConditionTemplate) []string {
	matches := identTokenRe.FindAllStringSubmatch(t.SpelTemplate, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// RecommendationScore ranks a template for the condition picker. Base score by
// classification, adjusted down for risk and complexity, clamped to [0,100].
func RecommendationScore(t *ConditionTemplate) int {
	var score int
	switch t.Classification {
	case ClassificationUniversal:
		score = 90
	case ClassificationContextDependent:
		score = 70
	case ClassificationCustomComplex:
		score = 50
	default:
		return 0
	}
	switch t.RiskLevel {
	case RiskLow:
		score += 10
	case RiskMedium:
		// no adjustment
	case RiskHigh:
		score -= 15
	}
	penalty := t.ComplexityScore
	if penalty > 20 {
		penalty = 20
	}
	if penalty > 0 {
		score -= penalty
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// AnalyzeConditions evaluates every catalog template against a resource.
// UNIVERSAL templates are compatible unconditionally; everything else requires
// ABAC applicability plus a satisfiable variable set. The result order is
// deterministic: compatible first by descending score, then name, followed by
// incompatible templates in catalog order.
func AnalyzeConditions(resource *ManagedResource, catalog []*ConditionTemplate) []TemplateCompatibility {
	applicable, whyNot := IsAbacApplicable(resource)
	available := make(map[string]bool)
	for _, v := range AvailableVariables(resource) {
		available[v] = true
	}

	results := make([]TemplateCompatibility, 0, len(catalog))
	for _, t := range catalog {
		tc := TemplateCompatibility{Template: t, Score: RecommendationScore(t)}
		if t.Classification == ClassificationUniversal {
			tc.Compatible = true
			results = append(results, tc)
			continue
		}
		if !applicable {
			tc.Reason = "ABAC not applicable to this method: " + whyNot
			results = append(results, tc)
			continue
		}
		var missing []string
		for _, required := range RequiredVariables(t) {
			if !available[required] {
				missing = append(missing, "#"+required)
			}
		}
		if len(missing) > 0 {
			tc.Reason = "missing variable: " + strings.Join(missing, ", ")
			tc.MissingVariables = missing
			results = append(results, tc)
			continue
		}
		tc.Compatible = true
		results = append(results, tc)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Compatible != results[j].Compatible {
			return results[i].Compatible
		}
		if !results[i].Compatible {
			return false // keep catalog order among incompatible entries
		}
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Template.Name < results[j].Template.Name
	})
	return results
}

// CompatibleConditions filters the catalog to templates the resource can run,
// ranked by recommendation score.
func CompatibleConditions(resource *ManagedResource, catalog []*ConditionTemplate) []*ConditionTemplate {
	out := make([]*ConditionTemplate, 0, len(catalog))
	for _, tc := range AnalyzeConditions(resource, catalog) {
		if tc.Compatible {
			out = append(out, tc.Template)
		}
	}
	return out
}
