package utils

import "testing"

func TestMatchPathSegments(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/admin/users", "/admin/users", true},
		{"/admin/users", "/admin/orders", false},
		{"/admin/*", "/admin/users", true},
		{"/admin/*", "/admin/users/1", false},
		{"/admin/**", "/admin/users/1", true},
		{"/admin/**", "/admin", true},
		{"/admin/**/edit", "/admin/users/1/edit", true},
		{"/admin/**/edit", "/admin/edit", true},
		{"/admin/**/edit", "/admin/users/1/view", false},
		{"/files/report-?.pdf", "/files/report-1.pdf", true},
		{"/files/report-?.pdf", "/files/report-12.pdf", false},
		{"/api/*/detail", "/api/users/detail", true},
		{"/api/us*rs", "/api/users", true},
		{"/", "/", true},
		{"/**", "/anything/at/all", true},
	}
	for _, c := range cases {
		if got := MatchPath(c.pattern, c.path); got != c.want {
			t.Errorf("MatchPath(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestCheckPatternRejectsMixedDoubleStar(t *testing.T) {
	if err := CheckPattern("/admin/**foo/bar"); err == nil {
		t.Fatal("expected error for '**' mixed within a segment")
	}
	if err := CheckPattern("/admin/a**"); err == nil {
		t.Fatal("expected error for trailing '**' glued to a segment")
	}
	if err := CheckPattern(""); err == nil {
		t.Fatal("expected error for empty pattern")
	}
	if err := CheckPattern("/admin/**/users"); err != nil {
		t.Fatalf("valid pattern rejected: %v", err)
	}
}
