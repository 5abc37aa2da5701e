package utils

import "strings"

// MatchPath checks an ANT-style path pattern against a request path.
// Supported pattern atoms, per path segment:
//   - '?' matches exactly one character
//   - '*' matches any sequence of characters within a segment (including none)
//   - '**' as a whole segment matches zero or more segments
//
// Patterns are compared segment-wise, so "/admin/*" matches "/admin/users" but
// not "/admin/users/1", while "/admin/**" matches both.
func MatchPath(pattern, path string) bool {
	return matchSegments(splitPath(pattern), splitPath(path))
}

// CheckPattern rejects malformed ANT patterns before they reach the policy
// index. A '**' mixed with other characters inside one segment is ambiguous
// and treated as malformed.
func CheckPattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return errEmptyPattern
	}
	for _, seg := range splitPath(pattern) {
		if seg != "**" && strings.Contains(seg, "**") {
			return &PatternError{Pattern: pattern, Segment: seg}
		}
	}
	return nil
}

// PatternError reports a malformed segment within an ANT pattern
type PatternError struct {
	Pattern string
	Segment string
}

func (e *PatternError) Error() string {
	return "malformed path pattern " + e.Pattern + ": segment " + e.Segment
}

type patternErr string

func (e patternErr) Error() string { return string(e) }

const errEmptyPattern = patternErr("empty path pattern")

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		// '**' swallows zero or more leading segments
		if matchSegments(pattern[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchSegments(pattern, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	if !matchSegment(pattern[0], path[0]) {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}

// matchSegment matches one segment with '*' and '?' wildcards
func matchSegment(pattern, value string) bool {
	pIdx, vIdx := 0, 0
	star, starV := -1, 0
	for vIdx < len(value) {
		switch {
		case pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == value[vIdx]):
			pIdx++
			vIdx++
		case pIdx < len(pattern) && pattern[pIdx] == '*':
			star = pIdx
			starV = vIdx
			pIdx++
		case star != -1:
			pIdx = star + 1
			starV++
			vIdx = starV
		default:
			return false
		}
	}
	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(pattern)
}
