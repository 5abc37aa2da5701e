package pdp

import (
	"strings"

	"github.com/onjsdnjs/identity-admin-sub001/utils"
)

// ============================================================================
// POLICY INDEX
// ============================================================================
//
// The index is an immutable snapshot keyed by target type and identifier
// prefix, so candidate lookup touches only the policies whose patterns could
// possibly match instead of scanning the whole set. Reload builds a fresh
// snapshot and swaps it atomically; readers never observe a partial rebuild.

type policyIndex struct {
	// urlByPrefix buckets URL policies by the first literal path segment of
	// each pattern; patterns that open with a wildcard land in urlWild.
	urlByPrefix map[string][]*Policy
	urlWild     []*Policy

	// methods maps exact method signatures to their policies
	methods map[string][]*Policy

	total int
}

// buildIndex validates every target pattern and constructs the snapshot.
// A malformed pattern in a stored policy is a configuration fault, not
// something to skip silently.
func buildIndex(policies []*Policy) (*policyIndex, error) {
	idx := &policyIndex{
		urlByPrefix: make(map[string][]*Policy),
		methods:     make(map[string][]*Policy),
	}
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		idx.total++
		for _, t := range p.Targets {
			switch t.Type {
			case TargetURL:
				if err := utils.CheckPattern(t.Identifier); err != nil {
					return nil, &ConfigurationFault{PolicyID: p.ID, Pattern: t.Identifier, Reason: err.Error()}
				}
				prefix, literal := firstSegment(t.Identifier)
				if literal {
					idx.urlByPrefix[prefix] = appendOnce(idx.urlByPrefix[prefix], p)
				} else {
					idx.urlWild = appendOnce(idx.urlWild, p)
				}
			case TargetMethod:
				idx.methods[t.Identifier] = appendOnce(idx.methods[t.Identifier], p)
			default:
				return nil, &ConfigurationFault{PolicyID: p.ID, Pattern: t.Identifier, Reason: "unknown target type " + string(t.Type)}
			}
		}
	}
	for k := range idx.urlByPrefix {
		sortPolicies(idx.urlByPrefix[k])
	}
	sortPolicies(idx.urlWild)
	for k := range idx.methods {
		sortPolicies(idx.methods[k])
	}
	return idx, nil
}

// candidates returns the policies whose target set matches the request,
// ordered by ascending priority.
func (idx *policyIndex) candidates(rt RequestTarget) []*Policy {
	var pool []*Policy
	switch rt.Type {
	case TargetMethod:
		pool = idx.methods[rt.Identifier]
	case TargetURL:
		prefix, _ := firstSegment(rt.Identifier)
		bucket := idx.urlByPrefix[prefix]
		if len(idx.urlWild) == 0 {
			pool = bucket
		} else {
			pool = make([]*Policy, 0, len(bucket)+len(idx.urlWild))
			pool = append(pool, bucket...)
			for _, p := range idx.urlWild {
				pool = appendOnce(pool, p)
			}
		}
	}

	out := make([]*Policy, 0, len(pool))
	for _, p := range pool {
		for _, t := range p.Targets {
			if t.matches(rt) {
				out = append(out, p)
				break
			}
		}
	}
	sortPolicies(out)
	return out
}

// firstSegment returns the first path segment and whether it is literal
// (free of wildcards). "/admin/**" yields ("admin", true); "/**" and "/*"
// yield a non-literal result.
func firstSegment(pattern string) (string, bool) {
	p := strings.Trim(pattern, "/")
	if p == "" {
		return "", false
	}
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if strings.ContainsAny(p, "*?") {
		return p, false
	}
	return p, true
}

func appendOnce(list []*Policy, p *Policy) []*Policy {
	for _, existing := range list {
		if existing.ID == p.ID {
			return list
		}
	}
	return append(list, p)
}
