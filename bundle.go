package pdp

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ============================================================================
// SIGNED POLICY BUNDLES
// ============================================================================
//
// Enforcement points that cache policies locally receive them as signed
// bundles, so a compromised transport cannot inject policy changes.

type SignedPolicyBundle struct {
	Policies   []*Policy         `json:"policies"`
	Signatures map[string]string `json:"signatures"` // policy id -> base64 signature
	Meta       map[string]any    `json:"meta,omitempty"`
}

// Checksum covers everything that affects a decision; timestamps are excluded
// so re-saving an unchanged policy keeps its signature valid.
func (p *Policy) Checksum() string {
	data, _ := json.Marshal(struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Effect   Effect   `json:"effect"`
		Priority int      `json:"priority"`
		Targets  []Target `json:"targets"`
		Rules    []Rule   `json:"rules"`
		Enabled  bool     `json:"enabled"`
	}{p.ID, p.Name, p.Effect, p.Priority, p.Targets, p.Rules, p.Enabled})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SignPolicy returns an ed25519 signature (base64) over the policy checksum
func SignPolicy(priv ed25519.PrivateKey, p *Policy) (string, error) {
	data, err := json.Marshal(struct {
		ID       string
		Checksum string
	}{
		ID:       p.ID,
		Checksum: p.Checksum(),
	})
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, data)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyPolicySignature verifies that signature matches the policy checksum
func VerifyPolicySignature(pub ed25519.PublicKey, p *Policy, sigB64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(struct {
		ID       string
		Checksum string
	}{
		ID:       p.ID,
		Checksum: p.Checksum(),
	})
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, data, sig), nil
}

// SignBundle signs each policy with priv and returns a SignedPolicyBundle
func SignBundle(priv ed25519.PrivateKey, policies []*Policy) (*SignedPolicyBundle, error) {
	b := &SignedPolicyBundle{Policies: policies, Signatures: make(map[string]string)}
	for _, p := range policies {
		s, err := SignPolicy(priv, p)
		if err != nil {
			return nil, err
		}
		b.Signatures[p.ID] = s
	}
	return b, nil
}

// VerifyBundle verifies all signatures using the given public key
func VerifyBundle(pub ed25519.PublicKey, b *SignedPolicyBundle) (bool, error) {
	for _, p := range b.Policies {
		sig, ok := b.Signatures[p.ID]
		if !ok {
			return false, fmt.Errorf("missing signature for policy %s", p.ID)
		}
		okv, err := VerifyPolicySignature(pub, p, sig)
		if err != nil || !okv {
			return false, fmt.Errorf("bad signature for policy %s: %v", p.ID, err)
		}
	}
	return true, nil
}

// ApplySignedBundle verifies signatures, validates every policy, upserts them
// and reloads once at the end.
func (e *Engine) ApplySignedBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedPolicyBundle) error {
	ok, err := VerifyBundle(pub, bundle)
	if err != nil || !ok {
		return fmt.Errorf("bundle verification failed: %v", err)
	}
	for _, p := range bundle.Policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid policy %s: %w", p.ID, err)
		}
	}
	for _, p := range bundle.Policies {
		if _, err := e.policyStore.GetPolicy(ctx, p.ID); err != nil {
			if err := e.policyStore.CreatePolicy(ctx, p); err != nil {
				return fmt.Errorf("create policy %s: %w", p.ID, err)
			}
		} else {
			if err := e.policyStore.UpdatePolicy(ctx, p); err != nil {
				return fmt.Errorf("update policy %s: %w", p.ID, err)
			}
		}
	}
	return e.Reload(ctx)
}
