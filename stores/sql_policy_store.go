package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	pdp "github.com/onjsdnjs/identity-admin-sub001"
)

// SQLPolicyStore persists policies in SQL (squealx)
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

func (s *SQLPolicyStore) CreatePolicy(ctx context.Context, p *pdp.Policy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	targets, _ := json.Marshal(p.Targets)
	rules, _ := json.Marshal(p.Rules)
	q := `INSERT INTO policies(id, name, description, effect, priority, enabled, targets_json, rules_json, created_at, updated_at) VALUES(:id, :name, :description, :effect, :priority, :enabled, :targets_json, :rules_json, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           p.ID,
		"name":         p.Name,
		"description":  p.Description,
		"effect":       string(p.Effect),
		"priority":     p.Priority,
		"enabled":      boolToInt(p.Enabled),
		"targets_json": string(targets),
		"rules_json":   string(rules),
		"created_at":   p.CreatedAt,
		"updated_at":   p.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return s.insertPolicyHistory(ctx, p)
}

func (s *SQLPolicyStore) UpdatePolicy(ctx context.Context, p *pdp.Policy) error {
	p.UpdatedAt = time.Now()
	targets, _ := json.Marshal(p.Targets)
	rules, _ := json.Marshal(p.Rules)
	q := `UPDATE policies SET name=:name, description=:description, effect=:effect, priority=:priority, enabled=:enabled, targets_json=:targets_json, rules_json=:rules_json, updated_at=:updated_at WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           p.ID,
		"name":         p.Name,
		"description":  p.Description,
		"effect":       string(p.Effect),
		"priority":     p.Priority,
		"enabled":      boolToInt(p.Enabled),
		"targets_json": string(targets),
		"rules_json":   string(rules),
		"updated_at":   p.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return s.insertPolicyHistory(ctx, p)
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	q := `DELETE FROM policies WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, id string) (*pdp.Policy, error) {
	q := `SELECT id, name, description, effect, priority, enabled, targets_json, rules_json, created_at, updated_at FROM policies WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &pdp.NotFoundError{Kind: "policy", ID: id}
	}
	return scanPolicy(r)
}

func (s *SQLPolicyStore) ListPolicies(ctx context.Context) ([]*pdp.Policy, error) {
	q := `SELECT id, name, description, effect, priority, enabled, targets_json, rules_json, created_at, updated_at FROM policies ORDER BY priority ASC, name ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*pdp.Policy, 0)
	for r.Next() {
		p, err := scanPolicy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListPoliciesByTargetType filters in Go; target sets live in a JSON column
// and a policy may mix URL and METHOD targets.
func (s *SQLPolicyStore) ListPoliciesByTargetType(ctx context.Context, tt pdp.TargetType) ([]*pdp.Policy, error) {
	all, err := s.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*pdp.Policy, 0)
	for _, p := range all {
		for _, t := range p.Targets {
			if t.Type == tt {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(r rowScanner) (*pdp.Policy, error) {
	var id, name, description, effect, targetsJSON, rulesJSON string
	var priority, enabledInt int
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&id, &name, &description, &effect, &priority, &enabledInt, &targetsJSON, &rulesJSON, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	p := &pdp.Policy{
		ID:          id,
		Name:        name,
		Description: description,
		Effect:      pdp.Effect(effect),
		Priority:    priority,
		Enabled:     enabledInt != 0,
		CreatedAt:   timeFromRaw(createdRaw),
		UpdatedAt:   timeFromRaw(updatedRaw),
	}
	_ = json.Unmarshal([]byte(targetsJSON), &p.Targets)
	_ = json.Unmarshal([]byte(rulesJSON), &p.Rules)
	return p, nil
}

// insertPolicyHistory appends an immutable JSON snapshot for audit
func (s *SQLPolicyStore) insertPolicyHistory(ctx context.Context, p *pdp.Policy) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	q := `INSERT INTO policy_history(policy_id, snapshot_json) VALUES(:policy_id, :snapshot_json)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{"policy_id": p.ID, "snapshot_json": string(b)})
	return err
}

func (s *SQLPolicyStore) GetPolicyHistory(ctx context.Context, id string) ([]*pdp.Policy, error) {
	q := `SELECT snapshot_json FROM policy_history WHERE policy_id = :policy_id ORDER BY created_at ASC, id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"policy_id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*pdp.Policy, 0)
	for r.Next() {
		var snap string
		if err := r.Scan(&snap); err != nil {
			return nil, err
		}
		p := &pdp.Policy{}
		if err := json.Unmarshal([]byte(snap), p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, &pdp.NotFoundError{Kind: "policy history", ID: id}
	}
	return out, nil
}
