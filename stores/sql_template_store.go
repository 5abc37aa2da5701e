package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	pdp "github.com/onjsdnjs/identity-admin-sub001"
)

// SQLTemplateStore persists the condition template catalog in SQL (squealx).
// The position column preserves catalog ordering for the authoring UI.
type SQLTemplateStore struct {
	db *squealx.DB
}

func NewSQLTemplateStore(db *squealx.DB) *SQLTemplateStore {
	return &SQLTemplateStore{db: db}
}

func (s *SQLTemplateStore) PutTemplate(ctx context.Context, t *pdp.ConditionTemplate) error {
	var pos int
	r, err := s.db.NamedQueryContext(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM condition_templates`, map[string]any{})
	if err != nil {
		return err
	}
	if r.Next() {
		_ = r.Scan(&pos)
	}
	r.Close()

	q := `INSERT INTO condition_templates(name, description, spel_template, classification, risk_level, complexity_score, position)
	      VALUES(:name, :description, :spel_template, :classification, :risk_level, :complexity_score, :position)
	      ON CONFLICT(name) DO UPDATE SET description=excluded.description, spel_template=excluded.spel_template,
	        classification=excluded.classification, risk_level=excluded.risk_level, complexity_score=excluded.complexity_score`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"name":             t.Name,
		"description":      t.Description,
		"spel_template":    t.SpelTemplate,
		"classification":   string(t.Classification),
		"risk_level":       string(t.RiskLevel),
		"complexity_score": t.ComplexityScore,
		"position":         pos,
	})
	return err
}

func (s *SQLTemplateStore) GetTemplate(ctx context.Context, name string) (*pdp.ConditionTemplate, error) {
	q := `SELECT name, description, spel_template, classification, risk_level, complexity_score FROM condition_templates WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &pdp.NotFoundError{Kind: "condition template", ID: name}
	}
	return scanTemplate(r)
}

func (s *SQLTemplateStore) ListTemplates(ctx context.Context) ([]*pdp.ConditionTemplate, error) {
	q := `SELECT name, description, spel_template, classification, risk_level, complexity_score FROM condition_templates ORDER BY position ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*pdp.ConditionTemplate, 0)
	for r.Next() {
		t, err := scanTemplate(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func scanTemplate(r rowScanner) (*pdp.ConditionTemplate, error) {
	var name, description, spel, classification, risk string
	var complexity int
	if err := r.Scan(&name, &description, &spel, &classification, &risk, &complexity); err != nil {
		return nil, err
	}
	return &pdp.ConditionTemplate{
		Name:            name,
		Description:     description,
		SpelTemplate:    spel,
		Classification:  pdp.Classification(classification),
		RiskLevel:       pdp.RiskLevel(risk),
		ComplexityScore: complexity,
	}, nil
}
