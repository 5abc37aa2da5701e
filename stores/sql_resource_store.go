package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	pdp "github.com/onjsdnjs/identity-admin-sub001"
)

// SQLResourceStore persists guarded-resource descriptors in SQL (squealx)
type SQLResourceStore struct {
	db *squealx.DB
}

func NewSQLResourceStore(db *squealx.DB) *SQLResourceStore {
	return &SQLResourceStore{db: db}
}

func (s *SQLResourceStore) RegisterResource(ctx context.Context, res *pdp.ManagedResource) error {
	params, _ := json.Marshal(res.ParameterTypes)
	q := `INSERT INTO managed_resources(id, resource_type, resource_identifier, parameter_types_json, return_type)
	      VALUES(:id, :resource_type, :resource_identifier, :parameter_types_json, :return_type)
	      ON CONFLICT(id) DO UPDATE SET resource_type=excluded.resource_type, resource_identifier=excluded.resource_identifier,
	        parameter_types_json=excluded.parameter_types_json, return_type=excluded.return_type`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                   res.ID,
		"resource_type":        string(res.Type),
		"resource_identifier":  res.Identifier,
		"parameter_types_json": string(params),
		"return_type":          res.ReturnType,
	})
	return err
}

func (s *SQLResourceStore) GetResource(ctx context.Context, id string) (*pdp.ManagedResource, error) {
	q := `SELECT id, resource_type, resource_identifier, parameter_types_json, return_type FROM managed_resources WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &pdp.NotFoundError{Kind: "managed resource", ID: id}
	}
	return scanResource(r)
}

func (s *SQLResourceStore) ListResources(ctx context.Context) ([]*pdp.ManagedResource, error) {
	q := `SELECT id, resource_type, resource_identifier, parameter_types_json, return_type FROM managed_resources ORDER BY resource_identifier ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*pdp.ManagedResource, 0)
	for r.Next() {
		res, err := scanResource(r)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func scanResource(r rowScanner) (*pdp.ManagedResource, error) {
	var id, resourceType, identifier, paramsJSON, returnType string
	if err := r.Scan(&id, &resourceType, &identifier, &paramsJSON, &returnType); err != nil {
		return nil, err
	}
	res := &pdp.ManagedResource{
		ID:         id,
		Type:       pdp.TargetType(resourceType),
		Identifier: identifier,
		ReturnType: returnType,
	}
	_ = json.Unmarshal([]byte(paramsJSON), &res.ParameterTypes)
	return res, nil
}
