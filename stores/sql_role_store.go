package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	pdp "github.com/onjsdnjs/identity-admin-sub001"
)

// SQLRoleStore persists roles and hierarchy specifications in SQL (squealx)
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *pdp.Role) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	q := `INSERT INTO roles(id, name, description, created_at) VALUES(:id, :name, :description, :created_at)
	      ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          r.ID,
		"name":        r.Name,
		"description": r.Description,
		"created_at":  r.CreatedAt,
	})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id string) (*pdp.Role, error) {
	q := `SELECT id, name, description, created_at FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &pdp.NotFoundError{Kind: "role", ID: id}
	}
	return scanRole(r)
}

func (s *SQLRoleStore) ListRoles(ctx context.Context) ([]*pdp.Role, error) {
	q := `SELECT id, name, description, created_at FROM roles ORDER BY name ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*pdp.Role, 0)
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func scanRole(r rowScanner) (*pdp.Role, error) {
	var id, name, description string
	var createdRaw interface{}
	if err := r.Scan(&id, &name, &description, &createdRaw); err != nil {
		return nil, err
	}
	return &pdp.Role{ID: id, Name: name, Description: description, CreatedAt: timeFromRaw(createdRaw)}, nil
}

func (s *SQLRoleStore) SaveHierarchy(ctx context.Context, h *pdp.RoleHierarchy) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	h.UpdatedAt = time.Now()
	q := `INSERT INTO role_hierarchies(id, name, spec, active, created_at, updated_at) VALUES(:id, :name, :spec, :active, :created_at, :updated_at)
	      ON CONFLICT(id) DO UPDATE SET name=excluded.name, spec=excluded.spec, active=excluded.active, updated_at=excluded.updated_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         h.ID,
		"name":       h.Name,
		"spec":       h.Spec,
		"active":     boolToInt(h.Active),
		"created_at": h.CreatedAt,
		"updated_at": h.UpdatedAt,
	})
	return err
}

func (s *SQLRoleStore) GetHierarchy(ctx context.Context, id string) (*pdp.RoleHierarchy, error) {
	q := `SELECT id, name, spec, active, created_at, updated_at FROM role_hierarchies WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &pdp.NotFoundError{Kind: "role hierarchy", ID: id}
	}
	return scanHierarchy(r)
}

func (s *SQLRoleStore) ListHierarchies(ctx context.Context) ([]*pdp.RoleHierarchy, error) {
	q := `SELECT id, name, spec, active, created_at, updated_at FROM role_hierarchies ORDER BY name ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*pdp.RoleHierarchy, 0)
	for r.Next() {
		h, err := scanHierarchy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// ActivateHierarchy flips the active flag on a single record. The two updates
// are not transactional; the engine holds its own authoritative snapshot, so a
// torn write here only affects what the admin UI displays until the next save.
func (s *SQLRoleStore) ActivateHierarchy(ctx context.Context, id string) error {
	if _, err := s.GetHierarchy(ctx, id); err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, `UPDATE role_hierarchies SET active = 0 WHERE id != :id`, map[string]any{"id": id}); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, `UPDATE role_hierarchies SET active = 1, updated_at = :updated_at WHERE id = :id`, map[string]any{"id": id, "updated_at": time.Now()})
	return err
}

func scanHierarchy(r rowScanner) (*pdp.RoleHierarchy, error) {
	var id, name, spec string
	var activeInt int
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&id, &name, &spec, &activeInt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	return &pdp.RoleHierarchy{
		ID:        id,
		Name:      name,
		Spec:      spec,
		Active:    activeInt != 0,
		CreatedAt: timeFromRaw(createdRaw),
		UpdatedAt: timeFromRaw(updatedRaw),
	}, nil
}
