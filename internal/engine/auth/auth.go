package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"statusflow/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Resolver expands a role token into the accounts currently holding the role
// in a project.
type Resolver interface {
	ResolveRole(ctx context.Context, projectID, role string) ([]string, error)
}

// ResolveToken returns the accounts a token denotes for obj. Creator and
// owner tokens yield at most one account; role tokens yield the resolver's
// members sorted ascending.
func ResolveToken(ctx context.Context, r Resolver, tok domain.Token, obj domain.TrackedObject) ([]string, error) {
	switch tok.Kind {
	case domain.TokenCreator:
		if obj.CreatorID == "" {
			return nil, nil
		}
		return []string{obj.CreatorID}, nil
	case domain.TokenOwner:
		if obj.OwnerID == "" {
			return nil, nil
		}
		return []string{obj.OwnerID}, nil
	case domain.TokenRole:
		if r == nil {
			return nil, errors.New("no role resolver configured")
		}
		members, err := r.ResolveRole(ctx, obj.ProjectID, tok.Role)
		if err != nil {
			return nil, fmt.Errorf("resolve role %s: %w", tok.Role, err)
		}
		out := append([]string(nil), members...)
		sort.Strings(out)
		return out, nil
	}
	return nil, fmt.Errorf("unknown token kind %d", int(tok.Kind))
}

// StaticResolver maps role names to members regardless of project.
type StaticResolver map[string][]string

func (s StaticResolver) ResolveRole(_ context.Context, _ string, role string) ([]string, error) {
	return s[role], nil
}

// Service provides RBAC helpers backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, projectID, actorID, perm string) (bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.project_id=? AND ar.actor_id=? AND rp.permission_id=? LIMIT 1`,
		projectID, actorID, perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Service) ActorRoles(ctx context.Context, tx *sql.Tx, projectID, actorID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE project_id=? AND actor_id=? ORDER BY role_id`, projectID, actorID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, projectID, actorID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT DISTINCT rp.permission_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.project_id=? AND ar.actor_id=?
ORDER BY rp.permission_id`, projectID, actorID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// RoleMembers lists actors holding role in project, sorted by id.
func (s Service) RoleMembers(ctx context.Context, q queryer, projectID, role string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT actor_id FROM actor_roles WHERE project_id=? AND role_id=? ORDER BY actor_id`, projectID, role)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// ResolveRole implements Resolver outside of any transaction.
func (s Service) ResolveRole(ctx context.Context, projectID, role string) ([]string, error) {
	return s.RoleMembers(ctx, s.DB, projectID, role)
}

// Bind returns a Resolver reading through tx, for use while a write
// transaction holds the database.
func (s Service) Bind(tx *sql.Tx) Resolver {
	return txResolver{svc: s, tx: tx}
}

type txResolver struct {
	svc Service
	tx  *sql.Tx
}

func (r txResolver) ResolveRole(ctx context.Context, projectID, role string) ([]string, error) {
	return r.svc.RoleMembers(ctx, r.tx, projectID, role)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
