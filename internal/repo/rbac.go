package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, orgID, name, now string) error {
	if name == "" {
		name = orgID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id, name, created_at) VALUES (?,?,?)`, orgID, name, now)
	return err
}

func (r Repo) AssignOrgRole(ctx context.Context, tx *sql.Tx, orgID, actorID, role string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO org_roles(org_id, actor_id, role) VALUES (?,?,?)`, orgID, actorID, role)
	return err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, roleID, permID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission_id) VALUES (?,?)`, roleID, permID)
	return err
}

func (r Repo) RoleExists(ctx context.Context, tx *sql.Tx, roleID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM roles WHERE id=?`, roleID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, projectID, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(project_id, actor_id, role_id) VALUES (?,?,?)`, projectID, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, projectID, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actor_roles WHERE project_id=? AND actor_id=? AND role_id=?`, projectID, actorID, roleID)
	return err
}

// RoleMembership lists role -> actors for a project, both sorted.
func (r Repo) RoleMembership(ctx context.Context, projectID string) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role_id, actor_id FROM actor_roles WHERE project_id=? ORDER BY role_id, actor_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]string{}
	for rows.Next() {
		var role, actor string
		if err := rows.Scan(&role, &actor); err != nil {
			return nil, err
		}
		res[role] = append(res[role], actor)
	}
	return res, rows.Err()
}
