package repo

import (
	"context"
	"database/sql"
	"fmt"

	"statusflow/internal/domain"
)

func (r Repo) InsertFieldDefinition(ctx context.Context, tx *sql.Tx, f domain.FieldDefinition) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO field_definitions(project_id,object_type,name,remark,created_at) VALUES (?,?,?,?,?)`,
		f.ProjectID, f.ObjectType, f.Name, f.Remark, f.CreatedAt)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("field %s/%s/%s: %w", f.ProjectID, f.ObjectType, f.Name, ErrConflict)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetFieldDefinition(ctx context.Context, tx *sql.Tx, id int64) (domain.FieldDefinition, error) {
	var f domain.FieldDefinition
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,object_type,name,remark,created_at FROM field_definitions WHERE id=?`, id).
		Scan(&f.ID, &f.ProjectID, &f.ObjectType, &f.Name, &f.Remark, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

// ListFieldDefinitions lists fields of a project, optionally narrowed to one
// object type, ordered by id.
func (r Repo) ListFieldDefinitions(ctx context.Context, tx *sql.Tx, projectID, objectType string) ([]domain.FieldDefinition, error) {
	query := `SELECT id,project_id,object_type,name,remark,created_at FROM field_definitions WHERE project_id=?`
	args := []any{projectID}
	if objectType != "" {
		query += ` AND object_type=?`
		args = append(args, objectType)
	}
	rows, err := r.q(tx).QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FieldDefinition
	for rows.Next() {
		var f domain.FieldDefinition
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.ObjectType, &f.Name, &f.Remark, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}
