package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"statusflow/internal/domain"
)

const objectColumns = `id,project_id,object_type,title,status_id,owner_id,creator_id,version,created_at,updated_at`

type ObjectFilters struct {
	ProjectID  string
	ObjectType string
	StatusID   int64
	OwnerID    string
	CreatorID  string
	Limit      int
	// Cursor pagination on (created_at, id), newest first.
	CursorCreatedAt string
	CursorID        string
}

func scanObject(s rowScanner) (domain.TrackedObject, error) {
	var o domain.TrackedObject
	var owner sql.NullString
	if err := s.Scan(&o.ID, &o.ProjectID, &o.ObjectType, &o.Title, &o.StatusID, &owner, &o.CreatorID, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return o, err
	}
	if owner.Valid {
		o.OwnerID = owner.String
	}
	return o, nil
}

// InsertObject stores o with its field values. o.Version must be set.
func (r Repo) InsertObject(ctx context.Context, tx *sql.Tx, o domain.TrackedObject) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO tracked_objects(`+objectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.ProjectID, o.ObjectType, o.Title, o.StatusID, nullable(o.OwnerID), o.CreatorID, o.Version, o.CreatedAt, o.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("object %s: %w", o.ID, ErrConflict)
		}
		return err
	}
	return r.putObjectFields(ctx, tx, o.ID, o.Fields)
}

func (r Repo) GetObject(ctx context.Context, id string) (domain.TrackedObject, error) {
	return r.GetObjectTx(ctx, nil, id)
}

func (r Repo) GetObjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.TrackedObject, error) {
	o, err := scanObject(r.q(tx).QueryRowContext(ctx, `SELECT `+objectColumns+` FROM tracked_objects WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.Fields, err = r.objectFields(ctx, tx, id)
	return o, err
}

func (r Repo) objectFields(ctx context.Context, tx *sql.Tx, objectID string) (map[int64]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT field_id,value FROM object_fields WHERE object_id=?`, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	fields := map[int64]string{}
	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		fields[id] = v
	}
	if len(fields) == 0 {
		fields = nil
	}
	return fields, rows.Err()
}

// putObjectFields upserts values; an empty value deletes the row.
func (r Repo) putObjectFields(ctx context.Context, tx *sql.Tx, objectID string, fields map[int64]string) error {
	for id, v := range fields {
		if v == "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM object_fields WHERE object_id=? AND field_id=?`, objectID, id); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO object_fields(object_id,field_id,value) VALUES (?,?,?)
ON CONFLICT(object_id,field_id) DO UPDATE SET value=excluded.value`, objectID, id, v); err != nil {
			return fmt.Errorf("set field %d: %w", id, err)
		}
	}
	return nil
}

// UpdateObjectCAS writes status, owner, title and the given field values
// when the stored version still equals expected. The stored version becomes
// o.Version, which the caller sets to expected+1.
func (r Repo) UpdateObjectCAS(ctx context.Context, tx *sql.Tx, o domain.TrackedObject, expected int64, changed map[int64]string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tracked_objects SET title=?,status_id=?,owner_id=?,version=?,updated_at=? WHERE id=? AND version=?`,
		o.Title, o.StatusID, nullable(o.OwnerID), o.Version, o.UpdatedAt, o.ID, expected)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tracked_objects WHERE id=?`, o.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("object %s at version %d: %w", o.ID, expected, ErrVersionConflict)
	}
	return r.putObjectFields(ctx, tx, o.ID, changed)
}

func (r Repo) ListObjects(ctx context.Context, f ObjectFilters) ([]domain.TrackedObject, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.ObjectType != "" {
		clauses = append(clauses, "object_type=?")
		args = append(args, f.ObjectType)
	}
	if f.StatusID != 0 {
		clauses = append(clauses, "status_id=?")
		args = append(args, f.StatusID)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + objectColumns + ` FROM tracked_objects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrackedObject
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// CountObjectsInStatus counts tracked objects currently in statusID.
func (r Repo) CountObjectsInStatus(ctx context.Context, tx *sql.Tx, statusID int64) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM tracked_objects WHERE status_id=?`, statusID).Scan(&n)
	return n, err
}

// StatusesTransferringTo lists ids of statuses whose transfer list contains id.
func (r Repo) StatusesTransferringTo(ctx context.Context, tx *sql.Tx, id int64) ([]int64, error) {
	rows, err := r.q(tx).QueryContext(ctx, `
SELECT DISTINCT s.id FROM status_definitions s,
  json_each(CASE WHEN s.transfer_to='' THEN '[]' ELSE s.transfer_to END) j
WHERE j.value=? AND s.id<>?
ORDER BY s.id`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	return ids, rows.Err()
}

// CountObjectsByStatus returns per-status object counts for a project.
func (r Repo) CountObjectsByStatus(ctx context.Context, projectID string) (map[int64]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status_id, COUNT(*) FROM tracked_objects WHERE project_id=? GROUP BY status_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int64]int{}
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		res[id] = n
	}
	return res, rows.Err()
}
