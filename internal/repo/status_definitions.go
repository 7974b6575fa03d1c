package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"statusflow/internal/domain"
)

const statusColumns = `id,company_id,project_id,object_type,name,category,color,remark,transfer_to,check_field_list,permission_owner_list,set_owner_list,create_account_id,update_account_id,created_at,updated_at`

// sortableStatusColumns maps sort keys to columns.
var sortableStatusColumns = map[string]string{
	"id":                "id",
	"project_id":        "project_id",
	"object_type":       "object_type",
	"name":              "name",
	"category":          "category",
	"transfer_to":       "transfer_to",
	"color":             "color",
	"remark":            "remark",
	"create_account_id": "create_account_id",
	"update_account_id": "update_account_id",
	"created_at":        "created_at",
	"updated_at":        "updated_at",
}

type SortField struct {
	Field string
	Desc  bool
}

// ParseSort reads "name asc,id desc". Direction defaults to asc.
func ParseSort(s string) ([]SortField, error) {
	var out []SortField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		sf := SortField{Field: fields[0]}
		if _, ok := sortableStatusColumns[sf.Field]; !ok {
			return nil, fmt.Errorf("unsupported sort field %q", sf.Field)
		}
		if len(fields) > 1 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				sf.Desc = true
			default:
				return nil, fmt.Errorf("invalid sort direction %q", fields[1])
			}
		}
		if len(fields) > 2 {
			return nil, fmt.Errorf("invalid sort clause %q", part)
		}
		out = append(out, sf)
	}
	return out, nil
}

// StatusQuery filters status definitions. Zero values are ignored. Time
// bounds are inclusive RFC3339 strings.
type StatusQuery struct {
	ID              int64
	CompanyID       string
	ProjectID       string
	ObjectType      string
	Name            string
	Category        domain.StatusCategory
	Color           string
	Remark          string
	CreateAccountID string
	UpdateAccountID string

	CreatedFrom string
	CreatedTo   string
	UpdatedFrom string
	UpdatedTo   string

	CategoryIn    []domain.StatusCategory
	CategoryNotIn []domain.StatusCategory

	Sort   []SortField
	Limit  int
	Offset int
}

func (f StatusQuery) where() (string, []any) {
	var clauses []string
	var args []any
	eq := func(col string, v any) {
		clauses = append(clauses, col+"=?")
		args = append(args, v)
	}
	if f.ID != 0 {
		eq("id", f.ID)
	}
	if f.CompanyID != "" {
		eq("company_id", f.CompanyID)
	}
	if f.ProjectID != "" {
		eq("project_id", f.ProjectID)
	}
	if f.ObjectType != "" {
		eq("object_type", f.ObjectType)
	}
	if f.Name != "" {
		eq("name", f.Name)
	}
	if f.Category != 0 {
		eq("category", int(f.Category))
	}
	if f.Color != "" {
		eq("color", f.Color)
	}
	if f.Remark != "" {
		eq("remark", f.Remark)
	}
	if f.CreateAccountID != "" {
		eq("create_account_id", f.CreateAccountID)
	}
	if f.UpdateAccountID != "" {
		eq("update_account_id", f.UpdateAccountID)
	}
	ranged := func(col, op, v string) {
		if v == "" {
			return
		}
		clauses = append(clauses, col+op+"?")
		args = append(args, v)
	}
	ranged("created_at", ">=", f.CreatedFrom)
	ranged("created_at", "<=", f.CreatedTo)
	ranged("updated_at", ">=", f.UpdatedFrom)
	ranged("updated_at", "<=", f.UpdatedTo)
	if len(f.CategoryIn) > 0 {
		clauses = append(clauses, "category IN ("+placeholders(len(f.CategoryIn))+")")
		for _, c := range f.CategoryIn {
			args = append(args, int(c))
		}
	}
	if len(f.CategoryNotIn) > 0 {
		clauses = append(clauses, "category NOT IN ("+placeholders(len(f.CategoryNotIn))+")")
		for _, c := range f.CategoryNotIn {
			args = append(args, int(c))
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (f StatusQuery) orderBy() string {
	if len(f.Sort) == 0 {
		return " ORDER BY id ASC"
	}
	parts := make([]string, 0, len(f.Sort)+1)
	for _, s := range f.Sort {
		col, ok := sortableStatusColumns[s.Field]
		if !ok {
			continue
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts = append(parts, col+" "+dir)
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(s rowScanner) (domain.StatusDefinition, error) {
	var d domain.StatusDefinition
	var category int
	var transferTo, checkFields, permOwners, setOwners string
	if err := s.Scan(&d.ID, &d.CompanyID, &d.ProjectID, &d.ObjectType, &d.Name, &category, &d.Color, &d.Remark,
		&transferTo, &checkFields, &permOwners, &setOwners, &d.CreateAccountID, &d.UpdateAccountID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, err
	}
	d.Category = domain.StatusCategory(category)
	var err error
	if d.TransferTo, err = domain.DecodeIDs(transferTo); err != nil {
		return d, fmt.Errorf("status %d transfer_to: %w", d.ID, err)
	}
	if d.CheckFieldList, err = domain.DecodeIDs(checkFields); err != nil {
		return d, fmt.Errorf("status %d check_field_list: %w", d.ID, err)
	}
	if d.PermissionOwnerList, err = domain.DecodeTokens(permOwners); err != nil {
		return d, fmt.Errorf("status %d permission_owner_list: %w", d.ID, err)
	}
	if d.SetOwnerList, err = domain.DecodeTokens(setOwners); err != nil {
		return d, fmt.Errorf("status %d set_owner_list: %w", d.ID, err)
	}
	return d, nil
}

func (r Repo) GetStatusDefinition(ctx context.Context, id int64) (domain.StatusDefinition, error) {
	return r.GetStatusDefinitionTx(ctx, nil, id)
}

func (r Repo) GetStatusDefinitionTx(ctx context.Context, tx *sql.Tx, id int64) (domain.StatusDefinition, error) {
	d, err := scanStatus(r.q(tx).QueryRowContext(ctx, `SELECT `+statusColumns+` FROM status_definitions WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) QueryStatusDefinitions(ctx context.Context, f StatusQuery) ([]domain.StatusDefinition, error) {
	return r.QueryStatusDefinitionsTx(ctx, nil, f)
}

func (r Repo) QueryStatusDefinitionsTx(ctx context.Context, tx *sql.Tx, f StatusQuery) ([]domain.StatusDefinition, error) {
	where, args := f.where()
	query := `SELECT ` + statusColumns + ` FROM status_definitions ` + where + f.orderBy()
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusDefinition
	for rows.Next() {
		d, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// CountStatusDefinitions counts rows matching f, ignoring sort and paging.
func (r Repo) CountStatusDefinitions(ctx context.Context, f StatusQuery) (int, error) {
	return r.CountStatusDefinitionsTx(ctx, nil, f)
}

func (r Repo) CountStatusDefinitionsTx(ctx context.Context, tx *sql.Tx, f StatusQuery) (int, error) {
	where, args := f.where()
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM status_definitions `+where, args...).Scan(&n)
	return n, err
}

// InsertStatusDefinition stores d and returns its new id.
func (r Repo) InsertStatusDefinition(ctx context.Context, tx *sql.Tx, d domain.StatusDefinition) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO status_definitions(company_id,project_id,object_type,name,category,color,remark,transfer_to,check_field_list,permission_owner_list,set_owner_list,create_account_id,update_account_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.CompanyID, d.ProjectID, d.ObjectType, d.Name, int(d.Category), d.Color, d.Remark,
		domain.EncodeIDs(d.TransferTo), domain.EncodeIDs(d.CheckFieldList),
		domain.EncodeTokens(d.PermissionOwnerList), domain.EncodeTokens(d.SetOwnerList),
		d.CreateAccountID, d.UpdateAccountID, d.CreatedAt, d.UpdatedAt)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("status %s/%s/%s: %w", d.ProjectID, d.ObjectType, d.Name, ErrConflict)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateStatusDefinition(ctx context.Context, tx *sql.Tx, d domain.StatusDefinition) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE status_definitions SET company_id=?,object_type=?,name=?,category=?,color=?,remark=?,transfer_to=?,check_field_list=?,permission_owner_list=?,set_owner_list=?,update_account_id=?,updated_at=? WHERE id=?`,
		d.CompanyID, d.ObjectType, d.Name, int(d.Category), d.Color, d.Remark,
		domain.EncodeIDs(d.TransferTo), domain.EncodeIDs(d.CheckFieldList),
		domain.EncodeTokens(d.PermissionOwnerList), domain.EncodeTokens(d.SetOwnerList),
		d.UpdateAccountID, d.UpdatedAt, d.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("status %s/%s/%s: %w", d.ProjectID, d.ObjectType, d.Name, ErrConflict)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteStatusDefinition(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM status_definitions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
