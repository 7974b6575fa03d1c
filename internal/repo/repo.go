package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"statusflow/internal/config"
	"statusflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrVersionConflict reports a compare-and-swap update against a stale version.
	ErrVersionConflict = errors.New("version conflict")
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set, else the pool.
func (r Repo) q(tx *sql.Tx) DBTX {
	if tx != nil {
		return tx
	}
	return r.DB
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := row.Scan(&p.ID, &p.OrgID, &p.Status, &desc, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,org_id,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.OrgID, p.Status, nullable(p.Description), p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("project %s: %w", p.ID, ErrConflict)
	}
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,org_id,status,description,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,status,COALESCE(description,''),created_at FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, id, status string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
