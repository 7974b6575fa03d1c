package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"statusflow/internal/config"
	"statusflow/internal/domain"
	"statusflow/internal/events"
	"statusflow/internal/repo"
)

const defaultOrgID = "default-org"

// InitProject creates a project from e.Config (or the default config when it
// names another project): roles, role members, fields and statuses. actorID
// becomes project admin.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	cfg := e.Config
	if cfg == nil || cfg.Project.ID != projectID {
		cfg = config.Default(projectID)
	}
	return e.InitProjectWithConfig(ctx, projectID, description, actorID, cfg)
}

func (e Engine) InitProjectWithConfig(ctx context.Context, projectID, description, actorID string, cfg *config.Config) (domain.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	if actorID == "" {
		actorID = "local-user"
	}
	orgID := cfg.Project.Org
	if orgID == "" {
		orgID = defaultOrgID
	}
	now := e.stamp()
	p := domain.Project{
		ID:          projectID,
		OrgID:       orgID,
		Status:      "active",
		Description: description,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureOrg(ctx, tx, orgID, "", now); err != nil {
		return p, fmt.Errorf("ensure org: %w", err)
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return p, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfig(ctx, tx, projectID, cfg); err != nil {
		return p, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return p, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.AssignOrgRole(ctx, tx, orgID, actorID, "owner"); err != nil {
		return p, fmt.Errorf("assign org role: %w", err)
	}
	if err := e.seedRBAC(ctx, tx, projectID, actorID, cfg, now); err != nil {
		return p, err
	}
	statuses, err := e.seedWorkflow(ctx, tx, projectID, orgID, actorID, cfg, now)
	if err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectInit, p.ID, "project", p.ID, actorID, events.EventPayload{
		"status":       p.Status,
		"object_types": cfg.ObjectTypeNames(),
		"statuses":     statuses,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) seedRBAC(ctx context.Context, tx *sql.Tx, projectID, actorID string, cfg *config.Config, now string) error {
	roleIDs := make([]string, 0, len(cfg.RBAC.Roles))
	for id := range cfg.RBAC.Roles {
		roleIDs = append(roleIDs, id)
	}
	sort.Strings(roleIDs)
	for _, id := range roleIDs {
		role := cfg.RBAC.Roles[id]
		if err := e.Repo.InsertRole(ctx, tx, id, role.Description); err != nil {
			return fmt.Errorf("insert role %s: %w", id, err)
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return fmt.Errorf("insert permission %s: %w", perm, err)
			}
			if err := e.Repo.AddRolePermission(ctx, tx, id, perm); err != nil {
				return fmt.Errorf("grant %s to %s: %w", perm, id, err)
			}
		}
	}
	if _, ok := cfg.RBAC.Roles["admin"]; ok {
		if err := e.Repo.AssignRole(ctx, tx, projectID, actorID, "admin"); err != nil {
			return fmt.Errorf("assign admin: %w", err)
		}
	}
	for roleID, members := range cfg.RBAC.Members {
		if _, ok := cfg.RBAC.Roles[roleID]; !ok {
			if err := e.Repo.InsertRole(ctx, tx, roleID, ""); err != nil {
				return fmt.Errorf("insert role %s: %w", roleID, err)
			}
		}
		for _, m := range members {
			if err := e.Repo.EnsureActor(ctx, tx, m, now); err != nil {
				return err
			}
			if err := e.Repo.AssignRole(ctx, tx, projectID, m, roleID); err != nil {
				return fmt.Errorf("assign %s to %s: %w", roleID, m, err)
			}
		}
	}
	return nil
}

// seedWorkflow inserts fields and statuses per object type. Statuses are
// inserted first and linked afterwards since transfer lists refer to ids.
func (e Engine) seedWorkflow(ctx context.Context, tx *sql.Tx, projectID, orgID, actorID string, cfg *config.Config, now string) (int, error) {
	count := 0
	for _, typeName := range cfg.ObjectTypeNames() {
		ot := cfg.ObjectTypes[typeName]
		fieldIDs := make(map[string]int64, len(ot.Fields))
		for _, f := range ot.Fields {
			id, err := e.Repo.InsertFieldDefinition(ctx, tx, domain.FieldDefinition{
				ProjectID: projectID, ObjectType: typeName, Name: f.Name, Remark: f.Remark, CreatedAt: now,
			})
			if err != nil {
				return count, fmt.Errorf("seed field %s.%s: %w", typeName, f.Name, err)
			}
			fieldIDs[f.Name] = id
		}
		defs := make([]domain.StatusDefinition, 0, len(ot.Statuses))
		statusIDs := make(map[string]int64, len(ot.Statuses))
		for _, s := range ot.Statuses {
			cat, err := domain.ParseStatusCategory(s.Category)
			if err != nil {
				return count, err
			}
			perm, err := domain.ParseTokenSet(s.PermissionOwners)
			if err != nil {
				return count, err
			}
			setOwner, err := domain.ParseTokenSet(s.SetOwners)
			if err != nil {
				return count, err
			}
			d := domain.StatusDefinition{
				CompanyID:           orgID,
				ProjectID:           projectID,
				ObjectType:          typeName,
				Name:                s.Name,
				Category:            cat,
				Color:               s.Color,
				Remark:              s.Remark,
				PermissionOwnerList: perm,
				SetOwnerList:        setOwner,
				CreateAccountID:     actorID,
				UpdateAccountID:     actorID,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := d.Validate(); err != nil {
				return count, fmt.Errorf("seed status %s.%s: %w", typeName, s.Name, err)
			}
			id, err := e.Repo.InsertStatusDefinition(ctx, tx, d)
			if err != nil {
				return count, fmt.Errorf("seed status %s.%s: %w", typeName, s.Name, err)
			}
			d.ID = id
			statusIDs[s.Name] = id
			defs = append(defs, d)
			count++
		}
		for i, s := range ot.Statuses {
			d := defs[i]
			for _, name := range s.TransferTo {
				d.TransferTo = append(d.TransferTo, statusIDs[name])
			}
			for _, name := range s.CheckFields {
				d.CheckFieldList = append(d.CheckFieldList, fieldIDs[name])
			}
			if len(d.TransferTo) == 0 && len(d.CheckFieldList) == 0 {
				continue
			}
			if err := e.Repo.UpdateStatusDefinition(ctx, tx, d); err != nil {
				return count, fmt.Errorf("link status %s.%s: %w", typeName, s.Name, err)
			}
		}
	}
	return count, nil
}

func (e Engine) GrantRole(ctx context.Context, projectID, actorID, roleID, byActor string) error {
	return e.changeRole(ctx, projectID, actorID, roleID, byActor, true)
}

func (e Engine) RevokeRole(ctx context.Context, projectID, actorID, roleID, byActor string) error {
	return e.changeRole(ctx, projectID, actorID, roleID, byActor, false)
}

func (e Engine) changeRole(ctx context.Context, projectID, actorID, roleID, byActor string, grant bool) error {
	if actorID == "" || roleID == "" {
		return domain.ValidationErrors{{Field: "actor_id", Reason: "actor and role are required"}}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.RoleExists(ctx, tx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, repo.ErrNotFound)
	}
	evt := events.RoleRevoked
	if grant {
		evt = events.RoleGranted
		if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, projectID, actorID, roleID); err != nil {
			return err
		}
	} else if err := e.Repo.RevokeRole(ctx, tx, projectID, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evt, projectID, "actor", actorID, byActor, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

type WhoAmI struct {
	ActorID     string
	ProjectID   string
	Roles       []string
	Permissions []string
}

func (e Engine) WhoAmI(ctx context.Context, projectID, actorID string) (WhoAmI, error) {
	who := WhoAmI{ActorID: actorID, ProjectID: projectID}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return who, err
	}
	defer tx.Rollback()
	if who.Roles, err = e.Auth.ActorRoles(ctx, tx, projectID, actorID); err != nil {
		return who, err
	}
	if who.Permissions, err = e.Auth.ActorPermissions(ctx, tx, projectID, actorID); err != nil {
		return who, err
	}
	return who, tx.Commit()
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
