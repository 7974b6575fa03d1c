package app

import (
	"context"
	"errors"
	"fmt"

	"statusflow/internal/config"
	"statusflow/internal/engine"
	"statusflow/internal/repo"
)

// ResolveProjectAndConfig picks the active project and makes sure it exists
// in the database. Preference: explicit override, the workspace statusflow.yml,
// then the only project in the database. A missing project is initialized
// from the workspace config or the default one.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, e engine.Engine) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	projectID := projectOverride
	if projectID == "" && fileCfg != nil {
		projectID = fileCfg.Project.ID
	}
	if projectID == "" {
		p, err := e.Repo.SingleProject(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
		projectID = p.ID
	}
	seedCfg := fileCfg
	if seedCfg == nil || seedCfg.Project.ID != projectID {
		seedCfg = config.Default(projectID)
	}

	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if _, err := e.InitProjectWithConfig(ctx, projectID, "", actorID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("init project %s: %w", projectID, err)
		}
	}
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := e.Repo.UpsertProjectConfig(ctx, nil, projectID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}
