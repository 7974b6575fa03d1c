package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/app"
	"statusflow/internal/config"
	"statusflow/internal/db"
	"statusflow/internal/engine"
	"statusflow/internal/migrate"
	"statusflow/internal/repo"
)

func openEngine(t *testing.T, workspace string) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return engine.New(conn, nil)
}

func TestResolveCreatesProjectFromWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "statusflow.yml"), []byte(config.GenerateDefault("alpha")), 0o644))
	e := openEngine(t, dir)
	ctx := context.Background()

	projectID, cfg, err := app.ResolveProjectAndConfig(ctx, dir, "", "me", e)
	require.NoError(t, err)
	assert.Equal(t, "alpha", projectID)
	assert.Contains(t, cfg.ObjectTypes, "bug")

	defs, err := e.Repo.QueryStatusDefinitions(ctx, repo.StatusQuery{ProjectID: "alpha"})
	require.NoError(t, err)
	assert.Len(t, defs, 10)

	again, _, err := app.ResolveProjectAndConfig(ctx, dir, "", "me", e)
	require.NoError(t, err)
	assert.Equal(t, "alpha", again)
}

func TestResolveWithoutProject(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, dir)
	_, _, err := app.ResolveProjectAndConfig(context.Background(), dir, "", "me", e)
	assert.Error(t, err)

	projectID, _, err := app.ResolveProjectAndConfig(context.Background(), dir, "beta", "me", e)
	require.NoError(t, err)
	assert.Equal(t, "beta", projectID)
}
