package engine_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/config"
	"statusflow/internal/engine"
	"statusflow/internal/events"
	"statusflow/internal/repo"
	"statusflow/internal/report"
)

func TestRenderReport(t *testing.T) {
	env := newTestEnv(t)
	for _, title := range []string{"a", "b"} {
		_, err := env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{
			ProjectID: "proj-1", ObjectType: "bug", Title: title, ActorID: "tester",
		})
		require.NoError(t, err)
	}

	r, err := env.Engine.StatusReport(env.Ctx, "proj-1", "bug")
	require.NoError(t, err)
	assert.Len(t, r.Statuses, 5)
	assert.Len(t, r.Fields, 2)
	assert.Equal(t, 2, r.ObjectCounts[env.status(t, "bug", "new").ID])

	dir := t.TempDir()
	rd, err := report.NewRenderer(config.ReportConfig{PublishDir: "out"}, dir, nil, env.Engine.Metrics)
	require.NoError(t, err)
	res, err := env.Engine.RenderReport(env.Ctx, rd, "proj-1", "bug", "tester")
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "fixing")
	_, err = os.Stat(res.Location)
	require.NoError(t, err)

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{ProjectID: "proj-1", Type: events.ReportRendered})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "bug", evts[0].EntityID)

	_, err = env.Engine.StatusReport(env.Ctx, "proj-1", "epic")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
