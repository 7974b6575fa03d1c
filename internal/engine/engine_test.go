package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/config"
	"statusflow/internal/db"
	"statusflow/internal/domain"
	"statusflow/internal/engine"
	"statusflow/internal/metrics"
	"statusflow/internal/migrate"
	"statusflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Metrics = metrics.New()
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) status(t *testing.T, objectType, name string) domain.StatusDefinition {
	t.Helper()
	defs, err := env.Engine.QueryStatuses(env.Ctx, repo.StatusQuery{ProjectID: "proj-1", ObjectType: objectType, Name: name})
	require.NoError(t, err)
	require.Len(t, defs, 1, "%s.%s", objectType, name)
	return defs[0]
}

func (env testEnv) field(t *testing.T, objectType, name string) int64 {
	t.Helper()
	fields, err := env.Engine.ListFields(env.Ctx, "proj-1", objectType)
	require.NoError(t, err)
	for _, f := range fields {
		if f.Name == name {
			return f.ID
		}
	}
	t.Fatalf("field %s.%s not seeded", objectType, name)
	return 0
}

func TestInitProjectSeedsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	fixing := env.status(t, "bug", "fixing")
	verifying := env.status(t, "bug", "verifying")
	assert.Equal(t, domain.CategoryInProgress, fixing.Category)
	assert.Equal(t, []int64{verifying.ID}, fixing.TransferTo)
	assert.Equal(t, []int64{env.field(t, "bug", "severity")}, fixing.CheckFieldList)
	assert.Equal(t, []string{"role_member", "creater"}, fixing.SetOwnerList.Strings())

	who, err := env.Engine.WhoAmI(env.Ctx, "proj-1", "tester")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, who.Roles)
	assert.Contains(t, who.Permissions, "status.admin")
}

func TestCreateObjectUsesFirstStartStatus(t *testing.T) {
	env := newTestEnv(t)
	obj, err := env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{
		ProjectID: "proj-1", ObjectType: "bug", Title: "crash on save", ActorID: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, env.status(t, "bug", "new").ID, obj.StatusID)
	assert.Equal(t, int64(1), obj.Version)
	assert.Equal(t, "tester", obj.CreatorID)

	_, err = env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{
		ProjectID: "proj-1", ObjectType: "bug", Title: "x", ActorID: "tester", StatusID: env.status(t, "task", "todo").ID,
	})
	assert.ErrorIs(t, err, engine.ErrUnknownStatus)

	_, err = env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{
		ProjectID: "proj-1", ObjectType: "bug", Title: "x", ActorID: "tester", Fields: map[int64]string{999: "v"},
	})
	var verrs domain.ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestTransitionRequiresFieldsThenAssignsCreator(t *testing.T) {
	env := newTestEnv(t)
	obj, err := env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{
		ProjectID: "proj-1", ObjectType: "bug", Title: "crash", ActorID: "tester",
	})
	require.NoError(t, err)
	fixing := env.status(t, "bug", "fixing")
	severity := env.field(t, "bug", "severity")

	_, err = env.Engine.TransitionObject(env.Ctx, engine.TransitionRequest{ObjectID: obj.ID, TargetStatusID: fixing.ID, ActorID: "tester"})
	var missing engine.MissingRequiredFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []int64{severity}, missing.FieldIDs)

	stored, err := env.Engine.GetObject(env.Ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, obj.StatusID, stored.StatusID)
	assert.Equal(t, int64(1), stored.Version)

	stored, err = env.Engine.SetObjectFields(env.Ctx, engine.SetFieldsRequest{ObjectID: obj.ID, Fields: map[int64]string{severity: "high"}, ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	moved, err := env.Engine.TransitionObject(env.Ctx, engine.TransitionRequest{ObjectID: obj.ID, TargetStatusID: fixing.ID, ActorID: "tester", ExpectedVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, fixing.ID, moved.StatusID)
	assert.Equal(t, "tester", moved.OwnerID)
	assert.Equal(t, int64(3), moved.Version)

	reloaded, err := env.Engine.GetObject(env.Ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, moved.StatusID, reloaded.StatusID)
	assert.Equal(t, "high", reloaded.Fields[severity])

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{ProjectID: "proj-1", Type: "object.transitioned"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, obj.ID, evts[0].EntityID)
}

func TestTransitionPermissionAndRoleOwner(t *testing.T) {
	env := newTestEnv(t)
	estimate := env.field(t, "task", "estimate")
	obj, err := env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{
		ProjectID: "proj-1", ObjectType: "task", Title: "write docs", ActorID: "tester",
		Fields: map[int64]string{estimate: "3d"},
	})
	require.NoError(t, err)
	doing := env.status(t, "task", "doing")
	review := env.status(t, "task", "review")

	obj, err = env.Engine.TransitionObject(env.Ctx, engine.TransitionRequest{ObjectID: obj.ID, TargetStatusID: doing.ID, ActorID: "tester"})
	require.NoError(t, err)

	_, err = env.Engine.TransitionObject(env.Ctx, engine.TransitionRequest{ObjectID: obj.ID, TargetStatusID: review.ID, ActorID: "stranger"})
	assert.ErrorIs(t, err, engine.ErrPermissionDenied)

	require.NoError(t, env.Engine.GrantRole(env.Ctx, "proj-1", "rita", "reviewer", "tester"))
	moved, err := env.Engine.TransitionObject(env.Ctx, engine.TransitionRequest{ObjectID: obj.ID, TargetStatusID: review.ID, ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, "rita", moved.OwnerID)

	_, err = env.Engine.TransitionObject(env.Ctx, engine.TransitionRequest{ObjectID: obj.ID, TargetStatusID: env.status(t, "task", "canceled").ID, ActorID: "tester"})
	assert.ErrorIs(t, err, engine.ErrIllegalTransition)
}

func TestTransitionStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	obj, err := env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{ProjectID: "proj-1", ObjectType: "bug", Title: "b", ActorID: "tester"})
	require.NoError(t, err)
	rejected := env.status(t, "bug", "rejected")

	_, err = env.Engine.TransitionObject(env.Ctx, engine.TransitionRequest{ObjectID: obj.ID, TargetStatusID: rejected.ID, ActorID: "tester", ExpectedVersion: 1})
	require.NoError(t, err)
	_, err = env.Engine.TransitionObject(env.Ctx, engine.TransitionRequest{ObjectID: obj.ID, TargetStatusID: env.status(t, "bug", "new").ID, ActorID: "tester", ExpectedVersion: 1})
	assert.ErrorIs(t, err, repo.ErrVersionConflict)
}

func TestCheckAndAvailableTransitions(t *testing.T) {
	env := newTestEnv(t)
	obj, err := env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{ProjectID: "proj-1", ObjectType: "bug", Title: "b", ActorID: "tester"})
	require.NoError(t, err)
	fixing := env.status(t, "bug", "fixing")
	rejected := env.status(t, "bug", "rejected")

	assert.ErrorIs(t, env.Engine.CheckTransition(env.Ctx, obj.ID, fixing.ID, "tester"), engine.ErrMissingField)
	assert.NoError(t, env.Engine.CheckTransition(env.Ctx, obj.ID, rejected.ID, "tester"))
	assert.ErrorIs(t, env.Engine.CheckTransition(env.Ctx, obj.ID, 9999, "tester"), engine.ErrUnknownStatus)

	opts, err := env.Engine.AvailableTransitions(env.Ctx, obj.ID, "tester")
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, fixing.ID, opts[0].Status.ID)
	assert.False(t, opts[0].Allowed)
	assert.Equal(t, "missing_required_field", opts[0].Code)
	assert.True(t, opts[1].Allowed)

	stored, err := env.Engine.GetObject(env.Ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
}

func TestStatusAdmin(t *testing.T) {
	env := newTestEnv(t)
	closed := env.status(t, "bug", "closed")
	todo := env.status(t, "task", "todo")

	_, err := env.Engine.CreateStatus(env.Ctx, engine.StatusInput{
		ProjectID: "proj-1", ObjectType: "bug", Name: "closed", Category: domain.CategoryEnd, Color: "#000",
	}, "tester")
	assert.ErrorIs(t, err, repo.ErrConflict)

	_, err = env.Engine.CreateStatus(env.Ctx, engine.StatusInput{
		ProjectID: "proj-1", ObjectType: "bug", Name: "wontfix", Category: domain.CategoryEnd, Color: "#000",
		TransferTo: []int64{todo.ID},
	}, "tester")
	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "transfer_to", verrs[0].Field)

	_, err = env.Engine.CreateStatus(env.Ctx, engine.StatusInput{
		ProjectID: "proj-1", ObjectType: "bug", Name: "wontfix", Category: domain.CategoryEnd, Color: "#000",
		PermissionOwnerList: []string{"somebody"},
	}, "tester")
	require.True(t, errors.As(err, &verrs))

	wontfix, err := env.Engine.CreateStatus(env.Ctx, engine.StatusInput{
		ProjectID: "proj-1", ObjectType: "bug", Name: "wontfix", Category: domain.CategoryEnd, Color: "#000",
		TransferTo: []int64{closed.ID}, PermissionOwnerList: []string{"role_qa,owner"},
	}, "tester")
	require.NoError(t, err)
	assert.NotZero(t, wontfix.ID)
	assert.Equal(t, "tester", wontfix.CreateAccountID)

	name := "won't fix"
	updated, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusUpdateOptions{ID: wontfix.ID, Name: &name, ActorID: "rita"})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, "rita", updated.UpdateAccountID)
	assert.Equal(t, []int64{closed.ID}, updated.TransferTo)

	err = env.Engine.DeleteStatus(env.Ctx, closed.ID, "tester")
	var inUse engine.StatusInUseError
	require.True(t, errors.As(err, &inUse))
	assert.Contains(t, inUse.ReferencedBy, wontfix.ID)

	require.NoError(t, env.Engine.DeleteStatus(env.Ctx, wontfix.ID, "tester"))
	_, err = env.Engine.GetStatus(env.Ctx, wontfix.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDeleteStatusWithObjectsRefused(t *testing.T) {
	env := newTestEnv(t)
	obj, err := env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{ProjectID: "proj-1", ObjectType: "bug", Title: "b", ActorID: "tester"})
	require.NoError(t, err)
	err = env.Engine.DeleteStatus(env.Ctx, obj.StatusID, "tester")
	var inUse engine.StatusInUseError
	require.True(t, errors.As(err, &inUse))
	assert.Equal(t, 1, inUse.Objects)
}

func TestLastStartStatusIsKept(t *testing.T) {
	env := newTestEnv(t)
	newStatus := env.status(t, "bug", "new")
	end := domain.CategoryEnd

	_, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusUpdateOptions{ID: newStatus.ID, Category: &end, ActorID: "tester"})
	var last engine.LastStartStatusError
	require.True(t, errors.As(err, &last))
	assert.Equal(t, newStatus.ID, last.ID)
	assert.Equal(t, domain.CategoryStart, env.status(t, "bug", "new").Category)

	triage, err := env.Engine.CreateStatus(env.Ctx, engine.StatusInput{
		ProjectID: "proj-1", ObjectType: "bug", Name: "triage", Category: domain.CategoryStart, Color: "#ccc",
	}, "tester")
	require.NoError(t, err)
	_, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusUpdateOptions{ID: newStatus.ID, Category: &end, ActorID: "tester"})
	require.NoError(t, err)

	assert.ErrorIs(t, env.Engine.DeleteStatus(env.Ctx, triage.ID, "tester"), engine.ErrLastStartStatus)
	obj, err := env.Engine.CreateObject(env.Ctx, engine.ObjectCreateOptions{ProjectID: "proj-1", ObjectType: "bug", Title: "b", ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, triage.ID, obj.StatusID)
}

func TestQueryStatusesFilters(t *testing.T) {
	env := newTestEnv(t)
	ends, err := env.Engine.QueryStatuses(env.Ctx, repo.StatusQuery{
		ProjectID:  "proj-1",
		CategoryIn: []domain.StatusCategory{domain.CategoryEnd},
		Sort:       []repo.SortField{{Field: "name", Desc: true}},
	})
	require.NoError(t, err)
	names := make([]string, 0, len(ends))
	for _, d := range ends {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"rejected", "done", "closed", "canceled"}, names)

	notEnd, err := env.Engine.QueryStatuses(env.Ctx, repo.StatusQuery{
		ProjectID: "proj-1", ObjectType: "task", CategoryNotIn: []domain.StatusCategory{domain.CategoryEnd},
		Limit: 2, Offset: 1,
	})
	require.NoError(t, err)
	require.Len(t, notEnd, 2)
	assert.Equal(t, "doing", notEnd[0].Name)
	assert.Equal(t, "review", notEnd[1].Name)

	none, err := env.Engine.QueryStatuses(env.Ctx, repo.StatusQuery{ProjectID: "proj-1", CreatedFrom: "2025-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := env.Engine.QueryStatuses(env.Ctx, repo.StatusQuery{ProjectID: "proj-1", CreatedFrom: "2024-01-01T00:00:00Z", CreatedTo: "2024-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestRevokeRoleUnknownRole(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.Engine.GrantRole(env.Ctx, "proj-1", "rita", "ghost", "tester"), repo.ErrNotFound)
	require.NoError(t, env.Engine.GrantRole(env.Ctx, "proj-1", "rita", "qa", "tester"))
	require.NoError(t, env.Engine.RevokeRole(env.Ctx, "proj-1", "rita", "qa", "tester"))
	who, err := env.Engine.WhoAmI(env.Ctx, "proj-1", "rita")
	require.NoError(t, err)
	assert.Empty(t, who.Roles)
}
