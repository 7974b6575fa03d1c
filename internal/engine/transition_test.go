package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/domain"
	"statusflow/internal/engine"
	"statusflow/internal/engine/auth"
)

func mustTokens(t *testing.T, items ...string) domain.TokenSet {
	t.Helper()
	set, err := domain.ParseTokenSet(items)
	require.NoError(t, err)
	return set
}

func TestScenarioRequiredFieldThenSuccess(t *testing.T) {
	ctx := context.Background()
	a := domain.StatusDefinition{ID: 1, Name: "A", TransferTo: []int64{2}}
	b := domain.StatusDefinition{ID: 2, Name: "B", CheckFieldList: []int64{5}}
	obj := domain.TrackedObject{ID: "o1", StatusID: 1, CreatorID: "alice", OwnerID: "alice"}
	tr := engine.Transitioner{}

	got, err := tr.ApplyTransition(ctx, a, b, "alice", obj)
	var missing engine.MissingRequiredFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []int64{5}, missing.FieldIDs)
	assert.True(t, errors.Is(err, engine.ErrMissingField))
	assert.Equal(t, int64(1), got.StatusID)
	assert.Equal(t, int64(1), obj.StatusID)

	obj.Fields = map[int64]string{5: "resolved"}
	got, err = tr.ApplyTransition(ctx, a, b, "alice", obj)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.StatusID)
	assert.Equal(t, int64(1), obj.StatusID)
}

func TestScenarioCreatorWithoutRoleDenied(t *testing.T) {
	ctx := context.Background()
	b := domain.StatusDefinition{ID: 2, TransferTo: []int64{3}, PermissionOwnerList: mustTokens(t, "role_qa")}
	c := domain.StatusDefinition{ID: 3}
	obj := domain.TrackedObject{ID: "o1", ProjectID: "p", StatusID: 2, CreatorID: "alice", OwnerID: "bob"}
	tr := engine.Transitioner{Resolver: auth.StaticResolver{"qa": {"carol"}}}

	err := tr.CanTransition(ctx, b, c, "alice", obj)
	var denied engine.PermissionDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, int64(2), denied.StatusID)
	assert.True(t, errors.Is(err, engine.ErrPermissionDenied))

	assert.NoError(t, tr.CanTransition(ctx, b, c, "carol", obj))
}

func TestIllegalTransitionWinsOverOtherChecks(t *testing.T) {
	ctx := context.Background()
	a := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}, PermissionOwnerList: mustTokens(t, "role_qa")}
	c := domain.StatusDefinition{ID: 3, CheckFieldList: []int64{9}}
	tr := engine.Transitioner{Resolver: auth.StaticResolver{}}

	for _, target := range []domain.StatusDefinition{c, {ID: 1}, {ID: 99}} {
		err := tr.CanTransition(ctx, a, target, "nobody", domain.TrackedObject{})
		var illegal engine.IllegalTransitionError
		require.True(t, errors.As(err, &illegal), "target %d", target.ID)
		assert.Equal(t, int64(1), illegal.From)
		assert.True(t, errors.Is(err, engine.ErrIllegalTransition))
	}
}

func TestEmptyPermissionListIsUnrestricted(t *testing.T) {
	ctx := context.Background()
	a := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}}
	b := domain.StatusDefinition{ID: 2}
	tr := engine.Transitioner{}
	for _, actor := range []string{"alice", "stranger", ""} {
		assert.NoError(t, tr.CanTransition(ctx, a, b, actor, domain.TrackedObject{CreatorID: "alice"}))
	}
}

func TestPermissionTokens(t *testing.T) {
	ctx := context.Background()
	b := domain.StatusDefinition{ID: 2}
	obj := domain.TrackedObject{CreatorID: "alice", OwnerID: "bob"}
	tr := engine.Transitioner{Resolver: auth.StaticResolver{"dev": {"dave"}}}

	creatorOnly := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}, PermissionOwnerList: mustTokens(t, "creater")}
	assert.NoError(t, tr.CanTransition(ctx, creatorOnly, b, "alice", obj))
	assert.ErrorIs(t, tr.CanTransition(ctx, creatorOnly, b, "bob", obj), engine.ErrPermissionDenied)

	ownerOnly := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}, PermissionOwnerList: mustTokens(t, "owner")}
	assert.NoError(t, tr.CanTransition(ctx, ownerOnly, b, "bob", obj))
	assert.ErrorIs(t, tr.CanTransition(ctx, ownerOnly, b, "alice", obj), engine.ErrPermissionDenied)

	mixed := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}, PermissionOwnerList: mustTokens(t, "owner", "role_dev")}
	assert.NoError(t, tr.CanTransition(ctx, mixed, b, "dave", obj))
	assert.ErrorIs(t, tr.CanTransition(ctx, mixed, b, "", obj), engine.ErrPermissionDenied)
}

func TestMissingFieldsReportedInListOrder(t *testing.T) {
	ctx := context.Background()
	a := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}}
	b := domain.StatusDefinition{ID: 2, CheckFieldList: []int64{7, 3, 5}}
	obj := domain.TrackedObject{Fields: map[int64]string{3: "x", 5: "   "}}

	err := engine.Transitioner{}.CanTransition(ctx, a, b, "alice", obj)
	var missing engine.MissingRequiredFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []int64{7, 5}, missing.FieldIDs)
}

func TestSetOwnerNeverKeepsPriorOwner(t *testing.T) {
	ctx := context.Background()
	a := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}}
	b := domain.StatusDefinition{ID: 2, SetOwnerList: mustTokens(t, "role_empty", "role_qa", "creater")}
	tr := engine.Transitioner{Resolver: auth.StaticResolver{"qa": {"zed", "bob", "carol"}}}

	obj := domain.TrackedObject{ProjectID: "p", CreatorID: "alice", OwnerID: "bob"}
	got, err := tr.ApplyTransition(ctx, a, b, "bob", obj)
	require.NoError(t, err)
	assert.Equal(t, "carol", got.OwnerID)
	assert.Equal(t, "bob", obj.OwnerID)
}

func TestSetOwnerSkipsTokenNamingOnlyPriorOwner(t *testing.T) {
	ctx := context.Background()
	a := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}}
	b := domain.StatusDefinition{ID: 2, SetOwnerList: mustTokens(t, "creater", "role_qa")}
	tr := engine.Transitioner{Resolver: auth.StaticResolver{"qa": {"carol"}}}

	obj := domain.TrackedObject{ProjectID: "p", CreatorID: "alice", OwnerID: "alice"}
	got, err := tr.ApplyTransition(ctx, a, b, "alice", obj)
	require.NoError(t, err)
	assert.Equal(t, "carol", got.OwnerID)

	// nobody else resolves: the prior owner keeps the object
	tr.Resolver = auth.StaticResolver{"qa": {"alice"}}
	got, err = tr.ApplyTransition(ctx, a, b, "alice", obj)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, int64(2), got.StatusID)
}

func TestSetOwnerCreator(t *testing.T) {
	ctx := context.Background()
	a := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}}
	b := domain.StatusDefinition{ID: 2, SetOwnerList: mustTokens(t, "owner", "creater")}
	obj := domain.TrackedObject{CreatorID: "alice", OwnerID: "bob"}

	got, err := engine.Transitioner{}.ApplyTransition(ctx, a, b, "bob", obj)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, int64(2), got.StatusID)
}

func TestSetOwnerUnresolvedMutatesNothing(t *testing.T) {
	ctx := context.Background()
	a := domain.StatusDefinition{ID: 1, TransferTo: []int64{2}}
	b := domain.StatusDefinition{ID: 2, SetOwnerList: mustTokens(t, "role_ghost")}
	obj := domain.TrackedObject{StatusID: 1, OwnerID: "bob"}

	got, err := engine.Transitioner{Resolver: auth.StaticResolver{}}.ApplyTransition(ctx, a, b, "bob", obj)
	assert.ErrorIs(t, err, engine.ErrOwnerUnresolved)
	assert.Equal(t, obj, got)
}

func TestTransitionUnknownStatus(t *testing.T) {
	ctx := context.Background()
	defs := []domain.StatusDefinition{{ID: 1, TransferTo: []int64{2}}, {ID: 2}}
	tr := engine.Transitioner{}

	_, err := tr.Transition(ctx, defs, 1, 42, "a", domain.TrackedObject{})
	var unknown engine.UnknownStatusError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, int64(42), unknown.ID)

	_, err = tr.Transition(ctx, defs, 7, 2, "a", domain.TrackedObject{})
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, int64(7), unknown.ID)

	got, err := tr.Transition(ctx, defs, 1, 2, "a", domain.TrackedObject{StatusID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.StatusID)
}
