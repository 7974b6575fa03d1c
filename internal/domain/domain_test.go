package domain_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/domain"
)

func TestParseToken(t *testing.T) {
	cases := map[string]domain.Token{
		"creater":      domain.CreatorToken(),
		" owner ":      domain.OwnerToken(),
		"role_qa":      domain.RoleToken("qa"),
		"role_dev.ops": domain.RoleToken("dev.ops"),
	}
	for in, want := range cases {
		got, err := domain.ParseToken(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}
	for _, bad := range []string{"", "creator", "role_", "role_a b", "admin"} {
		_, err := domain.ParseToken(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseTokenSetKeepsOrderAndDedups(t *testing.T) {
	set, err := domain.ParseTokenSet([]string{"role_qa,creater", "role_qa", "owner"})
	require.NoError(t, err)
	assert.Equal(t, []string{"role_qa", "creater", "owner"}, set.Strings())
	assert.Equal(t, []string{"qa"}, set.Roles())
}

func TestTokenSetJSON(t *testing.T) {
	set := domain.TokenSet{domain.RoleToken("qa"), domain.CreatorToken()}
	b, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["role_qa","creater"]`, string(b))

	var back domain.TokenSet
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, set, back)

	assert.Error(t, json.Unmarshal([]byte(`["nobody"]`), &back))
}

func TestStatusCategoryText(t *testing.T) {
	var c domain.StatusCategory
	require.NoError(t, c.UnmarshalText([]byte("in_progress")))
	assert.Equal(t, domain.CategoryInProgress, c)
	b, err := domain.CategoryEnd.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "END", string(b))
	_, err = domain.StatusCategory(9).MarshalText()
	assert.Error(t, err)
}

func TestStatusDefinitionValidate(t *testing.T) {
	d := domain.StatusDefinition{
		ProjectID:       "p1",
		ObjectType:      "bug",
		Name:            "resolved",
		Category:        domain.CategoryEnd,
		Color:           "#00aa00",
		CreateAccountID: "alice",
		UpdateAccountID: "alice",
	}
	require.NoError(t, d.Validate())

	d.Name = strings.Repeat("x", 65)
	d.Color = ""
	d.Category = 0
	err := d.Validate()
	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := map[string]bool{}
	for _, fe := range verrs {
		fields[fe.Field] = true
	}
	assert.True(t, fields["name"])
	assert.True(t, fields["color"])
	assert.True(t, fields["category"])
}

func TestValidateCountsRunes(t *testing.T) {
	rules := []domain.Rule{{Field: "name", MaxLength: 3}}
	assert.NoError(t, domain.Validate(rules, map[string]string{"name": "状态定"}))
	assert.Error(t, domain.Validate(rules, map[string]string{"name": "状态定义"}))
}

func TestTrackedObjectCloneAndHasField(t *testing.T) {
	obj := domain.TrackedObject{Fields: map[int64]string{5: "resolved", 6: "  "}}
	c := obj.Clone()
	c.Fields[5] = "changed"
	assert.Equal(t, "resolved", obj.Fields[5])
	assert.True(t, obj.HasField(5))
	assert.False(t, obj.HasField(6))
	assert.False(t, obj.HasField(7))
}

func TestIDListRoundTrip(t *testing.T) {
	assert.Equal(t, "", domain.EncodeIDs(nil))
	ids, err := domain.DecodeIDs(domain.EncodeIDs([]int64{3, 1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)
	_, err = domain.DecodeIDs("not json")
	assert.Error(t, err)
}
