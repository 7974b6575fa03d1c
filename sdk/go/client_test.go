package statusflowsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionSendsAuthAndDecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-1", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "/v0/projects/demo/objects/o-1/transition", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(7), body["target_status_id"])
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"missing_required_field","message":"status 7 requires fields [3]","details":{"field_ids":[3]}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "demo")
	c.APIKey = "k-1"
	_, err := c.Transition(context.Background(), "o-1", 7, 0)
	require.Error(t, err)
	assert.True(t, IsCode(err, "missing_required_field"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, []any{float64(3)}, apiErr.Details["field_ids"])
}

func TestCreateObjectEncodesFieldIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body struct {
			ObjectType string            `json:"object_type"`
			Fields     map[string]string `json:"fields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "bug", body.ObjectType)
		assert.Equal(t, map[string]string{"12": "high"}, body.Fields)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Object{ID: "o-9", ObjectType: "bug", StatusID: 1, Version: 1, Fields: body.Fields})
	}))
	defer srv.Close()

	c := New(srv.URL, "demo")
	c.BearerToken = "tok"
	obj, err := c.CreateObject(context.Background(), "bug", "crash", map[int64]string{12: "high"})
	require.NoError(t, err)
	assert.Equal(t, "o-9", obj.ID)
	assert.Equal(t, "high", obj.Fields["12"])
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "41", r.URL.Query().Get("cursor"))
		_ = json.NewEncoder(w).Encode(PaginatedEvents{Items: []Event{{ID: 40, Type: "object.created"}}, NextCursor: "40"})
	}))
	defer srv.Close()

	page, err := New(srv.URL, "demo").EventsPage(context.Background(), 5, "41")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "40", page.NextCursor)
}
