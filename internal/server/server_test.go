package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/config"
	"statusflow/internal/db"
	"statusflow/internal/engine"
	"statusflow/internal/metrics"
	"statusflow/internal/migrate"
	"statusflow/internal/report"
)

const (
	testProject = "statusflow"
	testSecret  = "test-secret"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default(testProject)
	cfg.Report.PublishDir = ""
	for _, m := range mutate {
		m(cfg)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Metrics = metrics.New()
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	rd, err := report.NewRenderer(cfg.Report, workspace, nil, e.Metrics)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			EnableDevLogin:         true,
		},
		Renderer: rd,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, Engine: e, client: srv.Client()}
}

func (s *testServer) projectURL(parts ...string) string {
	return s.URL + "/v0/projects/" + testProject + "/" + strings.Join(parts, "/")
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func (s *testServer) statusID(t *testing.T, objectType, name string) int64 {
	t.Helper()
	q := url.Values{"object_type": {objectType}, "name": {name}}
	res, data := doJSON(t, s.client, http.MethodGet, s.projectURL("statuses")+"?"+q.Encode(), nil, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedStatuses
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1, "%s.%s", objectType, name)
	return page.Items[0].ID
}

func (s *testServer) fieldID(t *testing.T, objectType, name string) int64 {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodGet, s.projectURL("fields")+"?object_type="+objectType, nil, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var fields []FieldResponse
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, f := range fields {
		if f.Name == name {
			return f.ID
		}
	}
	t.Fatalf("field %s.%s not found", objectType, name)
	return 0
}

func (s *testServer) createObject(t *testing.T, objectType, title string, fields map[string]string) ObjectResponse {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.projectURL("objects"), map[string]any{
		"object_type": objectType,
		"title":       title,
		"fields":      fields,
	}, asActor("tester"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var obj ObjectResponse
	require.NoError(t, json.Unmarshal(data, &obj))
	return obj
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)
}

func TestTransitionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	fixing := srv.statusID(t, "bug", "fixing")
	severity := srv.fieldID(t, "bug", "severity")
	obj := srv.createObject(t, "bug", "crash on save", nil)
	assert.Equal(t, srv.statusID(t, "bug", "new"), obj.StatusID)
	assert.Equal(t, int64(1), obj.Version)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition/check"), map[string]any{
		"target_status_id": fixing,
	}, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var check CheckTransitionResponse
	require.NoError(t, json.Unmarshal(data, &check))
	assert.False(t, check.Allowed)
	assert.Equal(t, "missing_required_field", check.Code)
	assert.Equal(t, []int64{severity}, check.FieldIDs)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition"), map[string]any{
		"target_status_id": fixing,
	}, asActor("tester"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "missing_required_field", env.Error.Code)
	assert.Equal(t, []any{float64(severity)}, env.Error.Details["field_ids"])

	res, data = doJSON(t, srv.client, http.MethodPut, srv.projectURL("objects", obj.ID, "fields"), map[string]any{
		"fields":           map[string]string{fmt.Sprint(severity): "high"},
		"expected_version": 1,
	}, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition"), map[string]any{
		"target_status_id": fixing,
		"expected_version": 2,
	}, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var moved ObjectResponse
	require.NoError(t, json.Unmarshal(data, &moved))
	assert.Equal(t, fixing, moved.StatusID)
	assert.Equal(t, "tester", moved.OwnerID)
	assert.Equal(t, "high", moved.Fields[fmt.Sprint(severity)])
	assert.Equal(t, int64(3), moved.Version)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition"), map[string]any{
		"target_status_id": srv.statusID(t, "bug", "new"),
	}, asActor("tester"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "illegal_transition", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition"), map[string]any{
		"target_status_id": srv.statusID(t, "bug", "verifying"),
		"expected_version": 1,
	}, asActor("tester"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "version_conflict", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.projectURL("events")+"?type=object.transitioned", nil, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts paginatedEvents
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 1)
	assert.Equal(t, obj.ID, evts.Items[0].EntityID)
}

func TestTransitionPermissionDenied(t *testing.T) {
	srv := newTestServer(t)
	estimate := srv.fieldID(t, "task", "estimate")
	obj := srv.createObject(t, "task", "write docs", map[string]string{fmt.Sprint(estimate): "3d"})
	doing := srv.statusID(t, "task", "doing")
	review := srv.statusID(t, "task", "review")

	res, data := doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition"), map[string]any{
		"target_status_id": doing,
	}, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition"), map[string]any{
		"target_status_id": review,
	}, asActor("rita"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("rbac/roles/grant"), map[string]any{
		"actor_id": "rita",
		"role_id":  "reviewer",
	}, asActor("tester"))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition"), map[string]any{
		"target_status_id": review,
	}, asActor("rita"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "permission_denied", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.projectURL("objects", obj.ID, "transitions"), nil, asActor("rita"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var opts []TransitionOptionResponse
	require.NoError(t, json.Unmarshal(data, &opts))
	require.NotEmpty(t, opts)
	for _, opt := range opts {
		assert.False(t, opt.Allowed, opt.Status.Name)
		assert.Equal(t, "permission_denied", opt.Code)
	}
}

func TestTransitionSetsOwner(t *testing.T) {
	srv := newTestServer(t)
	estimate := srv.fieldID(t, "task", "estimate")
	obj := srv.createObject(t, "task", "ship release", map[string]string{fmt.Sprint(estimate): "1d"})
	doing := srv.statusID(t, "task", "doing")
	review := srv.statusID(t, "task", "review")

	move := func(target int64) (*http.Response, []byte) {
		return doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition"), map[string]any{
			"target_status_id": target,
		}, asActor("tester"))
	}
	owner := func(data []byte) string {
		var o ObjectResponse
		require.NoError(t, json.Unmarshal(data, &o))
		return o.OwnerID
	}

	res, data := move(doing)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Empty(t, owner(data))

	// no reviewers yet: the creator takes it
	res, data = move(review)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "tester", owner(data))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("rbac/roles/grant"), map[string]any{
		"actor_id": "rita",
		"role_id":  "reviewer",
	}, asActor("tester"))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = move(doing)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = move(review)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "rita", owner(data))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("statuses"), map[string]any{
		"object_type":    "task",
		"name":           "escalated",
		"category":       "IN_PROGRESS",
		"color":          "#b71c1c",
		"set_owner_list": []string{"role_ghost"},
	}, asActor("tester"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var escalated StatusResponse
	require.NoError(t, json.Unmarshal(data, &escalated))

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.projectURL("statuses", fmt.Sprint(review)), map[string]any{
		"transfer_to": []int64{doing, escalated.ID},
	}, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = move(escalated.ID)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "owner_unresolved", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.projectURL("objects", obj.ID), nil, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "rita", owner(data))
	var stored ObjectResponse
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, review, stored.StatusID)

	todo := srv.statusID(t, "task", "todo")
	res, data = doJSON(t, srv.client, http.MethodPatch, srv.projectURL("statuses", fmt.Sprint(todo)), map[string]any{
		"category": "END",
	}, asActor("tester"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "last_start_status", decodeError(t, data).Error.Code)
}

func TestStatusAdminEndpoints(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.projectURL("statuses"), map[string]any{
		"object_type":           "bug",
		"name":                  "triage",
		"category":              "IN_PROGRESS",
		"color":                 "#123456",
		"permission_owner_list": []string{"bogus"},
	}, asActor("tester"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "validation_failed", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("statuses"), map[string]any{
		"object_type":           "bug",
		"name":                  "triage",
		"category":              "IN_PROGRESS",
		"color":                 "#123456",
		"transfer_to":           []int64{srv.statusID(t, "bug", "fixing")},
		"permission_owner_list": []string{"role_qa", "creater"},
	}, asActor("tester"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created StatusResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "default-org", created.CompanyID)
	assert.Equal(t, []string{"role_qa", "creater"}, created.PermissionOwnerList)
	assert.Equal(t, "tester", created.CreateAccountID)

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.projectURL("statuses", fmt.Sprint(created.ID)), map[string]any{
		"color": "#654321",
	}, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var updated StatusResponse
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, "#654321", updated.Color)
	assert.Equal(t, "triage", updated.Name)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.projectURL("statuses")+"?object_type=bug&category_in=END&sort=name+desc", nil, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedStatuses
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "rejected", page.Items[0].Name)
	assert.Equal(t, "closed", page.Items[1].Name)
	assert.Equal(t, 2, page.Total)

	res, data = doJSON(t, srv.client, http.MethodDelete, srv.projectURL("statuses", fmt.Sprint(srv.statusID(t, "bug", "fixing"))), nil, asActor("tester"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "status_in_use", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodDelete, srv.projectURL("statuses", fmt.Sprint(created.ID)), nil, asActor("tester"))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.projectURL("statuses", fmt.Sprint(created.ID)), nil, asActor("tester"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("statuses"), map[string]any{
		"object_type": "bug",
		"name":        "x",
		"category":    "START",
		"color":       "#000",
	}, asActor("rita"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
}

func TestRenderReportEndpoint(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.projectURL("reports/statuses"), map[string]any{
		"object_type": "bug",
	}, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rep ReportResponse
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Contains(t, rep.HTML, "<table>")
	assert.Contains(t, rep.HTML, "verifying")
	assert.Empty(t, rep.Location)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("reports/inline"), map[string]any{
		"html": `<p><img src="data:text/plain;base64,aGVsbG8="></p>`,
	}, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 1, rep.Stats.Dropped)
	assert.NotContains(t, rep.HTML, "<img")

	res, data = doJSON(t, srv.client, http.MethodPost, srv.projectURL("reports/statuses"), map[string]any{
		"object_type": "epic",
	}, asActor("tester"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
}

func TestJWTAndAPIKeys(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "tester",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "tester", me.ActorID)
	assert.Contains(t, me.Permissions, "rbac.manage")

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + signed})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/me/api-keys", map[string]any{"name": "ci"}, bearer)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var key APIKeyResponse
	require.NoError(t, json.Unmarshal(data, &key))
	require.NotEmpty(t, key.Key)
	assert.Equal(t, "tester", key.ActorID)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.projectURL("me/permissions"), nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, []string{"admin"}, me.Roles)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me/api-keys", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var keys []APIKeyResponse
	require.NoError(t, json.Unmarshal(data, &keys))
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].Key)

	res, data = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v0/me/api-keys/"+key.ID, nil, asActor("rita"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	res, data = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v0/me/api-keys/"+key.ID, nil, bearer)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.projectURL("me/permissions"), nil, map[string]string{"X-Api-Key": key.Key})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "statusflow_api_requests_total")
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/projects/{project_id}/objects/{id}/transition")
}

func TestWebhookDispatch(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.Header.Get("X-Statusflow-Event"))
		mu.Unlock()
		assert.Equal(t, "s3cret", r.Header.Get("X-Statusflow-Secret"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"object.*"}, Secret: "s3cret"}}
	})
	d := newWebhookDispatcher(srv.Engine, nil)
	require.NotNil(t, d)
	ctx := context.Background()
	d.dispatchAll(ctx)

	obj := srv.createObject(t, "bug", "hooked", nil)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.projectURL("objects", obj.ID, "transition"), map[string]any{
		"target_status_id": srv.statusID(t, "bug", "rejected"),
	}, asActor("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	doJSON(t, srv.client, http.MethodPost, srv.projectURL("reports/statuses"), map[string]any{"object_type": "bug"}, asActor("tester"))

	d.dispatchAll(ctx)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"object.created", "object.transitioned"}, received)
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"object.*", "report.rendered"})
	assert.True(t, f.match("object.created"))
	assert.True(t, f.match("object.fields.set"))
	assert.True(t, f.match("report.rendered"))
	assert.False(t, f.match("status.created"))
	assert.True(t, newEventFilter(nil).match("anything"))
}
