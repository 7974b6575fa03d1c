package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"statusflow/internal/domain"
	"statusflow/internal/engine"
	"statusflow/internal/repo"
	"statusflow/internal/report"
)

func registerReports(api huma.API, e engine.Engine, rd *report.Renderer) {
	unavailable := func() huma.StatusError {
		return newAPIError(http.StatusServiceUnavailable, "renderer_unavailable", "report renderer not configured", nil)
	}
	huma.Register(api, huma.Operation{
		OperationID: "render-status-report",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/statuses",
		Summary:     "Render the workflow report of an object type",
		Description: "Returns self-contained HTML. Images wider than 13780px are scaled down; images that cannot be loaded are dropped.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      RenderReportRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.ObjectType) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "object_type is required", nil)
		}
		if err := requirePermission(ctx, e, input.ProjectID, "report.render"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if rd == nil {
			return nil, unavailable()
		}
		res, err := e.RenderReport(ctx, rd, input.ProjectID, input.Body.ObjectType, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: ReportResponse{HTML: res.HTML, Stats: res.Stats, Location: res.Location}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "inline-html",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/inline",
		Summary:     "Inline and scale the images of an HTML document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      InlineHTMLRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "report.render"); err != nil {
			return nil, handleError(err)
		}
		if rd == nil {
			return nil, unavailable()
		}
		name := input.Body.Name
		if name == "" {
			name = input.ProjectID + "-document"
		}
		res, err := rd.RenderHTML(ctx, name, input.Body.HTML)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: ReportResponse{HTML: res.HTML, Stats: res.Stats, Location: res.Location}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,status,field,object,actor,report"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "project.events.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     before,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/me/permissions",
		Summary:     "Current actor roles and permissions in a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		who, err := e.WhoAmI(ctx, input.ProjectID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     who.ActorID,
			ProjectID:   who.ProjectID,
			Roles:       nonNilSlice(who.Roles),
			Permissions: nonNilSlice(who.Permissions),
		}}, nil
	})

	changeRole := func(grant bool) func(context.Context, *struct {
		ProjectID string            `path:"project_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		return func(ctx context.Context, input *struct {
			ProjectID string            `path:"project_id"`
			Body      RoleChangeRequest `json:"body"`
		}) (*struct{}, error) {
			if err := requirePermission(ctx, e, input.ProjectID, "rbac.manage"); err != nil {
				return nil, handleError(err)
			}
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			var err error
			if grant {
				err = e.GrantRole(ctx, input.ProjectID, input.Body.ActorID, input.Body.RoleID, actorID)
			} else {
				err = e.RevokeRole(ctx, input.ProjectID, input.Body.ActorID, input.Body.RoleID, actorID)
			}
			if err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		}
	}
	roleErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
	}
	huma.Register(api, huma.Operation{
		OperationID:   "grant-role",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/rbac/roles/grant",
		Summary:       "Grant role",
		DefaultStatus: http.StatusNoContent,
		Errors:        roleErrors,
	}, changeRole(true))
	huma.Register(api, huma.Operation{
		OperationID:   "revoke-role",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/rbac/roles/revoke",
		Summary:       "Revoke role",
		DefaultStatus: http.StatusNoContent,
		Errors:        roleErrors,
	}, changeRole(false))
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(principal.Permissions),
		}
		if len(principal.Permissions) == 0 && e.Config != nil {
			if who, err := e.WhoAmI(ctx, e.Config.Project.ID, principal.ActorID); err == nil {
				resp.ProjectID = who.ProjectID
				if len(principal.Roles) == 0 {
					resp.Roles = nonNilSlice(who.Roles)
				}
				resp.Permissions = nonNilSlice(who.Permissions)
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Create an API key for the current actor",
		Description:   "The key is only returned once; the server stores its BLAKE3 digest.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return nil, handleError(err)
		}
		secret := "sf_" + hex.EncodeToString(buf)
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: actorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(secret),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(stored)
		resp.Key = secret
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List the current actor's API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{id}",
		Summary:       "Delete one of the current actor's API keys",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		owned := false
		for _, k := range keys {
			if k.ID == input.ID {
				owned = true
				break
			}
		}
		if !owned {
			return nil, handleError(repo.ErrNotFound)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.Permissions, authCfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
