package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"statusflow/internal/domain"
	"statusflow/internal/engine"
	"statusflow/internal/repo"
)

type objectPath struct {
	ProjectID string `path:"project_id"`
	ID        string `path:"id"`
}

func objectInProject(ctx context.Context, e engine.Engine, projectID, id string) (domain.TrackedObject, error) {
	o, err := e.GetObject(ctx, id)
	if err != nil {
		return o, err
	}
	if o.ProjectID != projectID {
		return o, repo.ErrNotFound
	}
	return o, nil
}

func registerObjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-object",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/objects",
		Summary:       "Create tracked object",
		Description:   "The object starts in the first START status of its type unless status_id is given. Required fields and owner rules of that status are not applied.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      CreateObjectRequest `json:"body"`
	}) (*struct {
		Body ObjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "object.create"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fields, err := parseFieldMap(input.Body.Fields)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "fields"})
		}
		opts := engine.ObjectCreateOptions{
			ProjectID:  input.ProjectID,
			ObjectType: input.Body.ObjectType,
			Title:      input.Body.Title,
			OwnerID:    input.Body.OwnerID,
			Fields:     fields,
			ActorID:    actorID,
		}
		if input.Body.StatusID != nil {
			opts.StatusID = *input.Body.StatusID
		}
		o, err := e.CreateObject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObjectResponse `json:"body"`
		}{Body: objectResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-objects",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/objects",
		Summary:     "List tracked objects",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		ObjectType string `query:"object_type"`
		StatusID   int64  `query:"status_id"`
		OwnerID    string `query:"owner_id"`
		CreatorID  string `query:"creator_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedObjects `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "object.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListObjects(ctx, repo.ObjectFilters{
			ProjectID:       input.ProjectID,
			ObjectType:      input.ObjectType,
			StatusID:        input.StatusID,
			OwnerID:         input.OwnerID,
			CreatorID:       input.CreatorID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedObjects{Items: []ObjectResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		for _, o := range items {
			resp.Items = append(resp.Items, objectResponse(o))
		}
		return &struct {
			Body paginatedObjects `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-object",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/objects/{id}",
		Summary:     "Get tracked object",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *objectPath) (*struct {
		Body ObjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "object.read"); err != nil {
			return nil, handleError(err)
		}
		o, err := objectInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObjectResponse `json:"body"`
		}{Body: objectResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-object-fields",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/objects/{id}/fields",
		Summary:     "Set field values",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		ID        string           `path:"id"`
		Body      SetFieldsRequest `json:"body"`
	}) (*struct {
		Body ObjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "object.update"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fields, err := parseFieldMap(input.Body.Fields)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "fields"})
		}
		if _, err := objectInProject(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.SetObjectFields(ctx, engine.SetFieldsRequest{
			ObjectID:        input.ID,
			Fields:          fields,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObjectResponse `json:"body"`
		}{Body: objectResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-object",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/objects/{id}/transition",
		Summary:     "Move an object to another status",
		Description: "Fails with 409 illegal_transition, 403 permission_denied, 422 missing_required_field, 404 unknown_status or 409 version_conflict.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ID        string            `path:"id"`
		Body      TransitionRequest `json:"body"`
	}) (*struct {
		Body ObjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "object.transition"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := objectInProject(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.TransitionObject(ctx, engine.TransitionRequest{
			ObjectID:        input.ID,
			TargetStatusID:  input.Body.TargetStatusID,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObjectResponse `json:"body"`
		}{Body: objectResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-transition",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/objects/{id}/transition/check",
		Summary:     "Dry-run a transition",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ID        string            `path:"id"`
		Body      TransitionRequest `json:"body"`
	}) (*struct {
		Body CheckTransitionResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "object.read"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := objectInProject(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		err := e.CheckTransition(ctx, input.ID, input.Body.TargetStatusID, actorID)
		resp := CheckTransitionResponse{Allowed: err == nil}
		if err != nil {
			resp.Code = engine.Outcome(err)
			if resp.Code == "error" {
				return nil, handleError(err)
			}
			resp.Reason = err.Error()
			var missing engine.MissingRequiredFieldError
			if errors.As(err, &missing) {
				resp.FieldIDs = missing.FieldIDs
			}
		}
		return &struct {
			Body CheckTransitionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "available-transitions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/objects/{id}/transitions",
		Summary:     "List transfer targets and whether the caller may enter them",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *objectPath) (*struct {
		Body []TransitionOptionResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "object.read"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := objectInProject(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		opts, err := e.AvailableTransitions(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TransitionOptionResponse, 0, len(opts))
		for _, opt := range opts {
			res = append(res, optionResponse(opt))
		}
		return &struct {
			Body []TransitionOptionResponse `json:"body"`
		}{Body: res}, nil
	})
}
