package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"statusflow/internal/domain"
	"statusflow/internal/engine"
	"statusflow/internal/repo"
)

type statusPath struct {
	ProjectID string `path:"project_id"`
	ID        int64  `path:"id"`
}

// statusInProject loads a status and hides it when it belongs elsewhere.
func statusInProject(ctx context.Context, e engine.Engine, projectID string, id int64) (domain.StatusDefinition, error) {
	d, err := e.GetStatus(ctx, id)
	if err != nil {
		return d, err
	}
	if d.ProjectID != projectID {
		return d, repo.ErrNotFound
	}
	return d, nil
}

func parseCategories(raw string) ([]domain.StatusCategory, error) {
	var out []domain.StatusCategory
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := domain.ParseStatusCategory(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func registerStatuses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-status",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/statuses",
		Summary:       "Create status definition",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      CreateStatusRequest `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "status.admin"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cat, err := domain.ParseStatusCategory(input.Body.Category)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "category"})
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		companyID := input.Body.CompanyID
		if companyID == "" {
			companyID = p.OrgID
		}
		d, err := e.CreateStatus(ctx, engine.StatusInput{
			CompanyID:           companyID,
			ProjectID:           input.ProjectID,
			ObjectType:          input.Body.ObjectType,
			Name:                input.Body.Name,
			Category:            cat,
			Color:               input.Body.Color,
			Remark:              input.Body.Remark,
			TransferTo:          input.Body.TransferTo,
			CheckFieldList:      input.Body.CheckFieldList,
			PermissionOwnerList: input.Body.PermissionOwnerList,
			SetOwnerList:        input.Body.SetOwnerList,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "query-statuses",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/statuses",
		Summary:     "Query status definitions",
		Description: "Equality filters, inclusive created/updated ranges, category in / not in lists and a sort spec such as `category asc,name desc`.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID       string `path:"project_id"`
		ID              int64  `query:"id"`
		CompanyID       string `query:"company_id"`
		ObjectType      string `query:"object_type"`
		Name            string `query:"name"`
		Category        string `query:"category"`
		Color           string `query:"color"`
		Remark          string `query:"remark"`
		CreateAccountID string `query:"create_account_id"`
		UpdateAccountID string `query:"update_account_id"`
		CreatedFrom     string `query:"created_from"`
		CreatedTo       string `query:"created_to"`
		UpdatedFrom     string `query:"updated_from"`
		UpdatedTo       string `query:"updated_to"`
		CategoryIn      string `query:"category_in" doc:"comma separated"`
		CategoryNotIn   string `query:"category_not_in" doc:"comma separated"`
		Sort            string `query:"sort"`
		Limit           int    `query:"limit"`
		Offset          int    `query:"offset"`
	}) (*struct {
		Body paginatedStatuses `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "status.read"); err != nil {
			return nil, handleError(err)
		}
		q := repo.StatusQuery{
			ID:              input.ID,
			CompanyID:       input.CompanyID,
			ProjectID:       input.ProjectID,
			ObjectType:      input.ObjectType,
			Name:            input.Name,
			Color:           input.Color,
			Remark:          input.Remark,
			CreateAccountID: input.CreateAccountID,
			UpdateAccountID: input.UpdateAccountID,
			CreatedFrom:     input.CreatedFrom,
			CreatedTo:       input.CreatedTo,
			UpdatedFrom:     input.UpdatedFrom,
			UpdatedTo:       input.UpdatedTo,
			Limit:           input.Limit,
			Offset:          input.Offset,
		}
		var err error
		if input.Category != "" {
			if q.Category, err = domain.ParseStatusCategory(input.Category); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "category"})
			}
		}
		if q.CategoryIn, err = parseCategories(input.CategoryIn); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "category_in"})
		}
		if q.CategoryNotIn, err = parseCategories(input.CategoryNotIn); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "category_not_in"})
		}
		if q.Sort, err = repo.ParseSort(input.Sort); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "sort"})
		}
		items, err := e.QueryStatuses(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		total, err := e.Repo.CountStatusDefinitions(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedStatuses `json:"body"`
		}{Body: paginatedStatuses{Items: mapStatuses(items), Total: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/statuses/{id}",
		Summary:     "Get status definition",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *statusPath) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "status.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := statusInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/statuses/{id}",
		Summary:     "Update status definition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		ID        int64               `path:"id"`
		Body      UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, input.ProjectID, "status.admin"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := statusInProject(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		opts := engine.StatusUpdateOptions{
			ID:                  input.ID,
			Name:                input.Body.Name,
			Color:               input.Body.Color,
			Remark:              input.Body.Remark,
			TransferTo:          input.Body.TransferTo,
			CheckFieldList:      input.Body.CheckFieldList,
			PermissionOwnerList: input.Body.PermissionOwnerList,
			SetOwnerList:        input.Body.SetOwnerList,
			ActorID:             actorID,
		}
		if input.Body.Category != nil {
			cat, err := domain.ParseStatusCategory(*input.Body.Category)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "category"})
			}
			opts.Category = &cat
		}
		d, err := e.UpdateStatus(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-status",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/statuses/{id}",
		Summary:       "Delete status definition",
		Description:   "Refused with 409 status_in_use while other statuses transfer to it or objects sit in it.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *statusPath) (*struct{}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "status.admin"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := statusInProject(ctx, e, input.ProjectID, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteStatus(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerFields(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-field",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/fields",
		Summary:       "Create field definition",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateFieldRequest `json:"body"`
	}) (*struct {
		Body FieldResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "field.admin"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.CreateField(ctx, domain.FieldDefinition{
			ProjectID:  input.ProjectID,
			ObjectType: input.Body.ObjectType,
			Name:       input.Body.Name,
			Remark:     input.Body.Remark,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FieldResponse `json:"body"`
		}{Body: fieldResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-fields",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/fields",
		Summary:     "List field definitions",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		ObjectType string `query:"object_type"`
	}) (*struct {
		Body []FieldResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "status.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListFields(ctx, input.ProjectID, input.ObjectType)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]FieldResponse, 0, len(items))
		for _, f := range items {
			res = append(res, fieldResponse(f))
		}
		return &struct {
			Body []FieldResponse `json:"body"`
		}{Body: res}, nil
	})
}
