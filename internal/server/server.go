package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"statusflow/internal/domain"
	"statusflow/internal/engine"
	"statusflow/internal/engine/auth"
	"statusflow/internal/repo"
	"statusflow/internal/report"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   logrus.FieldLogger
	// Renderer serves the report endpoints; they answer 503 when nil.
	Renderer *report.Renderer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"missing_required_field"`
	Message string         `json:"message" example:"status 12 requires fields [5]"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field_ids\":[5]}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError is the error envelope every endpoint answers with.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the statusflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema validation is a bad request; 422 is reserved for missing workflow fields
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(log))
	if cfg.Engine.Metrics != nil {
		router.Use(cfg.Engine.Metrics.Middleware)
	}
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, log))
	if cfg.Engine.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Engine.Metrics.Handler())
	}
	hcfg := huma.DefaultConfig("Statusflow API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerStatuses(group, cfg.Engine)
	registerFields(group, cfg.Engine)
	registerObjects(group, cfg.Engine)
	registerReports(group, cfg.Engine, cfg.Renderer)
	registerEvents(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			entry := log.WithFields(logrus.Fields{
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  sw.status,
				"latency": time.Since(start).String(),
			})
			switch {
			case sw.status >= 500:
				entry.Error("api request")
			case sw.status >= 400:
				entry.Warn("api request")
			default:
				entry.Info("api request")
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var missing engine.MissingRequiredFieldError
	if errors.As(err, &missing) {
		return newAPIError(http.StatusUnprocessableEntity, "missing_required_field", err.Error(), map[string]any{
			"status_id": missing.StatusID,
			"field_ids": missing.FieldIDs,
		})
	}
	var illegal engine.IllegalTransitionError
	if errors.As(err, &illegal) {
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), map[string]any{
			"from": illegal.From,
			"to":   illegal.To,
		})
	}
	var denied engine.PermissionDeniedError
	if errors.As(err, &denied) {
		return newAPIError(http.StatusForbidden, "permission_denied", err.Error(), map[string]any{
			"status_id": denied.StatusID,
			"actor_id":  denied.ActorID,
		})
	}
	var unknown engine.UnknownStatusError
	if errors.As(err, &unknown) {
		return newAPIError(http.StatusNotFound, "unknown_status", err.Error(), map[string]any{"status_id": unknown.ID})
	}
	var unresolved engine.OwnerUnresolvedError
	if errors.As(err, &unresolved) {
		return newAPIError(http.StatusConflict, "owner_unresolved", err.Error(), map[string]any{
			"status_id": unresolved.StatusID,
			"tokens":    unresolved.Tokens,
		})
	}
	var inUse engine.StatusInUseError
	if errors.As(err, &inUse) {
		return newAPIError(http.StatusConflict, "status_in_use", err.Error(), map[string]any{
			"referenced_by": inUse.ReferencedBy,
			"objects":       inUse.Objects,
		})
	}
	var lastStart engine.LastStartStatusError
	if errors.As(err, &lastStart) {
		return newAPIError(http.StatusConflict, "last_start_status", err.Error(), map[string]any{
			"status_id":   lastStart.ID,
			"object_type": lastStart.ObjectType,
		})
	}
	var invalid domain.ValidationErrors
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"errors": []domain.FieldError(invalid)})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrVersionConflict):
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// requirePermission checks token-carried permissions first, then the
// actor's roles in projectID.
func requirePermission(ctx context.Context, e engine.Engine, projectID, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, projectID, principal.ActorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

// requireGlobalPermission checks perm against the server's home project.
func requireGlobalPermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	if e.Config == nil {
		return auth.ForbiddenError{Permission: perm}
	}
	return requirePermission(ctx, e, e.Config.Project.ID, perm)
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		Description:   "Creates a project seeded with the default workflow; the caller becomes its admin.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.ID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "project.create"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.Body.ID); err == nil {
			return nil, newAPIError(http.StatusConflict, "conflict", fmt.Sprintf("project %s already exists", input.Body.ID), nil)
		}
		p, err := e.InitProject(ctx, input.Body.ID, stringOrEmpty(input.Body.Description), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "project.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ProjectResponse, 0, len(items))
		for _, p := range items {
			res = append(res, projectResponse(p))
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "project.read"); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, input.ProjectID, "project.update"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.UpdateProject(ctx, input.ProjectID, input.Body.Status, input.Body.Description); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get the workflow config a project was seeded from",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "project.config.read"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetProjectConfig(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			return nil, handleError(err)
		}
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
