package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"missionboard/internal/domain"
	"missionboard/internal/engine"
	"missionboard/internal/engine/authz"
	"missionboard/internal/openclaw"
	"missionboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	OrgID    string
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"task_update_field_forbidden"`
	Message string         `json:"message" example:"Only status changes are permitted for non-lead agents."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Missionboard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors surface as 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Missionboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGateways(group, cfg.Engine, cfg.OrgID)
	registerBoards(group, cfg.Engine, cfg.OrgID)
	registerTasks(group, cfg.Engine)
	registerTags(group, cfg.Engine, cfg.OrgID)
	registerAgents(group, cfg.Engine)
	registerActivity(group, cfg.Engine)
	registerGatewaySessions(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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

// handleError maps engine and transport failures onto the error envelope. A
// field authorization denial keeps its structured code so clients can branch
// without parsing messages.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var denial *authz.Denial
	if errors.As(err, &denial) {
		return newAPIError(http.StatusForbidden, denial.Code, denial.Message, nil)
	}
	var tagsErr engine.ErrTagsNotFound
	if errors.As(err, &tagsErr) {
		return newAPIError(http.StatusNotFound, "tags_not_found", tagsErr.Error(), map[string]any{"missing": tagsErr.Missing})
	}
	if errors.Is(err, openclaw.ErrBoardGatewayUnconfigured) {
		return newAPIError(http.StatusUnprocessableEntity, "board_gateway_unconfigured", err.Error(), nil)
	}
	var gerr *openclaw.GatewayError
	if errors.As(err, &gerr) {
		return newAPIError(http.StatusBadGateway, "gateway_error", gerr.Message, nil)
	}
	if errors.Is(err, engine.ErrGatewayInUse) {
		return newAPIError(http.StatusConflict, "gateway_in_use", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique constraint"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusBadGateway:
		return "gateway_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Missionboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerGateways(api huma.API, e engine.Engine, orgID string) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-gateway",
		Method:        http.MethodPost,
		Path:          "/gateways",
		Summary:       "Create gateway",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateGatewayRequest `json:"body"`
	}) (*struct {
		Body GatewayResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		opts := engine.GatewayCreateOptions{
			OrgID: orgID,
			Name:  input.Body.Name,
			URL:   input.Body.URL,
			Token: stringOrEmpty(input.Body.Token),
		}
		if input.Body.AllowInsecureTLS != nil {
			opts.AllowInsecureTLS = *input.Body.AllowInsecureTLS
		}
		if input.Body.WorkspaceRoot != nil {
			opts.WorkspaceRoot = *input.Body.WorkspaceRoot
		}
		g, err := e.CreateGateway(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GatewayResponse `json:"body"`
		}{Body: gatewayResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gateways",
		Method:      http.MethodGet,
		Path:        "/gateways",
		Summary:     "List gateways",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []GatewayResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListGateways(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GatewayResponse `json:"body"`
		}{Body: mapGateways(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-gateway",
		Method:      http.MethodGet,
		Path:        "/gateways/{id}",
		Summary:     "Get gateway",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body GatewayResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		g, err := e.Repo.GetGateway(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GatewayResponse `json:"body"`
		}{Body: gatewayResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-gateway",
		Method:      http.MethodPatch,
		Path:        "/gateways/{id}",
		Summary:     "Update gateway",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateGatewayRequest `json:"body"`
	}) (*struct {
		Body GatewayResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		g, err := e.UpdateGateway(ctx, input.ID, engine.GatewayUpdateOptions{
			Name:             input.Body.Name,
			URL:              input.Body.URL,
			Token:            input.Body.Token,
			AllowInsecureTLS: input.Body.AllowInsecureTLS,
			WorkspaceRoot:    input.Body.WorkspaceRoot,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GatewayResponse `json:"body"`
		}{Body: gatewayResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-gateway",
		Method:      http.MethodDelete,
		Path:        "/gateways/{id}",
		Summary:     "Delete gateway",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := e.DeleteGateway(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "gateway-status",
		Method:      http.MethodGet,
		Path:        "/gateways/{id}/status",
		Summary:     "Probe gateway connectivity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.GatewayStatus `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		g, err := e.Repo.GetGateway(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.GatewayStatus `json:"body"`
		}{Body: e.ProbeGateway(ctx, g)}, nil
	})
}

func registerBoards(api huma.API, e engine.Engine, orgID string) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-board",
		Method:        http.MethodPost,
		Path:          "/boards",
		Summary:       "Create board",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateBoardRequest `json:"body"`
	}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		b, err := e.CreateBoard(ctx, engine.BoardCreateOptions{
			OrgID:     orgID,
			Name:      input.Body.Name,
			GatewayID: stringOrEmpty(input.Body.GatewayID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-boards",
		Method:      http.MethodGet,
		Path:        "/boards",
		Summary:     "List boards",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []BoardResponse `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListBoards(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []BoardResponse `json:"body"`
		}{Body: mapBoards(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/boards/{id}",
		Summary:     "Get board",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		b, err := e.Repo.GetBoard(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-board",
		Method:      http.MethodPatch,
		Path:        "/boards/{id}",
		Summary:     "Update board",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateBoardRequest `json:"body"`
	}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		b, err := e.UpdateBoard(ctx, input.ID, engine.BoardUpdateOptions{
			Name:      input.Body.Name,
			GatewayID: input.Body.GatewayID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-board",
		Method:      http.MethodDelete,
		Path:        "/boards/{id}",
		Summary:     "Delete board",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteBoard(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !actor.IsAdmin() && !actor.IsBoardLead(input.Body.BoardID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins and board leads can create tasks", nil)
		}
		opts := engine.TaskCreateOptions{
			BoardID:     input.Body.BoardID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Status:      stringOrEmpty(input.Body.Status),
			TagIDs:      input.Body.TagIDs,
		}
		if input.Body.AssignedAgentID != nil {
			opts.AssignedAgentID = *input.Body.AssignedAgentID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		BoardID         string `query:"board_id"`
		Status          string `query:"status"`
		AssignedAgentID string `query:"assigned_agent_id"`
		Limit           int    `query:"limit" default:"50"`
		Cursor          string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		if input.Status != "" && !domain.ValidTaskStatus(input.Status) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status filter", map[string]any{"status": input.Status})
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		tasks, err := e.Repo.ListTasks(ctx, input.BoardID, input.Status, input.AssignedAgentID, limit+1, cursorCreated, cursorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: []TaskResponse{}}
		if len(tasks) > limit {
			// Cursor points at the last returned row; the next page filters
			// strictly past it.
			resp.NextCursor = composeCursor(tasks[limit-1].CreatedAt, tasks[limit-1].ID)
			tasks = tasks[:limit]
		}
		resp.Items = mapTasks(tasks)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		ids, err := e.Repo.TaskTagIDs(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		t.TagIDs = ids
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		changeset := authz.Changeset{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			TagIDs:      input.Body.TagIDs,
		}
		if input.Body.AssignedAgentID != nil {
			if *input.Body.AssignedAgentID == "" {
				changeset.ClearAssignee = true
			} else {
				changeset.AssignedAgentID = input.Body.AssignedAgentID
			}
		}
		updated, err := e.UpdateTask(ctx, actor, t, changeset)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.IsAdmin() && !actor.IsBoardLead(t.BoardID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins and board leads can delete tasks", nil)
		}
		if err := e.DeleteTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTags(api huma.API, e engine.Engine, orgID string) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tag",
		Method:        http.MethodPost,
		Path:          "/tags",
		Summary:       "Create tag",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTagRequest `json:"body"`
	}) (*struct {
		Body TagResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		t, err := e.CreateTag(ctx, engine.TagCreateOptions{
			OrgID: orgID,
			Name:  input.Body.Name,
			Color: stringOrEmpty(input.Body.Color),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TagResponse `json:"body"`
		}{Body: tagResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tags",
		Method:      http.MethodGet,
		Path:        "/tags",
		Summary:     "List tags with usage counts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TagResponse `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListTags(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TagResponse `json:"body"`
		}{Body: mapTags(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-tag",
		Method:      http.MethodPatch,
		Path:        "/tags/{id}",
		Summary:     "Update tag",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body UpdateTagRequest `json:"body"`
	}) (*struct {
		Body TagResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		t, err := e.UpdateTag(ctx, input.ID, engine.TagUpdateOptions{
			Name:  input.Body.Name,
			Color: input.Body.Color,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TagResponse `json:"body"`
		}{Body: tagResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-tag",
		Method:      http.MethodDelete,
		Path:        "/tags/{id}",
		Summary:     "Delete tag",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteTag(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Create agent",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		opts := engine.AgentCreateOptions{
			Name:      input.Body.Name,
			BoardID:   stringOrEmpty(input.Body.BoardID),
			GatewayID: stringOrEmpty(input.Body.GatewayID),
			Status:    stringOrEmpty(input.Body.Status),
		}
		if input.Body.IsBoardLead != nil {
			opts.IsBoardLead = *input.Body.IsBoardLead
		}
		a, err := e.CreateAgent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(e.WithEffectiveStatus(a))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, input *struct {
		BoardID string `query:"board_id"`
	}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListAgents(ctx, input.BoardID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AgentResponse, 0, len(items))
		for _, a := range items {
			res = append(res, agentResponse(e.WithEffectiveStatus(a)))
		}
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		a, err := e.Repo.GetAgent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(e.WithEffectiveStatus(a))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{id}",
		Summary:     "Update agent",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		a, err := e.UpdateAgent(ctx, input.ID, engine.AgentUpdateOptions{
			Name:        input.Body.Name,
			Status:      input.Body.Status,
			BoardID:     input.Body.BoardID,
			IsBoardLead: input.Body.IsBoardLead,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(e.WithEffectiveStatus(a))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agent",
		Method:      http.MethodDelete,
		Path:        "/agents/{id}",
		Summary:     "Delete agent",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := e.DeleteAgent(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-heartbeat",
		Method:      http.MethodPost,
		Path:        "/agents/{id}/heartbeat",
		Summary:     "Record agent heartbeat",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body HeartbeatRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		a, err := e.Heartbeat(ctx, input.ID, stringOrEmpty(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(e.WithEffectiveStatus(a))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "heartbeat-by-name",
		Method:      http.MethodPost,
		Path:        "/heartbeats",
		Summary:     "Heartbeat by agent name, creating the agent if unknown",
		Errors: []int{
			http.StatusBadRequest,
		},
	}, func(ctx context.Context, input *struct {
		Body HeartbeatRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		a, err := e.HeartbeatByName(ctx, input.Body.Name, stringOrEmpty(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(e.WithEffectiveStatus(a))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-agent-key",
		Method:        http.MethodPost,
		Path:          "/agents/{id}/keys",
		Summary:       "Issue agent API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CreateAgentKeyRequest `json:"body"`
	}) (*struct {
		Body AgentKeyResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		key, plaintext, err := e.IssueAgentKey(ctx, input.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentKeyResponse `json:"body"`
		}{Body: AgentKeyResponse{
			ID:        key.ID,
			AgentID:   key.AgentID,
			Name:      key.Name,
			Key:       plaintext,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agent-key",
		Method:      http.MethodDelete,
		Path:        "/agent-keys/{id}",
		Summary:     "Revoke agent API key",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := e.RevokeAgentKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerActivity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "List activity feed",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedActivity `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var beforeID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			beforeID = parsed
		}
		items, err := e.Repo.ListActivity(ctx, limit+1, beforeID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedActivity{Items: []ActivityResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, a := range items {
			resp.Items = append(resp.Items, activityResponse(a))
		}
		return &struct {
			Body paginatedActivity `json:"body"`
		}{Body: resp}, nil
	})
}

func registerGatewaySessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-board-sessions",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/sessions",
		Summary:     "List gateway sessions for a board",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []openclaw.Session `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		board, err := e.Repo.GetBoard(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		_, cfg, err := e.RequireGatewayConfigForBoard(ctx, board)
		if err != nil {
			return nil, handleError(err)
		}
		sessions, err := e.NewGateway(cfg).ListSessions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if sessions == nil {
			sessions = []openclaw.Session{}
		}
		return &struct {
			Body []openclaw.Session `json:"body"`
		}{Body: sessions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-history",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/sessions/{key}/history",
		Summary:     "Fetch message history for a board session",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID  string `path:"id"`
		Key string `path:"key"`
	}) (*struct {
		Body SessionHistoryResponse `json:"body"`
	}, error) {
		if _, err := requireActor(ctx); err != nil {
			return nil, err
		}
		board, err := e.Repo.GetBoard(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		_, cfg, err := e.RequireGatewayConfigForBoard(ctx, board)
		if err != nil {
			return nil, handleError(err)
		}
		messages, err := e.NewGateway(cfg).GetHistory(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		if messages == nil {
			messages = []json.RawMessage{}
		}
		return &struct {
			Body SessionHistoryResponse `json:"body"`
		}{Body: SessionHistoryResponse{SessionKey: input.Key, Messages: messages}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-session-message",
		Method:      http.MethodPost,
		Path:        "/boards/{id}/sessions/{key}/message",
		Summary:     "Send a message into a board session",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Key  string                    `path:"key"`
		Body SendSessionMessageRequest `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if strings.TrimSpace(input.Body.Content) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "content is required", nil)
		}
		board, err := e.Repo.GetBoard(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		_, cfg, err := e.RequireGatewayConfigForBoard(ctx, board)
		if err != nil {
			return nil, handleError(err)
		}
		deliver := true
		if input.Body.Deliver != nil {
			deliver = *input.Body.Deliver
		}
		if err := openclaw.SendGatewayAgentMessage(ctx, e.NewGateway(cfg), input.Key, input.Key, input.Body.Content, deliver); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"delivered": deliver, "session_key": input.Key}}, nil
	})
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
