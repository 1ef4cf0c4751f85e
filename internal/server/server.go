package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"demandline/internal/aggregate"
	"demandline/internal/app"
	"demandline/internal/domain"
	"demandline/internal/engine"
	"demandline/internal/events"
	"demandline/internal/report"
	"demandline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Sessions *app.Manager
	BasePath string
	Logger   *slog.Logger
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"demand 3 is completed, cannot complete"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the demand API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("server: session manager required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// request schema errors are client input errors
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer, requestLogger(logger))
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	hcfg := huma.DefaultConfig("Demandline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSessions(group, cfg.Sessions)
	registerDemands(group, cfg.Sessions)
	registerActivity(group, cfg.Sessions)
	registerDashboard(group, cfg.Sessions)
	registerReports(group, cfg.Sessions)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
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
	var ve engine.ValidationError
	var ae engine.AuthorizationError
	var te engine.TransitionError
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		return newAPIError(http.StatusNotFound, "session_not_found", err.Error(), nil)
	case errors.As(err, &ve):
		return newAPIError(http.StatusBadRequest, engine.Reason(err), err.Error(), map[string]any{"field": ve.Field})
	case errors.Is(err, engine.ErrValidation):
		return newAPIError(http.StatusBadRequest, engine.Reason(err), err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownIdentity):
		return newAPIError(http.StatusUnprocessableEntity, engine.Reason(err), err.Error(), nil)
	case errors.As(err, &ae):
		return newAPIError(http.StatusForbidden, engine.Reason(err), err.Error(), map[string]any{"actor_id": ae.ActorID, "action": ae.Action})
	case errors.As(err, &te):
		return newAPIError(http.StatusConflict, engine.Reason(err), err.Error(), map[string]any{"demand_id": te.DemandID, "status": te.From})
	case errors.Is(err, engine.ErrNotFound):
		return newAPIError(http.StatusNotFound, engine.Reason(err), err.Error(), nil)
	case errors.Is(err, report.ErrReportGeneration):
		return newAPIError(http.StatusInternalServerError, "report_generation_failed", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_failed"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "invalid_transition"
	case http.StatusUnprocessableEntity:
		return "unknown_identity"
	case http.StatusForbidden:
		return "not_authorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Demandline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
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

type sessionPath struct {
	SessionID string `path:"session_id"`
}

func registerSessions(api huma.API, m *app.Manager) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Open an isolated session",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, err := m.Open(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{ID: s.ID, CreatedAt: s.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}",
		Summary:       "Close a session and discard its data",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		if err := m.Close(input.SessionID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-identities",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/identities",
		Summary:     "List registered identities",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body []domain.Identity `json:"body"`
	}, error) {
		s, err := m.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Identity `json:"body"`
		}{Body: s.Engine.Registry.Identities()}, nil
	})
}

type demandPath struct {
	SessionID string `path:"session_id"`
	DemandID  int64  `path:"demand_id"`
}

type demandQuery struct {
	SessionID  string `path:"session_id"`
	Status     string `query:"status" doc:"comma separated statuses"`
	Priority   string `query:"priority" doc:"comma separated priorities"`
	Type       string `query:"type" doc:"comma separated demand types"`
	AssigneeID string `query:"assignee_id" doc:"comma separated identity ids"`
	From       string `query:"from" format:"date"`
	To         string `query:"to" format:"date"`
	Order      string `query:"order" enum:"oldest,newest" default:"oldest"`
}

func registerDemands(api huma.API, m *app.Manager) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-demand",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/demands",
		Summary:       "Create demand",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string              `path:"session_id"`
		Body      CreateDemandRequest `json:"body"`
	}) (*struct {
		Body DemandResponse `json:"body"`
	}, error) {
		s, err := m.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		opts, err := createOptions(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		d, err := s.Engine.CreateDemand(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DemandResponse `json:"body"`
		}{Body: demandResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-demands",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/demands",
		Summary:     "List demands",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *demandQuery) (*struct {
		Body []DemandResponse `json:"body"`
	}, error) {
		s, err := m.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := demandFilters(s, input.Status, input.Priority, input.Type, input.AssigneeID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		f.Newest = input.Order == "newest"
		items, err := s.Engine.ListDemands(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DemandResponse `json:"body"`
		}{Body: mapDemands(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-demand",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/demands/{demand_id}",
		Summary:     "Get demand",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *demandPath) (*struct {
		Body DemandResponse `json:"body"`
	}, error) {
		s, err := m.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		d, err := s.Engine.GetDemand(ctx, input.DemandID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DemandResponse `json:"body"`
		}{Body: demandResponse(d)}, nil
	})

	transitions := []struct {
		id, path, summary string
		run               func(engine.Engine, context.Context, int64, string) (domain.Demand, error)
	}{
		{"complete-demand", "complete", "Mark a pending demand completed", engine.Engine.CompleteDemand},
		{"confirm-demand", "confirm", "Leader confirmation of a completed demand", engine.Engine.ConfirmDemand},
	}
	for _, t := range transitions {
		run := t.run
		huma.Register(api, huma.Operation{
			OperationID: t.id,
			Method:      http.MethodPost,
			Path:        "/sessions/{session_id}/demands/{demand_id}/" + t.path,
			Summary:     t.summary,
			Errors: []int{
				http.StatusBadRequest,
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusUnprocessableEntity,
			},
		}, func(ctx context.Context, input *struct {
			SessionID string       `path:"session_id"`
			DemandID  int64        `path:"demand_id"`
			Body      ActorRequest `json:"body"`
		}) (*struct {
			Body DemandResponse `json:"body"`
		}, error) {
			s, err := m.Get(input.SessionID)
			if err != nil {
				return nil, handleError(err)
			}
			d, err := run(s.Engine, ctx, input.DemandID, input.Body.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body DemandResponse `json:"body"`
			}{Body: demandResponse(d)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "pending-confirmation",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/confirmations",
		Summary:     "Completed demands awaiting leader confirmation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body []DemandResponse `json:"body"`
	}, error) {
		s, err := m.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := s.Engine.PendingConfirmation(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DemandResponse `json:"body"`
		}{Body: mapDemands(items)}, nil
	})
}

func registerActivity(api huma.API, m *app.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "activity",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/activity",
		Summary:     "Activity history, most recent first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Actor     string `query:"actor" doc:"comma separated actor names"`
		Type      string `query:"type" doc:"comma separated demand types"`
		DemandID  int64  `query:"demand_id"`
		Limit     int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body []ActivityResponse `json:"body"`
	}, error) {
		s, err := m.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		types, err := parseList(input.Type, domain.ParseDemandType, "type")
		if err != nil {
			return nil, handleError(err)
		}
		items, err := s.Engine.Activity(ctx, events.Filter{
			ActorNames: splitList(input.Actor),
			Types:      types,
			DemandID:   input.DemandID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActivityResponse `json:"body"`
		}{Body: mapActivity(items)}, nil
	})
}

func registerDashboard(api huma.API, m *app.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/dashboard",
		Summary:     "Completion metrics by assignee and type",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID  string `path:"session_id"`
		AssigneeID string `query:"assignee_id"`
		Type       string `query:"type"`
		From       string `query:"from" format:"date"`
		To         string `query:"to" format:"date"`
	}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		s, err := m.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := demandFilters(s, "", "", input.Type, input.AssigneeID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := s.Engine.ListDemands(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		dash := aggregate.Build(items, s.Engine.Registry, f.From, f.To)
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: dashboardResponse(dash)}, nil
	})
}

type reportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func registerReports(api huma.API, m *app.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "report",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/reports",
		Summary:     "Generate a CSV or PDF report",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SessionID  string `path:"session_id"`
		Format     string `query:"format" enum:"csv,pdf" default:"csv"`
		Detail     string `query:"detail" enum:"complete,summary" default:"complete"`
		Status     string `query:"status"`
		AssigneeID string `query:"assignee_id"`
		Type       string `query:"type"`
		From       string `query:"from" format:"date"`
		To         string `query:"to" format:"date"`
	}) (*reportOutput, error) {
		s, err := m.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := demandFilters(s, input.Status, "", input.Type, input.AssigneeID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := s.Engine.ListDemands(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		var names []string
		for _, id := range f.AssigneeIDs {
			ident, _ := s.Engine.Registry.Lookup(id)
			names = append(names, ident.Name)
		}
		rep, err := s.Reports.Generate(report.Request{
			Format:         report.Format(input.Format),
			Detail:         report.Detail(input.Detail),
			Demands:        items,
			AssigneeFilter: names,
			Start:          f.From,
			End:            f.To,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &reportOutput{
			ContentType:        rep.ContentType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", rep.Filename),
			Body:               rep.Payload,
		}, nil
	})
}

func createOptions(req CreateDemandRequest) (engine.DemandCreateOptions, error) {
	opts := engine.DemandCreateOptions{
		Title:      req.Title,
		AssigneeID: req.AssigneeID,
	}
	if req.Description != nil {
		opts.Description = *req.Description
	}
	t, err := domain.ParseDemandType(req.Type)
	if err != nil {
		return opts, engine.ValidationError{Field: "type", Reason: err.Error()}
	}
	opts.Type = t
	if strings.TrimSpace(req.Priority) != "" {
		p, err := domain.ParsePriority(req.Priority)
		if err != nil {
			return opts, engine.ValidationError{Field: "priority", Reason: err.Error()}
		}
		opts.Priority = p
	}
	if req.DueDate == "" {
		return opts, engine.ValidationError{Field: "due_date", Reason: "is required"}
	}
	due, err := parseDate("due_date", req.DueDate)
	if err != nil {
		return opts, err
	}
	opts.DueDate = *due
	return opts, nil
}

// demandFilters turns raw query values into repository filters. Unknown
// assignee ids are rejected rather than silently matching nothing.
func demandFilters(s *app.Session, status, priority, types, assignees, from, to string) (repo.DemandFilters, error) {
	var f repo.DemandFilters
	var err error
	if f.Statuses, err = parseList(status, domain.ParseStatus, "status"); err != nil {
		return f, err
	}
	if f.Priorities, err = parseList(priority, domain.ParsePriority, "priority"); err != nil {
		return f, err
	}
	if f.Types, err = parseList(types, domain.ParseDemandType, "type"); err != nil {
		return f, err
	}
	for _, id := range splitList(assignees) {
		if _, err := s.Engine.Registry.Lookup(id); err != nil {
			return f, err
		}
		f.AssigneeIDs = append(f.AssigneeIDs, id)
	}
	if from != "" {
		if f.From, err = parseDate("from", from); err != nil {
			return f, err
		}
	}
	if to != "" {
		if f.To, err = parseDate("to", to); err != nil {
			return f, err
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, engine.ValidationError{Field: "to", Reason: "is before from"}
	}
	return f, nil
}

func parseDate(field, s string) (*time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil, engine.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return &t, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseList[T any](raw string, parse func(string) (T, error), field string) ([]T, error) {
	var out []T
	for _, part := range splitList(raw) {
		v, err := parse(part)
		if err != nil {
			return nil, engine.ValidationError{Field: field, Reason: err.Error()}
		}
		out = append(out, v)
	}
	return out, nil
}
