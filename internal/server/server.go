package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"casework/internal/domain"
	"casework/internal/engine"
	"casework/internal/logging"
	"casework/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"case C9: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"case_id\":\"C9\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the casework API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := logging.OrNop(cfg.Logger)
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Casework API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerOrganisations(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerSentMessages(group, cfg.Engine)
	registerReplies(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// requestLogger tags each request with an id and logs its outcome.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-Id")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", reqID)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			fields := []zap.Field{
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Error("request failed", fields...)
				return
			}
			log.Debug("request", fields...)
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "parse"):
		return newAPIError(http.StatusUnprocessableEntity, "unreadable_data", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", Store: e.Config.Store.Driver}}, nil
	})
}

func registerOrganisations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-organisations",
		Method:      http.MethodGet,
		Path:        "/organisations",
		Summary:     "List organisations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OrganisationListResponse `json:"body"`
	}, error) {
		orgs, err := e.Store.ListOrganisations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrganisationListResponse `json:"body"`
		}{Body: OrganisationListResponse{Items: nonNilSlice(orgs)}}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases in store order",
	}, func(ctx context.Context, input *struct {
		RNNumber string `query:"rn_number"`
		CaseType string `query:"case_type"`
		Status   string `query:"status"`
	}) (*struct {
		Body CaseListResponse `json:"body"`
	}, error) {
		cases, err := e.Store.ListCases(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := []domain.Case{}
		for _, c := range cases {
			if input.RNNumber != "" && c.RNNumber != input.RNNumber {
				continue
			}
			if input.CaseType != "" && c.CaseType != input.CaseType {
				continue
			}
			if input.Status != "" && c.Status != input.Status {
				continue
			}
			items = append(items, c)
		}
		return &struct {
			Body CaseListResponse `json:"body"`
		}{Body: CaseListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		c, err := e.Store.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case-tasks",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/tasks",
		Summary:     "Workflow of a case with its seeded progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body engine.CaseTasks `json:"body"`
	}, error) {
		view, err := e.CaseTasks(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CaseTasks `json:"body"`
		}{Body: view}, nil
	})
}

// registerRuns exposes the data utilities: backfill, seeding and demo
// reassignment.
func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "backfill",
		Method:      http.MethodPost,
		Path:        "/backfill",
		Summary:     "Fill in missing registration numbers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BackfillResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.Backfill(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		rep.Names = nonNilSlice(rep.Names)
		return &struct {
			Body BackfillResponse `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "seed",
		Method:      http.MethodPost,
		Path:        "/seed",
		Summary:     "Regenerate seeded task data",
	}, func(ctx context.Context, input *struct {
		Body *SeedRequest `json:"body" required:"false"`
	}) (*struct {
		Body SeedResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.SeedOptions{ActorID: p.ActorID}
		if input.Body != nil {
			opts.Seed = input.Body.Seed
		}
		res, err := e.GenerateTaskData(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeedResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "demo-reassign",
		Method:      http.MethodPost,
		Path:        "/demo/reassign",
		Summary:     "Reassign cases to the demo organisation",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReassignResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ids, err := e.ReassignDemoCases(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReassignResponse `json:"body"`
		}{Body: ReassignResponse{RNNumber: e.Config.Demo.Organisation.RNNumber, CaseIDs: nonNilSlice(ids)}}, nil
	})
}

// registerSentMessages manages the caller's session-local sent messages.
func registerSentMessages(api huma.API, e engine.Engine) {
	type casePath struct {
		CaseID string `path:"case_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-sent-messages",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/sent-messages",
		Summary:     "Sent messages stored in the caller's session",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body SentMessagesBody `json:"body"`
	}, error) {
		p, authErr := sessionFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msgs, err := e.SentMessages(ctx, p.SessionID, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SentMessagesBody `json:"body"`
		}{Body: SentMessagesBody{Items: msgs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-sent-messages",
		Method:      http.MethodPut,
		Path:        "/cases/{case_id}/sent-messages",
		Summary:     "Replace the caller's sent messages for a case",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		CaseID string           `path:"case_id"`
		Body   SentMessagesBody `json:"body"`
	}) (*struct {
		Body SentMessagesBody `json:"body"`
	}, error) {
		p, authErr := sessionFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.PutSentMessages(ctx, p.SessionID, input.CaseID, input.Body.Items); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SentMessagesBody `json:"body"`
		}{Body: SentMessagesBody{Items: nonNilSlice(input.Body.Items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-sent-messages",
		Method:        http.MethodDelete,
		Path:          "/cases/{case_id}/sent-messages",
		Summary:       "Forget the caller's sent messages for a case",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *casePath) (*struct{}, error) {
		p, authErr := sessionFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSentMessages(ctx, p.SessionID, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerReplies(api huma.API, e engine.Engine) {
	type replyPath struct {
		RNNumber  string `path:"rn"`
		MessageID string `path:"message_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "resolve-reply",
		Method:      http.MethodGet,
		Path:        "/organisations/{rn}/messages/{message_id}/reply",
		Summary:     "Resolve where a message reply link lands",
	}, func(ctx context.Context, input *replyPath) (*struct {
		Body ReplyTargetResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target, err := e.ResolveReply(ctx, input.RNNumber, input.MessageID, p.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReplyTargetResponse `json:"body"`
		}{Body: target}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "follow-reply",
		Method:        http.MethodGet,
		Path:          "/r/{rn}/{message_id}",
		Summary:       "Redirect a message reply link",
		DefaultStatus: http.StatusFound,
	}, func(ctx context.Context, input *replyPath) (*struct {
		Location string `header:"Location"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target, err := e.ResolveReply(ctx, input.RNNumber, input.MessageID, p.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Location string `header:"Location"`
		}{Location: target.Path}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, cursorID, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a session token for local testing",
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
		now := time.Now()
		if e.Now != nil {
			now = e.Now()
		}
		ttl := authCfg.TokenTTL
		if ttl <= 0 {
			ttl = DefaultTokenTTL
		}
		token, sid, err := SignToken(authCfg.JWTSecret, actor, strings.TrimSpace(input.Body.SessionID), ttl, now)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{
			Token:     token,
			SessionID: sid,
			ExpiresAt: now.Add(ttl).UTC().Format(time.RFC3339),
		}}, nil
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
