package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"lockerline/internal/config"
	"lockerline/internal/domain"
	"lockerline/internal/engine"
	"lockerline/internal/projection"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Webhooks []config.WebhookConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"reservation not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Lockerline API. Schema
// validation happens here: a structurally invalid event never reaches the
// engine.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
			// Malformed requests are 400 bad_request, not 422
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Lockerline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerIngest(group, cfg.Engine)
	registerLockers(group, cfg.Engine)
	registerReservations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerReplay(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine, cfg.Webhooks)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, projection.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
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

func registerIngest(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Ingest a domain event",
		Description:   "Appends the event to the log and folds it into the projection. Re-submitting a known event_id is a harmless no-op.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body IngestEventRequest `json:"body"`
	}) (*IngestEventOutput, error) {
		accepted, err := e.Ingest(ctx, input.Body.Event())
		if err != nil {
			return nil, handleError(err)
		}
		out := &IngestEventOutput{Status: http.StatusCreated}
		out.Body = IngestEventResponse{
			EventID:  input.Body.EventID,
			Accepted: accepted,
		}
		if !accepted {
			// Duplicate: success without mutation
			out.Status = http.StatusOK
		}
		return out, nil
	})
}

func registerLockers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-locker-summary",
		Method:      http.MethodGet,
		Path:        "/lockers/{locker_id}",
		Summary:     "Locker summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		LockerID string `path:"locker_id"`
	}) (*struct {
		Body domain.LockerSummary `json:"body"`
	}, error) {
		summary, err := e.LockerSummary(ctx, input.LockerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LockerSummary `json:"body"`
		}{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-compartment-status",
		Method:      http.MethodGet,
		Path:        "/lockers/{locker_id}/compartments/{compartment_id}",
		Summary:     "Compartment status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		LockerID      string `path:"locker_id"`
		CompartmentID string `path:"compartment_id"`
	}) (*struct {
		Body domain.CompartmentStatus `json:"body"`
	}, error) {
		status, err := e.CompartmentStatus(ctx, input.CompartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CompartmentStatus `json:"body"`
		}{Body: status}, nil
	})
}

func registerReservations(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-reservation-status",
		Method:      http.MethodGet,
		Path:        "/reservations/{reservation_id}",
		Summary:     "Reservation status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReservationID string `path:"reservation_id"`
	}) (*struct {
		Body domain.ReservationStatus `json:"body"`
	}, error) {
		status, err := e.ReservationStatus(ctx, input.ReservationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReservationStatus `json:"body"`
		}{Body: status}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Description: "Tails the append-only log. Ineffective events appear here too; the log records what was submitted, not just what took effect.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit    int    `query:"limit" default:"50" minimum:"1" maximum:"1000"`
		LockerID string `query:"locker_id"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		events, err := e.RecentEvents(ctx, input.Limit, input.LockerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Items: eventItems(events)}}, nil
	})
}

func registerReplay(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-replay",
		Method:      http.MethodGet,
		Path:        "/replay",
		Summary:     "Verify replay consistency",
		Description: "Rebuilds a projection from the full log and checks every locker's state hash against the live projection.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.ReplayReport `json:"body"`
	}, error) {
		report, err := e.VerifyReplay(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReplayReport `json:"body"`
		}{Body: report}, nil
	})
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
			ensureDefaultErrorResponses(oas)
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Lockerline API Docs</title>
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
  </body>
</html>`, specURL)
}
