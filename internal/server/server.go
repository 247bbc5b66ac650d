// Package server exposes the HTTP control surface: queue inspection, skip
// and clear commands, manual donation injection, and the live status stream.
package server

import (
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"drawstream/internal/domain"
	"drawstream/internal/queue"
	"drawstream/internal/renderer"
	"drawstream/internal/status"
)

// Pipeline is the control-surface view of the running application.
type Pipeline interface {
	Status() renderer.Snapshot
	Skip()
	Clear() int
	Inject(event domain.DonationEvent) error
	Events() (<-chan status.Event, func())
	Frame() *image.RGBA
}

// Config for the HTTP API handler.
type Config struct {
	Pipeline  Pipeline
	JWTSecret string
	Log       *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"queue_full"`
	Message string         `json:"message" example:"queue is at capacity"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

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

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

// New returns an HTTP handler exposing the control API.
func New(cfg Config) (http.Handler, error) {
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
	router.Use(newAuthMiddleware(cfg.JWTSecret))
	hcfg := huma.DefaultConfig("Drawstream API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)

	registerHealth(api)
	registerQueue(api, cfg.Pipeline)
	registerCommands(api, cfg.Pipeline)
	registerEvents(api, cfg.Pipeline)
	registerFrame(router, cfg.Pipeline)

	return router, nil
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

func registerQueue(api huma.API, p Pipeline) {
	huma.Register(api, huma.Operation{
		OperationID: "queue-status",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Queue and renderer status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body QueueStatusBody `json:"body"`
	}, error) {
		return &struct {
			Body QueueStatusBody `json:"body"`
		}{Body: queueStatusBody(p.Status())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-skip",
		Method:      http.MethodPost,
		Path:        "/queue/skip",
		Summary:     "Skip the active drawing",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SkipBody `json:"body"`
	}, error) {
		p.Skip()
		return &struct {
			Body SkipBody `json:"body"`
		}{Body: SkipBody{Status: "ok"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-clear",
		Method:      http.MethodPost,
		Path:        "/queue/clear",
		Summary:     "Drop all pending donations",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ClearBody `json:"body"`
	}, error) {
		return &struct {
			Body ClearBody `json:"body"`
		}{Body: ClearBody{Removed: p.Clear()}}, nil
	})
}

func registerCommands(api huma.API, p Pipeline) {
	huma.Register(api, huma.Operation{
		OperationID:   "donate",
		Method:        http.MethodPost,
		Path:          "/commands/donate",
		Summary:       "Inject a manual donation",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body DonateRequest `json:"body"`
	}) (*struct {
		Body DonateBody `json:"body"`
	}, error) {
		event, err := manualEvent(input.Body)
		if err != nil {
			return nil, err
		}
		if err := p.Inject(event); err != nil {
			if errors.Is(err, queue.ErrCapacityExceeded) {
				return nil, newAPIError(http.StatusConflict, "queue_full", "queue is at capacity", nil)
			}
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DonateBody `json:"body"`
		}{Body: DonateBody{ID: event.ID, Status: "accepted"}}, nil
	})
}

var timeNow = func() time.Time { return time.Now().UTC() }

func manualEvent(req DonateRequest) (domain.DonationEvent, huma.StatusError) {
	if strings.TrimSpace(req.Message) == "" {
		return domain.DonationEvent{}, newAPIError(http.StatusBadRequest, "bad_request", "message is required", nil)
	}
	amount := decimal.Zero
	if req.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil || amount.IsNegative() {
			return domain.DonationEvent{}, newAPIError(http.StatusBadRequest, "bad_request", "amount must be a non-negative number", map[string]any{"amount": req.Amount})
		}
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	return domain.DonationEvent{
		ID:        uuid.New().String(),
		Donor:     req.Donor,
		Message:   req.Message,
		Amount:    amount,
		Currency:  currency,
		Timestamp: timeNow(),
	}, nil
}

func registerFrame(r chi.Router, p Pipeline) {
	r.Get("/frame", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := png.Encode(w, p.Frame()); err != nil {
			// headers are gone; nothing left to do but drop the connection
			return
		}
	})
}
