package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"jobflow/internal/config"
	"jobflow/internal/inventory"
	"jobflow/internal/lifecycle"
	"jobflow/internal/models"
	"jobflow/internal/notify"
	"jobflow/internal/prepress"
	"jobflow/internal/ratelimit"
	"jobflow/internal/realtime"
	"jobflow/internal/telemetry"
)

const (
	headerActor = "X-Actor-ID"
	headerRole  = "X-Actor-Role"
)

// Core groups the workflow components the HTTP adapter calls into.
type Core struct {
	Lifecycle *lifecycle.Orchestrator
	Prepress  *prepress.Manager
	Inventory *inventory.Manager
	Notify    *notify.Dispatcher
	Hub       *realtime.Hub
}

// Server wires HTTP handlers over the workflow core. Handlers decode input,
// call one core operation and map typed failures to status codes.
type Server struct {
	cfg      config.Config
	core     Core
	limiter  ratelimit.Allower
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New constructs the API server. limiter may be nil.
func New(cfg config.Config, core Core, limiter ratelimit.Allower, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		core:    core,
		limiter: limiter,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())
	r.Get("/ws", s.handleWebsocket)

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(s.limiter, actorOf, s.logger))

		r.Route("/lifecycles", func(r chi.Router) {
			r.Post("/", s.handleCreateLifecycle)
			r.Get("/", s.handleListLifecycles)
			r.Route("/{jobRef}", func(r chi.Router) {
				r.Get("/", s.handleGetLifecycle)
				r.Get("/history", s.handleHistory)
				r.Post("/prepress", s.handleAssignPrepress)
				r.Post("/{dept}/assign", s.handleAssign)
				r.Post("/{dept}/updates", s.handleRecordUpdate)
				r.Post("/complete", s.handleComplete)
				r.Post("/hold", s.handleHold)
				r.Post("/resume", s.handleResume)
				r.Post("/cancel", s.handleCancel)
			})
		})
		r.Get("/dashboard", s.handleDashboard)

		r.Route("/prepress/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreatePrepressJob)
			r.Get("/{id}", s.handleGetPrepressJob)
			r.Post("/{id}/designer", s.handleAssignDesigner)
			r.Post("/{id}/categories", s.handleUpdateCategories)
			r.Post("/{id}/status", s.handlePrepressStatus)
			r.Get("/{id}/activities", s.handlePrepressActivities)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Post("/jobs", s.handleCreateInventoryJob)
			r.Get("/jobs/{id}", s.handleGetInventoryJob)
			r.Post("/jobs/{id}/status", s.handleInventoryStatus)
			r.Post("/jobs/{id}/requests", s.handleCreateRequest)
			r.Get("/jobs/{id}/requests", s.handleListRequests)
			r.Get("/jobs/{id}/activities", s.handleInventoryActivities)
			r.Post("/requests/{id}/approve", s.handleApproveRequest)
			r.Post("/requests/{id}/issue", s.handleIssueMaterials)
			r.Post("/requests/{id}/procurement/start", s.handleStartProcurement)
			r.Post("/requests/{id}/procurement/complete", s.handleCompleteProcurement)
		})

		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications/{id}/read", s.handleMarkRead)
		r.Post("/alerts/{kind}", s.handleAlert)
	})
	return r
}

func actorOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerActor))
}

// requireActor reports a validation failure when the actor header is missing.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := actorOf(r)
	if actor == "" {
		writeError(w, models.Validation("actor", headerActor+" header is required"))
		return "", false
	}
	return actor, true
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, models.Validation("decode", "invalid json: "+err.Error()))
	return false
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, models.Validation("query", key+" must be a non-negative integer")
	}
	return n, nil
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindInvalidTransition, models.KindConflict:
		return http.StatusConflict
	case models.KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string      `json:"error"`
	Kind  models.Kind `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	var me *models.Error
	if errors.As(err, &me) && me.Msg != "" {
		msg = me.Msg
	}
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg, Kind: models.KindOf(err)})
}

// fail logs server-side failures before writing the response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, err)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
