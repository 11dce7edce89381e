// Package api serves the sync triggers, job status and notifications over a
// JSON HTTP API. Callers identify the user in the path; authentication is
// left to whatever sits in front of the server.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/status"
)

// Syncs starts sync jobs.
type Syncs interface {
	StartSync(ctx context.Context, kind string, userID int64, params any) (string, error)
}

// Statuses answers job status queries.
type Statuses interface {
	Get(ctx context.Context, id string) (*status.View, error)
	Summary(ctx context.Context, id string) (*status.Summary, error)
	Cancel(ctx context.Context, id string, terminate bool) (*status.CancelResult, error)
	ListActive(userID int64) []jobs.RunningJob
}

// Notifications is the notification part of the store.
type Notifications interface {
	ListUnreadNotifications(userID int64) ([]models.Notification, error)
	CountUnreadNotifications(userID int64) (int64, error)
	MarkNotificationRead(userID int64, id string) (*models.Notification, error)
	MarkNotificationDismissed(userID int64, id string) (*models.Notification, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Syncs         Syncs
	Status        Statuses
	Notifications Notifications

	// Workers is reported by /healthz.
	Workers     int
	CORSOrigins []string
	Metrics     http.Handler
}

type handler struct {
	deps Deps
	now  func() time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	h := &handler{deps: deps, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", deps.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/sync/full", h.startFull)
			r.Post("/sync/quick", h.startQuick)
			r.Post("/sync/specific", h.startSpecific)
			r.Get("/tasks", h.activeTasks)

			r.Get("/notifications/unread", h.unreadNotifications)
			r.Get("/notifications/count", h.notificationCount)
			r.Post("/notifications/{notificationID}/read", h.markRead)
			r.Post("/notifications/{notificationID}/dismiss", h.dismiss)
		})

		r.Route("/tasks/{jobID}", func(r chi.Router) {
			r.Get("/", h.taskStatus)
			r.Get("/summary", h.taskSummary)
			r.Post("/cancel", h.cancelTask)
		})
	})

	return r
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Workers   int       `json:"workers"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Workers:   h.deps.Workers,
	})
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func renderError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	render.Status(r, code)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}

func userID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
