// Package api exposes carewatch over HTTP, a websocket event stream and MCP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/carewatch/internal/metrics"
	"github.com/kalambet/carewatch/internal/profile"
	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/risk"
	"github.com/kalambet/carewatch/internal/storage"
	"github.com/kalambet/carewatch/internal/watch"
)

// ReminderService is implemented by *reminders.Store.
type ReminderService interface {
	Create(ctx context.Context, spec reminders.Spec, origin reminders.Origin) (reminders.Reminder, error)
	UpdateStatus(ctx context.Context, id int64, status reminders.Status, origin reminders.Origin) (reminders.Transition, error)
	Get(ctx context.Context, id int64) (reminders.Reminder, error)
	List(ctx context.Context, f reminders.Filter) ([]reminders.Reminder, error)
}

// WatchService is implemented by *watch.Service.
type WatchService interface {
	State(ctx context.Context, scenario watch.Scenario) (watch.Response, error)
	Assess(ctx context.Context, s risk.Signals) (watch.Response, error)
}

// CareStore is the part of *storage.Store the API reads and writes directly.
type CareStore interface {
	ListCareEvents(ctx context.Context, f storage.CareEventFilter) ([]storage.CareEvent, error)
	ListRouteRecords(ctx context.Context, limit, offset int) ([]storage.RouteRecord, error)
	GetRouteRecord(ctx context.Context, id string) (storage.RouteRecord, error)
	SaveKnowledgeDoc(ctx context.Context, doc storage.KnowledgeDoc) error
	ListKnowledgeDocs(ctx context.Context, limit, offset int) ([]storage.KnowledgeDoc, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// ProfileService is implemented by *profile.Manager.
type ProfileService interface {
	GetProfile() (profile.Profile, error)
	SetField(key string, value any) error
}

type AppDeps struct {
	Reminders ReminderService
	Watch     WatchService
	Store     CareStore
	Profile   ProfileService
	Hub       *Hub // optional; /api/stream is not mounted without it
	Metrics   *metrics.Metrics
	Token     string
	// SubjectID is used for reminders created without one.
	SubjectID string
	// SleepTarget stands in for an omitted sleep reading on /api/assess.
	SleepTarget float64
	CORSOrigins []string
}

func NewAppHandler(deps AppDeps) http.Handler {
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/watch_state", handleWatchState(deps))
		r.Post("/assess", handleAssess(deps))
		r.Get("/routes", handleListRoutes(deps))
		r.Get("/routes/{id}", handleGetRoute(deps))

		r.Get("/reminders", handleListReminders(deps))
		r.Post("/reminders", handleCreateReminder(deps))
		r.Get("/reminders/{id}", handleGetReminder(deps))
		r.Post("/reminders/{id}/complete", handleSetReminderStatus(deps, reminders.StatusCompleted))
		r.Post("/reminders/{id}/ignore", handleSetReminderStatus(deps, reminders.StatusIgnored))

		r.Get("/events", handleListEvents(deps))
		if deps.Hub != nil {
			r.Get("/stream", deps.Hub.ServeHTTP)
		}

		r.Get("/knowledge", handleListKnowledge(deps))
		r.Post("/knowledge", handleAddKnowledge(deps))
		r.Get("/profile", handleGetProfile(deps))
		r.Patch("/profile", handlePatchProfile(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
