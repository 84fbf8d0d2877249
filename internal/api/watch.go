package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/carewatch/internal/signals"
	"github.com/kalambet/carewatch/internal/storage"
	"github.com/kalambet/carewatch/internal/watch"
)

func handleWatchState(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scenario := watch.ParseScenario(r.URL.Query().Get("scenario"))
		resp, err := deps.Watch.State(r.Context(), scenario)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build watch state: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleAssess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Omitted readings keep their neutral values.
		s := signals.Neutral(deps.SleepTarget)
		if !decodeBody(w, r, maxRequestBodySize, &s) {
			return
		}
		if s.Warnings == nil {
			s.Warnings = []string{}
		}
		if s.TemperatureC < -50 || s.TemperatureC > 60 || s.HumidityPct < 0 || s.HumidityPct > 100 ||
			s.HeartRate < 0 || s.SleepHours < 0 || s.SleepHours > 24 || s.Steps < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "signals out of range")
			return
		}
		resp, err := deps.Watch.Assess(r.Context(), s)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to assess signals: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type routeRecord struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UserID      string          `json:"user_id"`
	Scenario    string          `json:"scenario"`
	RiskLevel   string          `json:"risk_level"`
	Score       float64         `json:"score"`
	Route       string          `json:"route"`
	Message     string          `json:"message"`
	ReminderIDs json.RawMessage `json:"reminder_ids"`
	Signals     json.RawMessage `json:"signals"`
}

func newRouteRecord(r storage.RouteRecord) routeRecord {
	return routeRecord{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		UserID:      r.SubjectID,
		Scenario:    r.Scenario,
		RiskLevel:   r.Level,
		Score:       r.Score,
		Route:       r.Route,
		Message:     r.Message,
		ReminderIDs: json.RawMessage(r.ReminderIDs),
		Signals:     json.RawMessage(r.Signals),
	}
}

func handleListRoutes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)
		offset := parseIntParam(r, "offset", 0, 0)

		records, err := deps.Store.ListRouteRecords(r.Context(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list routes: %v", err)
			return
		}
		out := make([]routeRecord, len(records))
		for i, rec := range records {
			out[i] = newRouteRecord(rec)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetRoute(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := deps.Store.GetRouteRecord(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "route %q not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get route: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newRouteRecord(rec))
	}
}
