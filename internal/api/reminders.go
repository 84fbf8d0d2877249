package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/carewatch/internal/reminders"
)

type createReminderRequest struct {
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	Severity   string    `json:"severity"`
	DueTime    time.Time `json:"due_time"`
	DueIn      int       `json:"due_in_minutes"`
	RepeatRule string    `json:"repeat_rule"`
	Tags       []string  `json:"tags"`
}

// spec resolves defaults: the configured subject, low severity and, when
// neither due_time nor due_in_minutes is set, now.
func (req createReminderRequest) spec(subjectID string, now time.Time) reminders.Spec {
	if req.UserID != "" {
		subjectID = req.UserID
	}
	severity := reminders.Severity(req.Severity)
	if req.Severity == "" {
		severity = reminders.SeverityLow
	}
	due := req.DueTime
	if due.IsZero() {
		due = now.Add(time.Duration(req.DueIn) * time.Minute)
	}
	return reminders.Spec{
		SubjectID:  subjectID,
		Content:    req.Content,
		Severity:   severity,
		DueAt:      due.UTC(),
		RepeatRule: req.RepeatRule,
		Tags:       req.Tags,
	}
}

type transitionResponse struct {
	Reminder reminders.Reminder `json:"reminder"`
	Changed  bool               `json:"changed"`
	From     reminders.Status   `json:"from,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

func handleListReminders(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := reminders.Filter{
			SubjectID: r.URL.Query().Get("subject"),
			Limit:     parseIntParam(r, "limit", 50, 500),
			Offset:    parseIntParam(r, "offset", 0, 0),
		}
		if s := r.URL.Query().Get("status"); s != "" {
			status, err := reminders.ParseStatus(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			f.Status = status
		}

		list, err := deps.Reminders.List(r.Context(), f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list reminders: %v", err)
			return
		}
		if list == nil {
			list = []reminders.Reminder{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetReminder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reminderID(w, r)
		if !ok {
			return
		}
		rem, err := deps.Reminders.Get(r.Context(), id)
		if errors.Is(err, reminders.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "reminder %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get reminder: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rem)
	}
}

func handleCreateReminder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createReminderRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		rem, err := deps.Reminders.Create(r.Context(), req.spec(deps.SubjectID, time.Now()), reminders.OriginLocal)
		if errors.Is(err, reminders.ErrInvalidReminder) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create reminder: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, rem)
	}
}

// handleSetReminderStatus acknowledges a reminder. A request that would not
// advance it answers 200 with changed=false.
func handleSetReminderStatus(deps AppDeps, status reminders.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reminderID(w, r)
		if !ok {
			return
		}
		tr, err := deps.Reminders.UpdateStatus(r.Context(), id, status, reminders.OriginLocal)
		if errors.Is(err, reminders.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "reminder %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update reminder: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newTransitionResponse(tr))
	}
}

func newTransitionResponse(tr reminders.Transition) transitionResponse {
	resp := transitionResponse{Reminder: tr.Reminder, Changed: tr.Changed, From: tr.From}
	if tr.Reason != nil {
		resp.Reason = tr.Reason.Error()
	}
	return resp
}

func reminderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid reminder id %q", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}
